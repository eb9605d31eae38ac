package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// MetricsManager is a singleton that owns the Prometheus registry
type MetricsManager struct {
	systemCPUUsage    *prometheus.GaugeVec
	systemMemoryUsage *prometheus.GaugeVec
	processRSS        prometheus.Gauge
	processStartTime  prometheus.Gauge
	goGoroutines      prometheus.Gauge
	goHeapAlloc       prometheus.Gauge

	registry *prometheus.Registry

	initialized bool
	mu          sync.RWMutex
}

var (
	instance *MetricsManager
	once     sync.Once
)

// GetInstance returns the singleton instance of MetricsManager
func GetInstance() *MetricsManager {
	once.Do(func() {
		instance = &MetricsManager{
			registry: prometheus.NewRegistry(),
		}
	})
	return instance
}

// GetRegistry returns the registry served on /metrics
func GetRegistry() *prometheus.Registry {
	return GetInstance().registry
}

// InitializeSystemMetrics registers the system gauges (thread-safe)
func (mm *MetricsManager) InitializeSystemMetrics() {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if mm.initialized {
		return
	}

	mm.systemCPUUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "system_cpu_usage_percent",
			Help: "Current CPU usage percentage",
		},
		[]string{"core"},
	)

	mm.systemMemoryUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "system_memory_usage_bytes",
			Help: "Current memory usage in bytes",
		},
		[]string{"type"},
	)

	mm.processRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reviewbot_resident_memory_bytes",
			Help: "Resident memory of the bot process in bytes",
		},
	)

	mm.processStartTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reviewbot_start_time_seconds",
			Help: "Start time of the bot since unix epoch in seconds",
		},
	)

	mm.goGoroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reviewbot_goroutines",
			Help: "Number of goroutines, one per live review plus fixed overhead",
		},
	)

	mm.goHeapAlloc = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reviewbot_heap_alloc_bytes",
			Help: "Heap memory usage in bytes",
		},
	)

	mm.registry.MustRegister(
		mm.systemCPUUsage,
		mm.systemMemoryUsage,
		mm.processRSS,
		mm.processStartTime,
		mm.goGoroutines,
		mm.goHeapAlloc,
	)

	mm.processStartTime.Set(float64(time.Now().Unix()))
	mm.initialized = true
}

// StartSystemMetrics samples system metrics on schedule until ctx is done.
// schedule is a cron expression such as "@every 15s".
func StartSystemMetrics(ctx context.Context, schedule string) error {
	mm := GetInstance()
	mm.InitializeSystemMetrics()

	c := cron.New()
	if _, err := c.AddFunc(schedule, mm.collect); err != nil {
		return fmt.Errorf("invalid metrics schedule %q: %w", schedule, err)
	}
	c.Start()
	log.Info().Str("schedule", schedule).Msg("System metrics sampling started")

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		log.Info().Msg("System metrics sampling stopped")
	}()
	return nil
}

func (mm *MetricsManager) collect() {
	mm.collectSystemMetrics()
	mm.collectRuntimeMetrics()
}

// collectSystemMetrics collects host and process metrics
func (mm *MetricsManager) collectSystemMetrics() {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	if !mm.initialized {
		return
	}

	if cpuPercentages, err := cpu.Percent(0, true); err == nil {
		for i, percentage := range cpuPercentages {
			mm.systemCPUUsage.WithLabelValues(fmt.Sprintf("cpu%d", i)).Set(percentage)
		}
	}

	if vmstat, err := mem.VirtualMemory(); err == nil {
		mm.systemMemoryUsage.WithLabelValues("total").Set(float64(vmstat.Total))
		mm.systemMemoryUsage.WithLabelValues("available").Set(float64(vmstat.Available))
		mm.systemMemoryUsage.WithLabelValues("used").Set(float64(vmstat.Used))
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := p.MemoryInfo(); err == nil {
			mm.processRSS.Set(float64(info.RSS))
		}
	}
}

func (mm *MetricsManager) collectRuntimeMetrics() {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	if !mm.initialized {
		return
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.goGoroutines.Set(float64(runtime.NumGoroutine()))
	mm.goHeapAlloc.Set(float64(m.HeapAlloc))
}
