package zerolog_config

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.elastic.co/ecszerolog"
)

var appPrefix string
var setAppPrefixOnce *sync.Once = &sync.Once{}
var startupLoggerOnce *sync.Once = &sync.Once{}

// ElasticsearchWriter sends logs directly to Elasticsearch
type ElasticsearchWriter struct {
	URL    string
	Client *http.Client
}

func (ew ElasticsearchWriter) Write(p []byte) (n int, err error) {
	client := ew.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Post(
		ew.URL+"/_doc",
		"application/json",
		bytes.NewBuffer(p),
	)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("elasticsearch returned %d", resp.StatusCode)
	}

	return len(p), nil
}

// ParseLevel maps a level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func startupLoggerWithEnv(elasticsearchURL, subAddress, level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	if elasticsearchURL == "" {
		log.Logger = zerolog.New(consoleWriter).With().Str("app", appPrefix).
			Timestamp().Logger()
		return
	}

	// ECS format for Elasticsearch
	ecsLogger := ecszerolog.New(&ElasticsearchWriter{
		URL:    elasticsearchURL + "/" + subAddress,
		Client: &http.Client{Timeout: 5 * time.Second},
	})

	multi := zerolog.MultiLevelWriter(
		ecsLogger,
		consoleWriter,
	)

	log.Logger = zerolog.New(multi).With().Str("app", appPrefix).
		Timestamp().Logger()
}

// SetAppPrefix sets the app prefix
func SetAppPrefix(subAddress string) {
	setAppPrefixOnce.Do(func() {
		appPrefix = subAddress
	})
}

// StartupWithEnv sets up the global logger. Logs go to the console and,
// when elasticsearchURL is set, to the subAddress index in ECS format.
// Run SetAppPrefix before StartupWithEnv.
func StartupWithEnv(elasticsearchURL, subAddress, level string) error {
	if subAddress == "" {
		return fmt.Errorf("subAddress is required")
	}
	startupLoggerOnce.Do(func() {
		startupLoggerWithEnv(elasticsearchURL, subAddress, level)
	})
	return nil
}
