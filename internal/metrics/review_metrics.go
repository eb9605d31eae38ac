package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reviewMetricsOnce sync.Once

	reviewsSubmitted    *prometheus.CounterVec
	reviewReactions     *prometheus.CounterVec
	reviewsApproved     prometheus.Counter
	reviewsRejected     prometheus.Counter
	rejectionsCancelled prometheus.Counter
	reviewPublish       *prometheus.CounterVec
	reviewsLive         prometheus.Gauge
)

func initializeReviewMetrics() {
	reviewMetricsOnce.Do(func() {
		factory := promauto.With(GetInstance().registry)

		reviewsSubmitted = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviews_submitted_total",
				Help: "Total number of review submissions",
			},
			[]string{"result"}, // "created", "invalid", "error"
		)

		reviewReactions = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "review_reactions_total",
				Help: "Total number of reviewer reactions on status messages",
			},
			[]string{"kind", "action", "result"},
		)

		reviewsApproved = factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reviews_approved_total",
				Help: "Total number of reviews that reached the approval quorum",
			},
		)

		reviewsRejected = factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reviews_rejected_total",
				Help: "Total number of reviews rejected after the grace period",
			},
		)

		rejectionsCancelled = factory.NewCounter(
			prometheus.CounterOpts{
				Name: "review_rejections_cancelled_total",
				Help: "Total number of pending rejections cancelled before finalization",
			},
		)

		reviewPublish = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "review_publish_total",
				Help: "Total number of publish requests",
			},
			[]string{"result"}, // "success", "failed", "not_found"
		)

		reviewsLive = factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "reviews_live",
				Help: "Number of reviews currently awaiting a decision or publish",
			},
		)
	})
}

// RecordSubmission counts a review submission
func RecordSubmission(result string) {
	initializeReviewMetrics()
	reviewsSubmitted.WithLabelValues(result).Inc()
}

// RecordReaction counts a reviewer reaction
func RecordReaction(kind, action, result string) {
	initializeReviewMetrics()
	reviewReactions.WithLabelValues(kind, action, result).Inc()
}

// RecordApproved counts a review reaching quorum
func RecordApproved() {
	initializeReviewMetrics()
	reviewsApproved.Inc()
}

// RecordRejected counts a finalized rejection
func RecordRejected() {
	initializeReviewMetrics()
	reviewsRejected.Inc()
}

// RecordRejectionCancelled counts a pending rejection that was cancelled
func RecordRejectionCancelled() {
	initializeReviewMetrics()
	rejectionsCancelled.Inc()
}

// RecordPublish counts a publish attempt
func RecordPublish(result string) {
	initializeReviewMetrics()
	reviewPublish.WithLabelValues(result).Inc()
}

// SetLiveReviews sets the number of live reviews
func SetLiveReviews(n int) {
	initializeReviewMetrics()
	reviewsLive.Set(float64(n))
}
