// Package metrics provides Prometheus instrumentation for the matching
// worker: queue depth, attempt outcomes, wait times, retries, errors,
// and status transitions — the counters and histograms
// usecase.MetricsCollector records against.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aungmyo/matchworker/internal/domain"
)

var (
	queueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchworker_queue_size",
		Help: "Current number of users waiting in the matching queue",
	})

	matchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchworker_match_attempts_total",
		Help: "Total number of find-match attempts, labeled by outcome",
	}, []string{"outcome"}) // outcome = "matched", "no_match"

	matchAttemptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchworker_match_attempt_duration_seconds",
		Help:    "Wall time of a single find-match attempt",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	matchScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchworker_match_compatibility_score",
		Help:    "Compatibility score of attempts that resulted in a match",
		Buckets: []float64{0, .2, .4, .5, .6, .7, .8, .9, 1},
	})

	queueWaitTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchworker_queue_wait_time_seconds",
		Help:    "Time a user spent in the queue before leaving it (matched, timed out, or canceled)",
		Buckets: []float64{1, 5, 10, 30, 60, 90, 120, 150, 180},
	})

	retryAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchworker_retry_attempts_total",
		Help: "Total number of no-match relaxation retries scheduled",
	})

	retryDelay = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchworker_retry_delay_seconds",
		Help:    "Scheduled delay before a relaxation retry is redelivered",
		Buckets: []float64{2, 4, 6, 10, 15, 20, 25, 30},
	})

	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchworker_errors_total",
		Help: "Total number of recorded errors, labeled by error type",
	}, []string{"error_type"})

	statusChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchworker_user_status_changes_total",
		Help: "Total number of user status transitions, labeled by from/to state",
	}, []string{"from", "to"})
)

func init() {
	prometheus.MustRegister(
		queueSize,
		matchAttempts,
		matchAttemptDuration,
		matchScore,
		queueWaitTime,
		retryAttempts,
		retryDelay,
		errorsTotal,
		statusChanges,
	)
}

// Collector implements usecase.MetricsCollector against the package's
// registered Prometheus metrics.
type Collector struct{}

// NewCollector returns a ready Collector. There is no per-instance
// state: the underlying Prometheus metrics are package-level, mirroring
// the teacher's own registration pattern.
func NewCollector() Collector { return Collector{} }

func (Collector) RecordQueueSize(size int64) {
	queueSize.Set(float64(size))
}

func (Collector) RecordMatchAttempt(userID int64, processingTime time.Duration, candidatesEvaluated int, matchFound bool, score float64) {
	matchAttemptDuration.Observe(processingTime.Seconds())
	if matchFound {
		matchAttempts.WithLabelValues("matched").Inc()
		matchScore.Observe(score)
		return
	}
	matchAttempts.WithLabelValues("no_match").Inc()
}

func (Collector) RecordQueueWaitTime(wait time.Duration) {
	queueWaitTime.Observe(wait.Seconds())
}

func (Collector) RecordRetryAttempt(retryCount int, delay time.Duration) {
	retryAttempts.Inc()
	retryDelay.Observe(delay.Seconds())
}

func (Collector) RecordError(errorType string, userID int64) {
	errorsTotal.WithLabelValues(errorType).Inc()
}

func (Collector) RecordUserStatusChange(from, to domain.UserStatus) {
	statusChanges.WithLabelValues(string(from), string(to)).Inc()
}

// Handler returns the Prometheus metrics HTTP handler, mounted at
// /api/v0/metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
