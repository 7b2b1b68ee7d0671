// File: internal/observability/metrics.go
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventlogger",
		Name:      "requests_total",
		Help:      "Captured network requests by lifecycle outcome.",
	}, []string{"outcome"})
	metricActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventlogger",
		Name:      "requests_active",
		Help:      "Requests started but not yet finished or failed.",
	})
	metricWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventlogger",
		Name:      "waits_total",
		Help:      "Idle waits by result.",
	}, []string{"result"})
	metricWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eventlogger",
		Name:      "wait_duration_seconds",
		Help:      "Time spent in waitForEvents.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})
	metricNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventlogger",
		Name:      "notifications_total",
		Help:      "Notifications detected in the page by kind.",
	}, []string{"kind"})
	metricDecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventlogger",
		Name:      "body_decode_failures_total",
		Help:      "Bodies that could not be read or decoded.",
	})
)

// Request outcomes.
const (
	OutcomeStarted  = "started"
	OutcomeFinished = "finished"
	OutcomeFailed   = "failed"
)

// Wait results.
const (
	WaitIdle      = "idle"
	WaitDeadline  = "deadline"
	WaitAssertion = "assertion"
	WaitCancelled = "cancelled"
	WaitError     = "error"
)

// RecordRequest counts a request lifecycle transition and tracks the active gauge.
func RecordRequest(outcome string) {
	metricRequests.WithLabelValues(outcome).Inc()
	switch outcome {
	case OutcomeStarted:
		metricActiveRequests.Inc()
	case OutcomeFinished, OutcomeFailed:
		metricActiveRequests.Dec()
	}
}

// RecordWait counts a finished wait and observes its duration.
func RecordWait(result string, elapsed time.Duration) {
	metricWaits.WithLabelValues(result).Inc()
	metricWaitDuration.Observe(elapsed.Seconds())
}

// RecordNotification counts a newly classified notification.
func RecordNotification(kind string) {
	metricNotifications.WithLabelValues(kind).Inc()
}

// RecordDecodeFailure counts a body that could not be read.
func RecordDecodeFailure() {
	metricDecodeFailures.Inc()
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
