// Package metricsvc exposes the submission pipeline counters over Prometheus.
package metricsvc

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/maombi/core/application"
)

type PrometheusMetrics struct {
	attempts prometheus.Counter
	finished *prometheus.CounterVec
	duration *prometheus.HistogramVec
	drafts   prometheus.Counter
}

var _ application.Metrics = (*PrometheusMetrics)(nil) // interface compliance check

func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		attempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "maombi_submission_attempts_total",
			Help: "Total application submission attempts, before validation",
		}),
		finished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "maombi_submissions_total",
			Help: "Finished submission attempts by outcome",
		}, []string{"outcome"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "maombi_submission_duration_seconds",
			Help:    "Duration of submission attempts by outcome",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"outcome"}),
		drafts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "maombi_drafts_saved_total",
			Help: "Total draft saves, creations and updates alike",
		}),
	}
}

func (m *PrometheusMetrics) SubmissionAttempted() {
	if m != nil {
		m.attempts.Inc()
	}
}

func (m *PrometheusMetrics) SubmissionFinished(outcome string, elapsed time.Duration) {
	if m != nil {
		m.finished.WithLabelValues(outcome).Inc()
		m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	}
}

func (m *PrometheusMetrics) DraftSaved() {
	if m != nil {
		m.drafts.Inc()
	}
}

// Handler serves the scrape endpoint, mounted on the debug server.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.Handler()
}
