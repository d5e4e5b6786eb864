// Package metrics collects run statistics in a private Prometheus registry
// and writes them for the node exporter textfile collector.
package metrics

import (
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "postsmith"

type Metrics struct {
	registry *prometheus.Registry

	attempts      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	skipped       prometheus.Counter
	generated     prometheus.Counter
	failed        *prometheus.CounterVec
	published     prometheus.Counter
	lastRun       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_attempts_total",
			Help:      "Attempts of generator calls by stage and outcome.",
		}, []string{"stage", "outcome", "attempt"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each workflow state.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ideas_skipped_total",
			Help:      "Ideas skipped as similar to published posts.",
		}),
		generated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_generated_total",
			Help:      "Posts with both image and caption generated.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_failed_total",
			Help:      "Posts that failed by stage.",
		}, []string{"stage"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_published_total",
			Help:      "Posts published to the account.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last metrics write.",
		}),
	}

	m.registry.MustRegister(m.attempts, m.stageDuration, m.skipped, m.generated, m.failed, m.published, m.lastRun)
	return m
}

// Registry exposes the registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAttempt matches retry.Observer
func (m *Metrics) ObserveAttempt(stage string, attempt int, outcome retry.Outcome) {
	m.attempts.WithLabelValues(stage, string(outcome), strconv.Itoa(attempt)).Inc()
}

func (m *Metrics) StageDuration(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) IdeaSkipped()            { m.skipped.Inc() }
func (m *Metrics) PostGenerated()          { m.generated.Inc() }
func (m *Metrics) PostFailed(stage string) { m.failed.WithLabelValues(stage).Inc() }
func (m *Metrics) PostPublished()          { m.published.Inc() }

// WriteFile writes every metric in text format. The file is replaced atomically
func (m *Metrics) WriteFile(path string) error {
	m.lastRun.SetToCurrentTime()
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return goerr.Wrap(err, "failed to write metrics file", goerr.V("path", path))
	}
	return nil
}
