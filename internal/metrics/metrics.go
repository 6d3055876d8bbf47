package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imgforge"

// Build outcomes recorded by [Metrics.BuildFinished].
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Build collectors.
type Metrics struct {
	builds       *prometheus.CounterVec
	phases       *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
}

// Creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		builds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Image builds by result.",
		}, []string{"result"}),

		phases: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Time spent reaching each build phase.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
		}, []string{"phase"}),

		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Dependency layer cache lookups by result.",
		}, []string{"result"}),
	}
}

// Records a finished build.
func (m *Metrics) BuildFinished(result string) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(result).Inc()
}

// Records the time taken to reach a phase.
func (m *Metrics) PhaseDone(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(phase).Observe(d.Seconds())
}

// Records a dependency layer cache lookup.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Returns an HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
