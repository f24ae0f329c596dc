package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/conference-signal/internal/store"
)

// Namespace prefixes every metric name.
const Namespace = "conference_signal"

// Metrics holds the registry and the metrics updated by the pipeline.
type Metrics struct {
	registry *prometheus.Registry
	actions  *prometheus.CounterVec
}

// New creates a registry with Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	actions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "actions_total",
			Help:      "Actions passed through the store pipeline, by type",
		},
		[]string{"type"},
	)
	reg.MustRegister(actions)

	return &Metrics{
		registry: reg,
		actions:  actions,
	}
}

// Gauge registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      help,
		},
		fn,
	))
}

// Counter registers a counter whose value is read from fn at scrape time.
func (m *Metrics) Counter(name, help string, fn func() float64) error {
	return m.registry.Register(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      help,
		},
		fn,
	))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware returns a pipeline stage counting actions by type.
func Middleware[S any](m *Metrics) store.Middleware[S] {
	return func(api store.API[S]) func(next store.Next) store.Next {
		return func(next store.Next) store.Next {
			return func(a store.Action) {
				m.actions.WithLabelValues(a.Type()).Inc()
				next(a)
			}
		}
	}
}
