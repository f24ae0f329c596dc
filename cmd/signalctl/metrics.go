package main

import (
	"fmt"

	"github.com/rickgao/conference-signal/internal/journal"
	"github.com/rickgao/conference-signal/internal/metrics"
	"github.com/rickgao/conference-signal/internal/signal"
	"github.com/rickgao/conference-signal/internal/store"
)

type sample struct {
	name    string
	help    string
	counter bool
	read    func() float64
}

// registerMetrics exposes store, hub and journal statistics. The journal may be nil.
func registerMetrics(m *metrics.Metrics, st *store.Store[appState], manager *signal.Manager, jw *journal.Writer) error {
	samples := []sample{
		{"store_dispatched_total", "Actions accepted by Dispatch", true,
			func() float64 { return float64(st.Stats().Dispatched) }},
		{"store_processed_total", "Actions run through the pipeline", true,
			func() float64 { return float64(st.Stats().Processed) }},
		{"store_queue_depth", "Actions waiting in the store queue", false,
			func() float64 { return float64(st.Stats().Queue.Depth) }},
		{"store_queue_high_water", "Largest store queue backlog observed", false,
			func() float64 { return float64(st.Stats().Queue.HighWater) }},
		{"conference_events_total", "Server events received", true,
			func() float64 { return float64(st.State().Events) }},
		{"hub_phase", "Hub connection phase (0 unestablished, 1 starting, 2 active, 3 reconnecting, 4 closed)", false,
			func() float64 { return float64(manager.Phase()) }},
		{"hub_subscriptions", "Server events subscribed on the current connection", false,
			func() float64 { return float64(len(manager.Registry().Names())) }},
	}

	if jw != nil {
		samples = append(samples,
			sample{"journal_inserts_total", "Journal rows written", true,
				func() float64 { return float64(jw.Stats().Inserts) }},
			sample{"journal_errors_total", "Failed journal batches", true,
				func() float64 { return float64(jw.Stats().Errors) }},
			sample{"journal_dropped_total", "Journal rows dropped while the breaker was open", true,
				func() float64 { return float64(jw.Stats().Dropped) }},
		)
	}

	for _, s := range samples {
		register := m.Gauge
		if s.counter {
			register = m.Counter
		}
		if err := register(s.name, s.help, s.read); err != nil {
			return fmt.Errorf("register %s: %w", s.name, err)
		}
	}
	return nil
}
