package observe

import (
	"net/http"

	"github.com/felixgeelhaar/neai/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metrics for the console.
//
// Metrics:
//   - neai_actions_total{action,outcome} - console actions by outcome (ok, rejected, failed)
//   - neai_refreshes_total{outcome} - memory refreshes (ok, failed, stale)
//   - neai_refresh_duration_seconds - time spent fetching the memory list
//   - neai_memory_items - items in the last applied snapshot
//   - neai_ticks_dropped_total{job} - scheduler ticks skipped because the previous run was still going
type Metrics struct {
	ActionsTotal    *prometheus.CounterVec
	RefreshesTotal  *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	MemoryItems     prometheus.Gauge
	TicksDropped    *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the metrics on a private registry so several consoles
// can live in one process (tests) without duplicate registration panics.
func NewMetrics() *Metrics {
	m := &Metrics{
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neai_actions_total",
				Help: "Total console actions by outcome",
			},
			[]string{"action", "outcome"},
		),
		RefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neai_refreshes_total",
				Help: "Total memory refreshes by outcome",
			},
			[]string{"outcome"},
		),
		RefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "neai_refresh_duration_seconds",
				Help:    "Duration of memory list fetches in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		MemoryItems: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "neai_memory_items",
				Help: "Number of memory items in the last applied snapshot",
			},
		),
		TicksDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neai_ticks_dropped_total",
				Help: "Scheduler ticks dropped because the previous run was still in flight",
			},
			[]string{"job"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.ActionsTotal,
		m.RefreshesTotal,
		m.RefreshDuration,
		m.MemoryItems,
		m.TicksDropped,
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Attach subscribes the metrics to console events.
func (m *Metrics) Attach(bus *events.Bus) {
	bus.SubscribeAll(m.record)
}

func (m *Metrics) record(e events.Event) {
	switch e.Type {
	case events.ActionSucceeded:
		m.ActionsTotal.WithLabelValues(e.Action, "ok").Inc()
	case events.ActionRejected:
		m.ActionsTotal.WithLabelValues(e.Action, "rejected").Inc()
	case events.ActionFailed:
		m.ActionsTotal.WithLabelValues(e.Action, "failed").Inc()
	case events.MemoryRefreshed:
		m.RefreshesTotal.WithLabelValues("ok").Inc()
		m.RefreshDuration.Observe(e.Duration.Seconds())
		m.MemoryItems.Set(float64(e.Count))
	case events.RefreshFailed:
		m.RefreshesTotal.WithLabelValues("failed").Inc()
		m.RefreshDuration.Observe(e.Duration.Seconds())
	case events.RefreshStale:
		m.RefreshesTotal.WithLabelValues("stale").Inc()
	case events.TickDropped:
		m.TicksDropped.WithLabelValues(e.Action).Inc()
	}
}
