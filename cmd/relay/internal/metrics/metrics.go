// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stocklabs_relay"

var (
	// Registry holds the relay-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	UpstreamMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "messages_total",
			Help:      "Provider messages by parsed kind.",
		},
		[]string{"kind"},
	)

	UpstreamReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "reconnects_total",
			Help:      "Provider connection attempts after a failure.",
		},
	)

	UpstreamSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "subscriptions",
			Help:      "Symbols in the provider subscription set.",
		},
	)

	SinkErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tickstore",
			Name:      "write_errors_total",
			Help:      "Failed tick store writes.",
		},
	)

	Sessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "sessions",
			Help:      "Live downstream sessions by kind.",
		},
		[]string{"kind"},
	)

	Evictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "evictions_total",
			Help:      "Sessions force-closed by a newer session of the same identity.",
		},
	)

	Emits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "emits_total",
			Help:      "Outbound events by type.",
		},
		[]string{"type"},
	)

	DroppedSends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "dropped_sends_total",
			Help:      "Outbound messages dropped because a client buffer was full.",
		},
	)

	AutoCuts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "autocut_positions_total",
			Help:      "Short positions visited by the auto-cut job by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		UpstreamMessages,
		UpstreamReconnects,
		UpstreamSubscriptions,
		SinkErrors,
		Sessions,
		Evictions,
		Emits,
		DroppedSends,
		AutoCuts,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
