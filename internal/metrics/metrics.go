// Package metrics exposes relay counters to prometheus.
//
// All methods are safe to call on a nil *Metrics so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nrelay"

// Metrics holds the relay's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	connectionsAccepted prometheus.Counter
	admissionsRejected  prometheus.Counter
	events              *prometheus.CounterVec
	messages            *prometheus.CounterVec
	deliveries          prometheus.Counter
}

// New creates and registers the relay collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connections", Name: "accepted_total",
			Help: "Total number of admitted client connections.",
		}),
		admissionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connections", Name: "rejected_total",
			Help: "Total number of connections terminated by the rate gate.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "total",
			Help: "Submitted events by outcome.",
		}, []string{"outcome"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "messages", Name: "received_total",
			Help: "Inbound messages by type.",
		}, []string{"type"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "deliveries_total",
			Help: "Total number of events delivered to subscriptions.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionsAccepted,
		m.admissionsRejected,
		m.events,
		m.messages,
		m.deliveries,
	)

	return m
}

// RegisterConnectedClients exposes fn as the connected clients gauge.
func (m *Metrics) RegisterConnectedClients(fn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "connections", Name: "open",
		Help: "Number of connections whose transport is open.",
	}, func() float64 { return float64(fn()) }))
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnectionAccepted counts an admitted connection.
func (m *Metrics) ConnectionAccepted() {
	if m != nil {
		m.connectionsAccepted.Inc()
	}
}

// AdmissionRejected counts a rate-limited connection attempt.
func (m *Metrics) AdmissionRejected() {
	if m != nil {
		m.admissionsRejected.Inc()
	}
}

// Event counts a submitted event by outcome.
func (m *Metrics) Event(outcome string) {
	if m != nil {
		m.events.WithLabelValues(outcome).Inc()
	}
}

// Message counts an inbound message by type.
func (m *Metrics) Message(kind string) {
	if m != nil {
		m.messages.WithLabelValues(kind).Inc()
	}
}

// Delivered counts n subscription deliveries.
func (m *Metrics) Delivered(n int) {
	if m != nil && n > 0 {
		m.deliveries.Add(float64(n))
	}
}
