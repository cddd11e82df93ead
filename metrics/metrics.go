// Package metrics exposes Prometheus collectors for the realtime gateway.
// Every method is safe to call on a nil *Metrics, so components can run
// without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "realtime"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	connections prometheus.Gauge
	rooms       prometheus.Gauge
	handshakes  *prometheus.CounterVec
	inbound     *prometheus.CounterVec
	denied      *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	dropped     prometheus.Counter
}

// New registers the gateway collectors plus Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live authenticated connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Connection handshakes by result.",
		}, []string{"result"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_total",
			Help:      "Inbound client events by name.",
		}, []string{"event"}),
		denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "denied_total",
			Help:      "Authorization denials by action.",
		}, []string{"action"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound frames queued by event name.",
		}, []string{"event"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Connections dropped because their send buffer was full.",
		}),
	}
	m.reg.MustRegister(
		m.connections, m.rooms, m.handshakes, m.inbound, m.denied, m.deliveries, m.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// SetGauges records current registry sizes.
func (m *Metrics) SetGauges(connections, rooms int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(connections))
	m.rooms.Set(float64(rooms))
}

// Handshake counts a handshake outcome ("ok" or a rejection reason).
func (m *Metrics) Handshake(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

// Inbound counts a received client event.
func (m *Metrics) Inbound(event string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(event).Inc()
}

// Denied counts an authorization failure for action ("join" or "update").
func (m *Metrics) Denied(action string) {
	if m == nil {
		return
	}
	m.denied.WithLabelValues(action).Inc()
}

// Delivered counts n frames of event queued to peers.
func (m *Metrics) Delivered(event string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.deliveries.WithLabelValues(event).Add(float64(n))
}

// Dropped counts a slow-consumer disconnect.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
