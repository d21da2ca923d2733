// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for the campusnet service.
//
// # Description
//
// Metrics cover four areas:
//   - HTTP requests (by method, route and status) and their latency
//   - Realtime synchronizer handles and the change events they apply or drop
//   - Query cache hits and misses
//   - Outbound notification deliveries
//
// # Integration
//
// Metrics are exposed on /metrics. Tracing is opt-in through configuration and
// exports spans to stdout.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking. A
// nil *Metrics is valid and records nothing.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "campusnet"

// Drop reasons for EventsDroppedTotal.
const (
	DropDuplicate = "duplicate" // insert for an id already present
	DropUnknown   = "unknown"   // update or delete for an id not present
	DropStale     = "stale"     // event or read result delivered after the handle closed
)

// Metrics holds every Prometheus collector of the service.
//
// # Description
//
// Create once at startup with NewMetrics and pass it to the components that
// record into it.
//
// # Fields
//
//   - HTTPRequestsTotal: requests by method, route and status code
//   - HTTPRequestDuration: request latency by method and route
//   - HandlesActive: open synchronizer handles by topic
//   - EventsAppliedTotal: change events applied to local state by topic and type
//   - EventsDroppedTotal: change events ignored by topic and reason
//   - CacheRequestsTotal: cache lookups by result (hit, miss)
//   - NotificationsSentTotal: outbound deliveries by sender and result
//   - WebsocketConnections: connected realtime gateway clients
type Metrics struct {
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HandlesActive          *prometheus.GaugeVec
	EventsAppliedTotal     *prometheus.CounterVec
	EventsDroppedTotal     *prometheus.CounterVec
	CacheRequestsTotal     *prometheus.CounterVec
	NotificationsSentTotal *prometheus.CounterVec
	WebsocketConnections   prometheus.Gauge
}

// NewMetrics creates and registers all collectors on reg.
//
// # Inputs
//
//   - reg: The registry to register on. Tests pass prometheus.NewRegistry();
//     the server passes prometheus.DefaultRegisterer.
//
// # Limitations
//
//   - Panics when called twice with the same registry (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "route"},
		),
		HandlesActive: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "realtime",
				Name:      "handles_active",
				Help:      "Open synchronizer handles by topic",
			},
			[]string{"topic"},
		),
		EventsAppliedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "realtime",
				Name:      "events_applied_total",
				Help:      "Change events applied to local state by topic and event type",
			},
			[]string{"topic", "type"},
		),
		EventsDroppedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "realtime",
				Name:      "events_dropped_total",
				Help:      "Change events ignored by topic and reason",
			},
			[]string{"topic", "reason"},
		),
		CacheRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "cache",
				Name:      "requests_total",
				Help:      "Query cache lookups by result",
			},
			[]string{"result"},
		),
		NotificationsSentTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "notify",
				Name:      "sent_total",
				Help:      "Outbound notification deliveries by sender and result",
			},
			[]string{"sender", "result"},
		),
		WebsocketConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "gateway",
				Name:      "connections",
				Help:      "Connected realtime gateway clients",
			},
		),
	}
}

// RecordRequest records one completed HTTP request.
//
// # Inputs
//
//   - method, route: The HTTP method and the matched route pattern.
//   - status: The response status code.
//   - elapsed: Time spent serving the request.
func (m *Metrics) RecordRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) HandleOpened(topic string) {
	if m == nil {
		return
	}
	m.HandlesActive.WithLabelValues(topic).Inc()
}

func (m *Metrics) HandleClosed(topic string) {
	if m == nil {
		return
	}
	m.HandlesActive.WithLabelValues(topic).Dec()
}

func (m *Metrics) EventApplied(topic, eventType string) {
	if m == nil {
		return
	}
	m.EventsAppliedTotal.WithLabelValues(topic, eventType).Inc()
}

// EventDropped records an ignored change event. reason is one of the Drop*
// constants.
func (m *Metrics) EventDropped(topic, reason string) {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.WithLabelValues(topic, reason).Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues("miss").Inc()
}

// NotificationSent records one delivery attempt.
func (m *Metrics) NotificationSent(sender string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.NotificationsSentTotal.WithLabelValues(sender, result).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.WebsocketConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.WebsocketConnections.Dec()
}
