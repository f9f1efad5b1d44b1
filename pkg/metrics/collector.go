// Package metrics exposes Prometheus instrumentation for the relay proxy.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relay"

// Request outcomes recorded by RecordRequest.
const (
	OutcomeOK            = "ok"
	OutcomeBackendStatus = "backend_status"
	OutcomeError         = "error"
)

// SSE event kinds recorded by RecordEvent.
const (
	EventChunk       = "chunk"
	EventDone        = "done"
	EventPassthrough = "passthrough"
)

// Collector owns a private registry and every relay metric. A nil
// *Collector is valid and records nothing, so components can take one
// unconditionally.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	dialsTotal      *prometheus.CounterVec
	eventsTotal     *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
}

// NewCollector creates a Collector registered on a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Chat completion requests handled, by backend kind, streaming mode and outcome.",
		}, []string{"backend", "stream", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time until the backend response headers were converted.",
			// LLM latencies: 50ms to 30s.
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"backend", "stream"}),
		dialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_dials_total",
			Help:      "Outbound backend connections attempted.",
		}, []string{"scheme", "tunneled", "outcome"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sse_events_total",
			Help:      "Server-sent events relayed to clients, by kind.",
		}, []string{"kind"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Client connections holding a proxy session.",
		}),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.dialsTotal,
		c.eventsTotal,
		c.sessionsActive,
	)

	return c
}

// Registry returns the registry the collector's metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordRequest records one handled completion request.
func (c *Collector) RecordRequest(backend string, stream bool, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	s := strconv.FormatBool(stream)
	c.requestsTotal.WithLabelValues(backend, s, outcome).Inc()
	c.requestDuration.WithLabelValues(backend, s).Observe(duration.Seconds())
}

// RecordDial records one outbound connection attempt.
func (c *Collector) RecordDial(scheme string, tunneled bool, err error) {
	if c == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.dialsTotal.WithLabelValues(scheme, strconv.FormatBool(tunneled), outcome).Inc()
}

// RecordEvent records one relayed SSE event.
func (c *Collector) RecordEvent(kind string) {
	if c == nil {
		return
	}
	c.eventsTotal.WithLabelValues(kind).Inc()
}

// SessionOpened increments the active session gauge.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Inc()
}

// SessionClosed decrements the active session gauge.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}
