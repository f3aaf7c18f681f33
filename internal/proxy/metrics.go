package proxy

import (
	"context"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/koltyakov/raccoon/internal/session"
)

const sessionCountTimeout = 2 * time.Second

const metricsNamespace = "raccoon"

// Metrics holds the proxy's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	connections    prometheus.Counter
	active         prometheus.Gauge
	challenges     prometheus.Counter
	forwarded      *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	wafBlocks      *prometheus.CounterVec
	connErrors     *prometheus.CounterVec
	bytesRelayed   *prometheus.CounterVec
	sessions       prometheus.GaugeFunc
}

// NewMetrics creates the collectors and registers them together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "Accepted client connections.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Client connections currently being handled.",
		}),
		challenges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "challenges_total",
			Help:      "Challenge pages served.",
		}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "forwarded_requests_total",
			Help:      "Requests relayed to a backend, by route.",
		}, []string{"route"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_errors_total",
			Help:      "Backend failures, by route and stage.",
		}, []string{"route", "stage"}),
		wafBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "waf_blocks_total",
			Help:      "Requests rejected by the firewall, by rule.",
		}, []string{"rule"}),
		connErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connection_errors_total",
			Help:      "Connections closed because of an error, by operation.",
		}, []string{"op"}),
		bytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "relayed_body_bytes_total",
			Help:      "Streamed body bytes, by direction.",
		}, []string{"direction"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.active,
		m.challenges,
		m.forwarded,
		m.upstreamErrors,
		m.wafBlocks,
		m.connErrors,
		m.bytesRelayed,
	)
	return m
}

// trackSessions registers a gauge reporting how many tokens c holds. Only
// the first store tracked by m is reported. A failed count reads as NaN.
func (m *Metrics) trackSessions(c session.Counter) {
	if m.sessions != nil {
		return
	}
	m.sessions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "sessions_stored",
		Help:      "Session tokens held by the store, including expired ones not yet looked up.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), sessionCountTimeout)
		defer cancel()
		n, err := c.Count(ctx)
		if err != nil {
			return math.NaN()
		}
		return float64(n)
	})
	m.registry.MustRegister(m.sessions)
}

// Gatherer exposes the registry for the metrics endpoint.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) connOpened() {
	m.connections.Inc()
	m.active.Inc()
}

func (m *Metrics) connClosed() {
	m.active.Dec()
}

func (m *Metrics) challenged() {
	m.challenges.Inc()
}

func (m *Metrics) forwardedTo(route string) {
	m.forwarded.WithLabelValues(route).Inc()
}

func (m *Metrics) upstreamFailed(route, stage string) {
	m.upstreamErrors.WithLabelValues(route, stage).Inc()
}

func (m *Metrics) blocked(rule string) {
	m.wafBlocks.WithLabelValues(rule).Inc()
}

func (m *Metrics) connFailed(op string) {
	m.connErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) relayed(direction string, n int64) {
	if n > 0 {
		m.bytesRelayed.WithLabelValues(direction).Add(float64(n))
	}
}
