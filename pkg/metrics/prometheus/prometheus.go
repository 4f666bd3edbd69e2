// Package prometheus implements the pkg/metrics recorder interfaces on top
// of prometheus/client_golang.
package prometheus

import (
	"strconv"
	"time"

	"github.com/marmos91/microtower/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Label names.
const (
	LabelService  = "service"
	LabelPool     = "pool"
	LabelInstance = "instance"
	LabelState    = "state"
	LabelOutcome  = "outcome"
)

var poolStates = []string{"pending", "ready", "failed"}

// Metrics holds every collector. Create it once per registerer and derive the
// per-component recorders from it.
type Metrics struct {
	resolutionTotal    *prometheus.CounterVec
	resolutionPasses   prometheus.Histogram
	resolutionDuration prometheus.Histogram

	poolState            *prometheus.GaugeVec
	poolCreationDuration *prometheus.HistogramVec
	poolDispatchTotal    *prometheus.CounterVec
	poolInFlight         *prometheus.GaugeVec

	connectionsActive *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	connectionsForced *prometheus.CounterVec
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	requestSizeBytes  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors, which is useful in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "resolver",
				Name:      "resolutions_total",
				Help:      "Total number of service graph resolutions by outcome",
			},
			[]string{LabelOutcome},
		),
		resolutionPasses: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: "resolver",
				Name:      "passes",
				Help:      "Number of fixed-point passes needed per resolution",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
			},
		),
		resolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: "resolver",
				Name:      "duration_seconds",
				Help:      "Time spent resolving the service graph",
				Buckets:   prometheus.DefBuckets,
			},
		),

		poolState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Subsystem: "pool",
				Name:      "state",
				Help:      "Current pool state (1 for the active state)",
			},
			[]string{LabelPool, LabelState},
		),
		poolCreationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: "pool",
				Name:      "creation_duration_seconds",
				Help:      "Time spent creating all instances of a pool",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{LabelPool, LabelOutcome},
		),
		poolDispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "pool",
				Name:      "dispatch_total",
				Help:      "Total number of requests dispatched per pool instance",
			},
			[]string{LabelPool, LabelInstance},
		),
		poolInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Subsystem: "pool",
				Name:      "in_flight",
				Help:      "Pending requests per pool instance",
			},
			[]string{LabelPool, LabelInstance},
		),

		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metrics.Namespace,
				Subsystem: "session",
				Name:      "connections_active",
				Help:      "Number of currently open connections",
			},
			[]string{LabelService},
		),
		connectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "session",
				Name:      "connections_total",
				Help:      "Total number of connection events",
			},
			[]string{LabelService, LabelState},
		),
		connectionsForced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "session",
				Name:      "connections_force_closed_total",
				Help:      "Connections closed forcibly after the shutdown timeout",
			},
			[]string{LabelService},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "session",
				Name:      "requests_total",
				Help:      "Total number of handled requests by envelope tag",
			},
			[]string{LabelService, LabelOutcome},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: "session",
				Name:      "request_duration_seconds",
				Help:      "Time from a decoded frame to its written response",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{LabelService, LabelOutcome},
		),
		requestSizeBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metrics.Namespace,
				Subsystem: "session",
				Name:      "request_size_bytes",
				Help:      "Size of request frames",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{LabelService},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.resolutionTotal,
			m.resolutionPasses,
			m.resolutionDuration,
			m.poolState,
			m.poolCreationDuration,
			m.poolDispatchTotal,
			m.poolInFlight,
			m.connectionsActive,
			m.connectionsTotal,
			m.connectionsForced,
			m.requestsTotal,
			m.requestDuration,
			m.requestSizeBytes,
		)
	}

	return m
}

// ============================================================================
// Resolver
// ============================================================================

// Resolver returns the resolver recorder.
func (m *Metrics) Resolver() metrics.ResolverMetrics {
	return resolverMetrics{m}
}

type resolverMetrics struct{ m *Metrics }

func (r resolverMetrics) ObserveResolution(passes int, duration time.Duration, outcome string) {
	r.m.resolutionTotal.WithLabelValues(outcome).Inc()
	r.m.resolutionPasses.Observe(float64(passes))
	r.m.resolutionDuration.Observe(duration.Seconds())
}

// ============================================================================
// Pool
// ============================================================================

// Pool returns the pool recorder.
func (m *Metrics) Pool() metrics.PoolMetrics {
	return poolMetrics{m}
}

type poolMetrics struct{ m *Metrics }

func (p poolMetrics) SetState(pool string, state string) {
	for _, s := range poolStates {
		v := 0.0
		if s == state {
			v = 1
		}
		p.m.poolState.WithLabelValues(pool, s).Set(v)
	}
}

func (p poolMetrics) ObserveCreation(pool string, duration time.Duration, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	p.m.poolCreationDuration.WithLabelValues(pool, outcome).Observe(duration.Seconds())
}

func (p poolMetrics) RecordDispatch(pool string, instance int) {
	p.m.poolDispatchTotal.WithLabelValues(pool, strconv.Itoa(instance)).Inc()
}

func (p poolMetrics) SetInFlight(pool string, instance int, pending int64) {
	p.m.poolInFlight.WithLabelValues(pool, strconv.Itoa(instance)).Set(float64(pending))
}

// ============================================================================
// Session
// ============================================================================

// Session returns the recorder for the named service's listener.
func (m *Metrics) Session(service string) metrics.SessionMetrics {
	return sessionMetrics{m: m, service: service}
}

type sessionMetrics struct {
	m       *Metrics
	service string
}

func (s sessionMetrics) RecordConnectionAccepted() {
	s.m.connectionsTotal.WithLabelValues(s.service, "accepted").Inc()
}

func (s sessionMetrics) RecordConnectionClosed() {
	s.m.connectionsTotal.WithLabelValues(s.service, "closed").Inc()
}

func (s sessionMetrics) RecordConnectionForceClosed() {
	s.m.connectionsForced.WithLabelValues(s.service).Inc()
}

func (s sessionMetrics) SetActiveConnections(count int32) {
	s.m.connectionsActive.WithLabelValues(s.service).Set(float64(count))
}

func (s sessionMetrics) ObserveRequest(outcome string, duration time.Duration, requestBytes int) {
	s.m.requestsTotal.WithLabelValues(s.service, outcome).Inc()
	s.m.requestDuration.WithLabelValues(s.service, outcome).Observe(duration.Seconds())
	s.m.requestSizeBytes.WithLabelValues(s.service).Observe(float64(requestBytes))
}
