// Package metrics defines the recorder interfaces used by the runtime
// components and owns the process-wide Prometheus registry.
//
// Every component accepts a nil recorder, which disables metrics for that
// component with zero overhead. The Prometheus implementations live in
// pkg/metrics/prometheus.
package metrics

import (
	"time"
)

// ResolverMetrics records service graph resolution.
type ResolverMetrics interface {
	// ObserveResolution records one Resolve call. outcome is one of
	// "ok", "cycle", "error", "cancelled".
	ObserveResolution(passes int, duration time.Duration, outcome string)
}

// PoolMetrics records service pool lifecycle and load distribution.
type PoolMetrics interface {
	// SetState records the current pool state ("pending", "ready", "failed").
	SetState(pool string, state string)

	// ObserveCreation records the time spent creating all pool instances.
	ObserveCreation(pool string, duration time.Duration, ok bool)

	// RecordDispatch records a request dispatched to instance.
	RecordDispatch(pool string, instance int)

	// SetInFlight records the pending request count of instance.
	SetInFlight(pool string, instance int, pending int64)
}

// SessionMetrics records listener and per-request activity for one service.
// It is a superset of the connection lifecycle recorder used by
// session.Listener.
type SessionMetrics interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)

	// ObserveRequest records one handled frame. outcome is the envelope tag
	// written back: "ok", "400" or "500".
	ObserveRequest(outcome string, duration time.Duration, requestBytes int)
}
