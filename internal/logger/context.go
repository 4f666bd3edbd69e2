package logger

import (
	"context"
	"time"
)

type contextKey struct{}

// LogContext carries connection- and request-scoped fields that the *Ctx
// functions prepend to every record.
type LogContext struct {
	TraceID      string
	SpanID       string
	Service      string // bound service name
	ConnectionID string
	ClientIP     string // without port
	RequestID    string
	StartTime    time.Time
}

// WithContext returns a context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext of ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// NewConnectionContext starts a LogContext for a freshly accepted connection.
func NewConnectionContext(service, connectionID, clientIP string) *LogContext {
	return &LogContext{
		Service:      service,
		ConnectionID: connectionID,
		ClientIP:     clientIP,
		StartTime:    time.Now(),
	}
}

// Clone returns a copy of lc. A nil receiver yields nil.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithRequest returns a copy bound to one request.
func (lc *LogContext) WithRequest(requestID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.RequestID = requestID
		c.StartTime = time.Now()
	}
	return c
}

// WithTrace returns a copy with trace identifiers set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// DurationMs returns the milliseconds elapsed since StartTime.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}
