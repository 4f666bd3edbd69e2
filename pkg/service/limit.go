package service

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimit caps the number of calls in flight on the wrapped
// service. Excess callers wait for a permit.
type ConcurrencyLimit[Req, Resp any] struct {
	inner Service[Req, Resp]
	sem   *semaphore.Weighted
	max   int64
}

// NewConcurrencyLimit wraps inner with a cap of max concurrent calls.
func NewConcurrencyLimit[Req, Resp any](inner Service[Req, Resp], max int) *ConcurrencyLimit[Req, Resp] {
	if max < 1 {
		max = 1
	}
	return &ConcurrencyLimit[Req, Resp]{
		inner: inner,
		sem:   semaphore.NewWeighted(int64(max)),
		max:   int64(max),
	}
}

// Call waits for a permit and then calls the inner service. The permit is
// released on every return path.
func (l *ConcurrencyLimit[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		var zero Resp
		return zero, err
	}
	defer l.sem.Release(1)

	return l.inner.Call(ctx, req)
}

// Ready reports the readiness of the wrapped service.
func (l *ConcurrencyLimit[Req, Resp]) Ready(ctx context.Context) error {
	return AwaitReady(ctx, l.inner)
}

// Max returns the configured cap.
func (l *ConcurrencyLimit[Req, Resp]) Max() int {
	return int(l.max)
}
