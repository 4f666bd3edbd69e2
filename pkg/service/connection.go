package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// errNoConnection makes the retry loop back off until TryGet succeeds.
var errNoConnection = errors.New("no connection available")

// TryGetter hands out an external connection (database handle, upstream
// client...) without blocking. ok is false when none is available right now.
type TryGetter[T any] interface {
	TryGet() (conn T, ok bool)
}

// TryGetFunc adapts a function to TryGetter.
type TryGetFunc[T any] func() (T, bool)

// TryGet implements TryGetter.
func (f TryGetFunc[T]) TryGet() (T, bool) {
	return f()
}

// Connection turns a non-blocking TryGetter into a blocking Get that polls
// with exponential backoff until a connection is available.
type Connection[T any] struct {
	inner      TryGetter[T]
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewConnection wraps inner with the default backoff (1ms doubling up to 100ms).
func NewConnection[T any](inner TryGetter[T]) *Connection[T] {
	return &Connection[T]{
		inner:      inner,
		minBackoff: time.Millisecond,
		maxBackoff: 100 * time.Millisecond,
	}
}

// Get waits for a connection or for ctx to be done.
func (c *Connection[T]) Get(ctx context.Context) (T, error) {
	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.minBackoff),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(c.maxBackoff),
		backoff.WithMaxElapsedTime(0),
	)

	return backoff.RetryWithData(func() (T, error) {
		if conn, ok := c.inner.TryGet(); ok {
			return conn, nil
		}
		var zero T
		return zero, errNoConnection
	}, backoff.WithContext(policy, ctx))
}
