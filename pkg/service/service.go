// Package service defines the request/response contract every exposed
// service implements, plus the middleware layers (buffer, concurrency limit,
// dependency slot) that can sit in front of one.
package service

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotReady is matched by *NotReadyError.
	ErrNotReady = errors.New("service not ready")

	// ErrClosed is returned by layers that were shut down.
	ErrClosed = errors.New("service closed")
)

// Service handles one request at a time from the caller's point of view.
// Implementations must be safe for concurrent use.
type Service[Req, Resp any] interface {
	Call(ctx context.Context, req Req) (Resp, error)
}

// Readiness is implemented by services that may not accept calls yet.
//
// Ready blocks until the service can take a call and returns nil, or returns
// an error when it never will (or ctx is done). A *NotReadyError must be
// returned immediately rather than after waiting.
type Readiness interface {
	Ready(ctx context.Context) error
}

// Func adapts a plain function to Service.
type Func[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Call implements Service.
func (f Func[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// NotReadyError reports that the named service or dependency cannot serve.
type NotReadyError struct {
	Name string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("service `%s` not ready", e.Name)
}

func (e *NotReadyError) Is(target error) bool {
	return target == ErrNotReady
}

// AwaitReady waits for svc to become ready if it implements Readiness.
// Services without a readiness predicate are always ready.
func AwaitReady(ctx context.Context, svc any) error {
	if r, ok := svc.(Readiness); ok {
		return r.Ready(ctx)
	}
	return ctx.Err()
}
