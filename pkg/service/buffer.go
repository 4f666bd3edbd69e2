package service

import (
	"context"
	"sync"
)

type bufferResult[Resp any] struct {
	resp Resp
	err  error
}

type bufferedCall[Req, Resp any] struct {
	ctx    context.Context
	req    Req
	result chan bufferResult[Resp]
}

// Buffer is a bounded admission queue in front of a service. A single worker
// drains the queue, waits for the inner service to be ready and dispatches
// each call. Callers that find the queue full wait for room instead of being
// rejected.
type Buffer[Req, Resp any] struct {
	inner Service[Req, Resp]
	queue chan *bufferedCall[Req, Resp]

	// mu guards enqueueing against Close so no call lands in the queue
	// after it was drained.
	mu     sync.RWMutex
	closed bool

	done      chan struct{}
	closeOnce sync.Once
	inflight  sync.WaitGroup
	worker    sync.WaitGroup
}

// NewBuffer starts the worker for inner. capacity must be at least 1.
func NewBuffer[Req, Resp any](inner Service[Req, Resp], capacity int) *Buffer[Req, Resp] {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer[Req, Resp]{
		inner: inner,
		queue: make(chan *bufferedCall[Req, Resp], capacity),
		done:  make(chan struct{}),
	}
	b.worker.Add(1)
	go b.run()
	return b
}

// Call enqueues req and waits for its result.
func (b *Buffer[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	call := &bufferedCall[Req, Resp]{
		ctx:    ctx,
		req:    req,
		result: make(chan bufferResult[Resp], 1),
	}

	if err := b.enqueue(ctx, call); err != nil {
		return zero, err
	}

	select {
	case r := <-call.result:
		return r.resp, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (b *Buffer[Req, Resp]) enqueue(ctx context.Context, call *bufferedCall[Req, Resp]) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	select {
	case b.queue <- call:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}
}

// Ready reports the readiness of the wrapped service.
func (b *Buffer[Req, Resp]) Ready(ctx context.Context) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	return AwaitReady(ctx, b.inner)
}

// Len returns the number of queued calls.
func (b *Buffer[Req, Resp]) Len() int {
	return len(b.queue)
}

// Close stops the worker. Queued calls that were not dispatched yet fail
// with ErrClosed; dispatched calls run to completion.
func (b *Buffer[Req, Resp]) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		b.worker.Wait()
		b.drain()
	})
	b.inflight.Wait()
	return nil
}

func (b *Buffer[Req, Resp]) run() {
	defer b.worker.Done()

	for {
		select {
		case call := <-b.queue:
			b.dispatch(call)
		case <-b.done:
			return
		}
	}
}

func (b *Buffer[Req, Resp]) dispatch(call *bufferedCall[Req, Resp]) {
	if err := call.ctx.Err(); err != nil {
		call.result <- bufferResult[Resp]{err: err}
		return
	}

	if err := AwaitReady(call.ctx, b.inner); err != nil {
		call.result <- bufferResult[Resp]{err: err}
		return
	}

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		resp, err := b.inner.Call(call.ctx, call.req)
		call.result <- bufferResult[Resp]{resp: resp, err: err}
	}()
}

func (b *Buffer[Req, Resp]) drain() {
	for {
		select {
		case call := <-b.queue:
			call.result <- bufferResult[Resp]{err: ErrClosed}
		default:
			return
		}
	}
}
