// Package shutdown provides a hierarchical cancellation primitive.
//
// A Controller is a node in a tree. Cancelling a node cancels every
// descendant; cancelling a descendant never affects its parent or siblings.
// Every long-running task (listener, connection, resolver loop) receives its
// own child and races its blocking operations against Wait.
package shutdown

import (
	"context"
)

// Controller is one node of the cancellation tree. The zero value is not
// usable; create controllers with NewRoot or Child.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRoot creates a controller with no parent.
func NewRoot() *Controller {
	return fromContext(context.Background())
}

// FromContext creates a root controller that is also cancelled when ctx is
// done. Used to hang a controller tree off a caller-supplied context.
func FromContext(ctx context.Context) *Controller {
	return fromContext(ctx)
}

func fromContext(parent context.Context) *Controller {
	ctx, cancel := context.WithCancel(parent)
	return &Controller{ctx: ctx, cancel: cancel}
}

// Child derives a controller that observes c's cancellation but can be
// cancelled independently.
func (c *Controller) Child() *Controller {
	return fromContext(c.ctx)
}

// Cancel cancels c and all of its descendants. Calling Cancel more than once
// has no further effect.
func (c *Controller) Cancel() {
	c.cancel()
}

// Wait returns a channel that is closed once c is cancelled. The channel is
// shared by every caller, so all waiters are woken together.
func (c *Controller) Wait() <-chan struct{} {
	return c.ctx.Done()
}

// WaitContext blocks until c is cancelled or ctx is done. It returns nil when
// c was cancelled and ctx.Err() otherwise.
func (c *Controller) WaitContext(ctx context.Context) error {
	select {
	case <-c.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsCancelled reports whether c has been cancelled.
func (c *Controller) IsCancelled() bool {
	return c.ctx.Err() != nil
}

// Context returns a context that is cancelled together with c. Pass it to
// blocking I/O so the operation unwinds on shutdown.
func (c *Controller) Context() context.Context {
	return c.ctx
}
