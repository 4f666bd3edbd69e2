package service

import (
	"context"
	"errors"
	"sync"
)

// ErrSlotFilled is returned when filling a slot twice.
var ErrSlotFilled = errors.New("service slot already filled")

// Slot is a named place for a dependency that is declared up front and
// filled later. Calls on an empty slot fail immediately with a
// *NotReadyError. Calls on a filled slot hold exclusive access to the
// service for their whole duration and release it on every exit path.
type Slot[Req, Resp any] struct {
	name string

	mu  sync.RWMutex
	svc Service[Req, Resp]

	// lock is a one-permit semaphore so acquisition can observe ctx.
	lock chan struct{}
}

// NewSlot creates an empty slot.
func NewSlot[Req, Resp any](name string) *Slot[Req, Resp] {
	return &Slot[Req, Resp]{
		name: name,
		lock: make(chan struct{}, 1),
	}
}

// Filled returns a slot already holding svc.
func Filled[Req, Resp any](name string, svc Service[Req, Resp]) *Slot[Req, Resp] {
	s := NewSlot[Req, Resp](name)
	s.svc = svc
	return s
}

// Name returns the slot name used in NotReadyError.
func (s *Slot[Req, Resp]) Name() string {
	return s.name
}

// Fill stores svc. A slot can be filled once.
func (s *Slot[Req, Resp]) Fill(svc Service[Req, Resp]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.svc != nil {
		return ErrSlotFilled
	}
	s.svc = svc
	return nil
}

func (s *Slot[Req, Resp]) load() Service[Req, Resp] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.svc
}

// Call acquires the slot, calls the service and releases the slot.
func (s *Slot[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	svc := s.load()
	if svc == nil {
		return zero, &NotReadyError{Name: s.name}
	}

	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-s.lock }()

	return svc.Call(ctx, req)
}

// Ready returns a *NotReadyError for an empty slot and otherwise defers to
// the held service.
func (s *Slot[Req, Resp]) Ready(ctx context.Context) error {
	svc := s.load()
	if svc == nil {
		return &NotReadyError{Name: s.name}
	}
	return AwaitReady(ctx, svc)
}
