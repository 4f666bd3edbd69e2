package service

import (
	"errors"
	"io"
)

// Layers describes the optional middleware placed in front of a service.
// Zero values disable the corresponding layer.
type Layers struct {
	// Buffer is the admission queue capacity.
	Buffer int

	// ConcurrencyLimit caps calls in flight.
	ConcurrencyLimit int
}

// Apply wraps svc with the configured layers. The concurrency limit sits
// directly on svc and the buffer in front of it. The returned closer stops
// any worker goroutines the layers started.
func Apply[Req, Resp any](svc Service[Req, Resp], layers Layers) (Service[Req, Resp], io.Closer) {
	var closers multiCloser

	if layers.ConcurrencyLimit > 0 {
		svc = NewConcurrencyLimit(svc, layers.ConcurrencyLimit)
	}
	if layers.Buffer > 0 {
		b := NewBuffer(svc, layers.Buffer)
		closers = append(closers, b)
		svc = b
	}
	return svc, closers
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for i := len(m) - 1; i >= 0; i-- {
		if err := m[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
