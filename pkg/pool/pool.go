// Package pool runs several interchangeable instances of one service behind
// a single endpoint and balances calls across them by pending load.
//
// A pool starts Pending while a background goroutine creates its instances
// one after another. It becomes Ready once every instance exists, or Failed
// as soon as one creation step fails. Failed is terminal: the pool never
// retries creation and answers every call with ErrPoolCreationFailed.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/microtower/internal/logger"
	"github.com/marmos91/microtower/pkg/metrics"
	"github.com/marmos91/microtower/pkg/service"
)

var (
	// ErrPoolCreationFailed is returned by every call on a Failed pool.
	ErrPoolCreationFailed = errors.New("failed to create service pool")

	// ErrPoolNotReady is returned when Call is reached before the pool is
	// Ready. Callers are expected to wait on Ready first.
	ErrPoolNotReady = errors.New("service pool called before ready")
)

// State is the lifecycle state of a pool.
type State int32

const (
	StatePending State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CreationError records which instance failed to be created.
type CreationError struct {
	Index int
	Size  int
	Err   error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("%v: instance %d of %d: %v", ErrPoolCreationFailed, e.Index, e.Size, e.Err)
}

func (e *CreationError) Unwrap() []error {
	return []error{ErrPoolCreationFailed, e.Err}
}

// Factory creates one pool instance. index is the zero-based position of
// the instance being built.
type Factory[Req, Resp any] func(ctx context.Context, index int) (service.Service[Req, Resp], error)

// Option configures a pool.
type Option func(*options)

type options struct {
	name    string
	metrics metrics.PoolMetrics
}

// WithName sets the name used in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithMetrics records state transitions and dispatches.
func WithMetrics(m metrics.PoolMetrics) Option {
	return func(o *options) { o.metrics = m }
}

type instance[Req, Resp any] struct {
	svc     service.Service[Req, Resp]
	pending atomic.Int64
}

// Pool balances calls across a fixed set of instances.
type Pool[Req, Resp any] struct {
	name    string
	size    int
	metrics metrics.PoolMetrics

	state atomic.Int32
	done  chan struct{}
	err   error

	// instances is written once by the creation goroutine before done is
	// closed and only read afterwards.
	instances []*instance[Req, Resp]

	// selectMu makes pick-and-increment atomic across concurrent callers.
	selectMu sync.Mutex
}

// New starts creating size instances with factory and returns immediately.
// Creation is sequential; cancelling ctx aborts it and fails the pool.
func New[Req, Resp any](ctx context.Context, size int, factory Factory[Req, Resp], opts ...Option) *Pool[Req, Resp] {
	o := options{name: "pool"}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pool[Req, Resp]{
		name:    o.name,
		size:    size,
		metrics: o.metrics,
		done:    make(chan struct{}),
	}
	p.setState(StatePending)

	logger.Debug("Creating service pool", "pool", p.name, "size", size)
	go p.create(ctx, factory)

	return p
}

func (p *Pool[Req, Resp]) create(ctx context.Context, factory Factory[Req, Resp]) {
	start := time.Now()
	defer close(p.done)

	fail := func(err error) {
		p.err = err
		p.setState(StateFailed)
		if p.metrics != nil {
			p.metrics.ObserveCreation(p.name, time.Since(start), false)
		}
		logger.Error("Service pool creation failed", "pool", p.name, "error", err)
	}

	if p.size < 1 {
		fail(&CreationError{Index: 0, Size: p.size, Err: errors.New("pool size must be at least 1")})
		return
	}

	instances := make([]*instance[Req, Resp], 0, p.size)
	for i := 0; i < p.size; i++ {
		if err := ctx.Err(); err != nil {
			fail(&CreationError{Index: i, Size: p.size, Err: err})
			return
		}

		svc, err := factory(ctx, i)
		if err == nil && svc == nil {
			err = errors.New("factory returned nil service")
		}
		if err != nil {
			fail(&CreationError{Index: i, Size: p.size, Err: err})
			return
		}

		instances = append(instances, &instance[Req, Resp]{svc: svc})
		logger.Debug("Created pooled service", "pool", p.name, "index", i)
	}

	p.instances = instances
	p.setState(StateReady)
	if p.metrics != nil {
		p.metrics.ObserveCreation(p.name, time.Since(start), true)
	}
	logger.Info("Service pool ready", "pool", p.name, "size", p.size,
		"duration_ms", logger.Duration(start))
}

func (p *Pool[Req, Resp]) setState(s State) {
	p.state.Store(int32(s))
	if p.metrics != nil {
		p.metrics.SetState(p.name, s.String())
	}
}

// Name returns the pool name.
func (p *Pool[Req, Resp]) Name() string {
	return p.name
}

// Size returns the configured number of instances.
func (p *Pool[Req, Resp]) Size() int {
	return p.size
}

// State returns the current lifecycle state.
func (p *Pool[Req, Resp]) State() State {
	return State(p.state.Load())
}

// Done is closed once the pool left Pending.
func (p *Pool[Req, Resp]) Done() <-chan struct{} {
	return p.done
}

// Err returns the creation error of a Failed pool.
func (p *Pool[Req, Resp]) Err() error {
	if p.State() != StateFailed {
		return nil
	}
	return p.err
}

// Ready blocks until the pool leaves Pending. It returns nil when Ready and
// the creation error when Failed.
func (p *Pool[Req, Resp]) Ready(ctx context.Context) error {
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if p.State() == StateFailed {
		return p.err
	}
	return nil
}

// Call dispatches req to the instance with the fewest pending requests.
func (p *Pool[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	switch p.State() {
	case StatePending:
		return zero, ErrPoolNotReady
	case StateFailed:
		return zero, ErrPoolCreationFailed
	}

	idx, inst := p.acquire()
	defer p.release(idx, inst)

	return inst.svc.Call(ctx, req)
}

// acquire picks the least loaded instance, ties going to the lowest index,
// and increments its pending counter.
func (p *Pool[Req, Resp]) acquire() (int, *instance[Req, Resp]) {
	p.selectMu.Lock()
	best := 0
	least := p.instances[0].pending.Load()
	for i := 1; i < len(p.instances); i++ {
		if n := p.instances[i].pending.Load(); n < least {
			best, least = i, n
		}
	}
	inst := p.instances[best]
	pending := inst.pending.Add(1)
	p.selectMu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordDispatch(p.name, best)
		p.metrics.SetInFlight(p.name, best, pending)
	}
	return best, inst
}

func (p *Pool[Req, Resp]) release(idx int, inst *instance[Req, Resp]) {
	pending := inst.pending.Add(-1)
	if p.metrics != nil {
		p.metrics.SetInFlight(p.name, idx, pending)
	}
}

// Pending returns a snapshot of the per-instance pending counters. It is
// nil until the pool is Ready.
func (p *Pool[Req, Resp]) Pending() []int64 {
	if p.State() != StateReady {
		return nil
	}
	out := make([]int64, len(p.instances))
	for i, inst := range p.instances {
		out[i] = inst.pending.Load()
	}
	return out
}
