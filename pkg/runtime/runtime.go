// Package runtime assembles the service graph and exposes bound services on
// their TCP ports.
//
// A Runtime is configured with the descriptor table and one Bind call per
// exposed service. Serve resolves the graph, builds the handler chain of
// every binding (pool, layers, api wrapper), starts one listener per binding
// and blocks until shutdown. A dependency cycle or a failing factory aborts
// startup; a bind error only stops the listener it belongs to.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/microtower/internal/logger"
	"github.com/marmos91/microtower/pkg/api"
	"github.com/marmos91/microtower/pkg/metrics"
	"github.com/marmos91/microtower/pkg/registry"
	"github.com/marmos91/microtower/pkg/resolver"
	"github.com/marmos91/microtower/pkg/session"
	"github.com/marmos91/microtower/pkg/shutdown"
)

// DefaultShutdownTimeout is the default drain timeout of every listener.
const DefaultShutdownTimeout = session.DefaultShutdownTimeout

var (
	// ErrAlreadyServed is returned by a second Serve call.
	ErrAlreadyServed = errors.New("runtime already served")

	// ErrNotStarted is returned by Ready before the graph was resolved.
	ErrNotStarted = errors.New("runtime not started")
)

// AuxiliaryServer is an HTTP server managed alongside the service listeners.
type AuxiliaryServer interface {
	// Start starts the server and blocks until ctx is cancelled or error.
	Start(ctx context.Context) error
	// Stop initiates graceful shutdown.
	Stop(ctx context.Context) error
	// Port returns the TCP port the server is listening on.
	Port() int
}

// Metrics hands out the recorders of every runtime component. It is
// implemented by pkg/metrics/prometheus.
type Metrics interface {
	Resolver() metrics.ResolverMetrics
	Pool() metrics.PoolMetrics
	Session(service string) metrics.SessionMetrics
}

// Config holds the runtime-wide settings.
type Config struct {
	// ShutdownTimeout bounds the connection drain of each listener.
	ShutdownTimeout time.Duration
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMetrics enables metrics on every component.
func WithMetrics(m Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// Runtime owns the registry, the bound services and the root shutdown
// controller.
type Runtime struct {
	mu          sync.RWMutex
	config      Config
	descriptors []resolver.Descriptor
	bindings    []*binding
	metrics     Metrics

	registry *registry.Registry
	root     *shutdown.Controller
	bound    []*boundService

	apiServer AuxiliaryServer

	serveOnce sync.Once
	served    bool
}

// boundService is a started binding.
type boundService struct {
	spec     BindSpec
	chain    *chain
	listener *session.Listener
}

// New creates a runtime for the given descriptor table.
func New(cfg Config, descriptors []resolver.Descriptor, opts ...Option) *Runtime {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	rt := &Runtime{
		config:      cfg,
		descriptors: descriptors,
		root:        shutdown.NewRoot(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Controller returns the root shutdown controller. Cancelling it stops the
// runtime.
func (r *Runtime) Controller() *shutdown.Controller {
	return r.root
}

// Shutdown cancels the root controller. Serve returns once every listener
// drained.
func (r *Runtime) Shutdown() {
	r.root.Cancel()
}

// SetAPIServer registers the admin HTTP server started by Serve.
func (r *Runtime) SetAPIServer(server AuxiliaryServer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.served {
		panic("cannot set API server after Serve() has been called")
	}
	r.apiServer = server
	if server != nil {
		logger.Info("API server registered", "port", server.Port())
	}
}

// Plan returns the creation order Serve would use, without creating any
// service.
func (r *Runtime) Plan() ([]resolver.Step, error) {
	return resolver.Plan(r.descriptors)
}

// Registry returns the resolved registry, or nil before Serve resolved it.
func (r *Runtime) Registry() *registry.Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registry
}

// Serve resolves the service graph, starts every binding and blocks until
// ctx is done or the root controller is cancelled. It returns the
// resolution error, or the joined listener errors after shutdown.
func (r *Runtime) Serve(ctx context.Context) error {
	err := ErrAlreadyServed

	r.serveOnce.Do(func() {
		r.mu.Lock()
		r.served = true
		r.mu.Unlock()
		err = r.serve(ctx)
	})

	return err
}

func (r *Runtime) serve(ctx context.Context) error {
	logger.Info("Starting microtower runtime",
		"services", len(r.descriptors), "bindings", len(r.bindings))

	stop := context.AfterFunc(ctx, r.root.Cancel)
	defer stop()

	// 1. Resolve the service graph
	var resolverOpts []resolver.Option
	if r.metrics != nil {
		resolverOpts = append(resolverOpts, resolver.WithMetrics(r.metrics.Resolver()))
	}
	reg, err := resolver.Resolve(r.root.Context(), r.descriptors, resolverOpts...)
	if err != nil {
		r.root.Cancel()
		return fmt.Errorf("failed to resolve services: %w", err)
	}

	r.mu.Lock()
	r.registry = reg
	r.mu.Unlock()

	// 2. Build the handler chain of every binding
	bound, err := r.buildBindings(reg)
	if err != nil {
		r.root.Cancel()
		return err
	}

	r.mu.Lock()
	r.bound = bound
	r.mu.Unlock()

	// 3. Start listeners and the API server
	var g errgroup.Group
	var errsMu sync.Mutex
	var errs []error

	for _, b := range bound {
		g.Go(func() error {
			if err := b.listener.Serve(r.root.Child()); err != nil {
				logger.Error("Service listener stopped with error",
					"service", b.spec.Name, "port", b.spec.Port, "error", err)
				errsMu.Lock()
				errs = append(errs, err)
				errsMu.Unlock()
			}
			return nil
		})
	}

	r.mu.RLock()
	apiServer := r.apiServer
	r.mu.RUnlock()

	if apiServer != nil {
		g.Go(func() error {
			if err := apiServer.Start(r.root.Context()); err != nil {
				logger.Error("API server error", "error", err)
				errsMu.Lock()
				errs = append(errs, fmt.Errorf("API server error: %w", err))
				errsMu.Unlock()
			}
			return nil
		})
	}

	// 4. Wait for shutdown, then release the layers
	<-r.root.Wait()
	logger.Info("Shutdown signal received", "reason", context.Cause(r.root.Context()))

	if apiServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), r.config.ShutdownTimeout)
		if err := apiServer.Stop(stopCtx); err != nil {
			logger.Warn("Error stopping API server", "error", err)
		}
		cancel()
	}

	_ = g.Wait()
	for _, b := range bound {
		if err := b.chain.closer.Close(); err != nil {
			logger.Warn("Error closing service layers", "service", b.spec.Name, "error", err)
		}
	}

	logger.Info("microtower runtime stopped")
	return errors.Join(errs...)
}

func (r *Runtime) buildBindings(reg *registry.Registry) ([]*boundService, error) {
	bound := make([]*boundService, 0, len(r.bindings))
	for _, b := range r.bindings {
		var (
			sm   metrics.SessionMetrics
			pm   metrics.PoolMetrics
			opts []session.Option
		)
		if r.metrics != nil {
			sm = r.metrics.Session(b.spec.Name)
			pm = r.metrics.Pool()
			opts = append(opts, session.WithMetrics(sm))
		}

		c, err := b.build(r.root.Context(), reg, r.descriptorFor(b.spec.Key), sm, pm)
		if err != nil {
			closeChains(bound)
			return nil, fmt.Errorf("failed to bind service %s: %w", b.spec.Name, err)
		}

		// One chain serves every connection of the binding.
		handler := c.handler
		listener := session.NewListener(session.Config{
			Name:            b.spec.Name,
			BindAddress:     b.spec.BindAddress,
			Port:            b.spec.Port,
			MaxConnections:  b.spec.MaxConnections,
			ShutdownTimeout: r.config.ShutdownTimeout,
		}, b.spec.Framer, func(context.Context, net.Addr) (api.Handler, error) {
			return handler, nil
		}, opts...)

		bound = append(bound, &boundService{spec: b.spec, chain: c, listener: listener})
		logger.Debug("Service bound", "service", b.spec.Name, "key", b.spec.Key.String(),
			"port", b.spec.Port, "replicas", b.spec.Replicas,
			"codec", b.spec.Codec.Name(), "framing", b.spec.Framer.Name())
	}
	return bound, nil
}

func (r *Runtime) descriptorFor(key registry.TypeKey) *resolver.Descriptor {
	for i := range r.descriptors {
		if r.descriptors[i].Key == key {
			return &r.descriptors[i]
		}
	}
	return nil
}

func closeChains(bound []*boundService) {
	for _, b := range bound {
		_ = b.chain.closer.Close()
	}
}

// Ready reports whether every bound service is listening and ready to take
// requests.
func (r *Runtime) Ready(ctx context.Context) error {
	r.mu.RLock()
	bound := r.bound
	r.mu.RUnlock()

	if bound == nil {
		return ErrNotStarted
	}
	for _, b := range bound {
		select {
		case <-b.listener.Ready():
		case <-ctx.Done():
			return ctx.Err()
		}
		if b.listener.Addr() == "" {
			return fmt.Errorf("service %s is not listening", b.spec.Name)
		}
		if err := b.chain.handler.Ready(ctx); err != nil {
			return fmt.Errorf("service %s: %w", b.spec.Name, err)
		}
	}
	return nil
}
