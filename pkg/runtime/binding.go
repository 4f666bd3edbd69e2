package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/marmos91/microtower/pkg/api"
	"github.com/marmos91/microtower/pkg/api/codec"
	"github.com/marmos91/microtower/pkg/metrics"
	"github.com/marmos91/microtower/pkg/pool"
	"github.com/marmos91/microtower/pkg/registry"
	"github.com/marmos91/microtower/pkg/resolver"
	"github.com/marmos91/microtower/pkg/service"
	"github.com/marmos91/microtower/pkg/session"
)

// BindSpec declares one service exposed on a TCP port.
type BindSpec struct {
	// Name identifies the binding in logs, metrics and the admin API.
	Name string

	// Key selects the registry entry to expose. The stored instance must
	// implement service.Service[Req, Resp] for the types given to Bind.
	Key registry.TypeKey

	BindAddress string
	Port        int

	// Codec defaults to JSON.
	Codec codec.Codec

	// Framer defaults to short-read framing with 1024-byte chunks.
	Framer session.Framer

	// Replicas > 1 runs a balanced pool. Extra instances are created by
	// calling the descriptor factory of Key again.
	Replicas int

	Layers         service.Layers
	MaxConnections int
}

// chain is the built request path of one binding.
type chain struct {
	handler api.Handler
	closer  io.Closer
	state   func() string
}

type buildFunc func(ctx context.Context, reg registry.View, desc *resolver.Descriptor,
	sm metrics.SessionMetrics, pm metrics.PoolMetrics) (*chain, error)

type binding struct {
	spec  BindSpec
	build buildFunc
}

// Bind declares that the registry entry spec.Key is served on spec.Port as
// a Service[Req, Resp]. It must be called before Serve.
func Bind[Req, Resp any](r *Runtime, spec BindSpec) error {
	if spec.Name == "" {
		return errors.New("bind: service name is required")
	}
	if spec.Key.IsZero() {
		return fmt.Errorf("bind %s: registry key is required", spec.Name)
	}
	if spec.Replicas < 1 {
		spec.Replicas = 1
	}
	if spec.Codec == nil {
		spec.Codec = codec.JSON{}
	}
	if spec.Framer == nil {
		spec.Framer = session.ShortRead{ChunkSize: session.DefaultChunkSize}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.served {
		return ErrAlreadyServed
	}
	for _, b := range r.bindings {
		if b.spec.Name == spec.Name {
			return fmt.Errorf("bind %s: service name already bound", spec.Name)
		}
		if spec.Port != 0 && b.spec.Port == spec.Port && b.spec.BindAddress == spec.BindAddress {
			return fmt.Errorf("bind %s: port %d already used by %s", spec.Name, spec.Port, b.spec.Name)
		}
	}

	r.bindings = append(r.bindings, &binding{
		spec: spec,
		build: func(ctx context.Context, reg registry.View, desc *resolver.Descriptor,
			sm metrics.SessionMetrics, pm metrics.PoolMetrics) (*chain, error) {
			return buildChain[Req, Resp](ctx, spec, reg, desc, sm, pm)
		},
	})
	return nil
}

// buildChain stacks pool, layers and the api wrapper on top of the resolved
// instance. ctx bounds the lifetime of the pool creation goroutine.
func buildChain[Req, Resp any](ctx context.Context, spec BindSpec, reg registry.View, desc *resolver.Descriptor,
	sm metrics.SessionMetrics, pm metrics.PoolMetrics) (*chain, error) {

	svc, err := registry.Get[service.Service[Req, Resp]](reg, spec.Key)
	if err != nil {
		return nil, err
	}
	state := func() string { return pool.StateReady.String() }

	if spec.Replicas > 1 {
		if desc == nil {
			return nil, fmt.Errorf("no descriptor for %s to create replicas from", spec.Key)
		}
		opts := []pool.Option{pool.WithName(spec.Name)}
		if pm != nil {
			opts = append(opts, pool.WithMetrics(pm))
		}
		p := pool.New(ctx, spec.Replicas, replicaFactory(svc, desc, reg), opts...)
		svc = p
		state = func() string { return p.State().String() }
	}

	layered, closer := service.Apply(svc, spec.Layers)

	var apiOpts []api.Option
	if sm != nil {
		apiOpts = append(apiOpts, api.WithMetrics(sm))
	}
	handler, err := api.Wrap(spec.Name, layered, spec.Codec, apiOpts...)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	return &chain{handler: handler, closer: closer, state: state}, nil
}

// replicaFactory reuses the resolved instance as replica 0 and calls the
// descriptor factory for the others.
func replicaFactory[Req, Resp any](first service.Service[Req, Resp], desc *resolver.Descriptor, reg registry.View) pool.Factory[Req, Resp] {
	return func(ctx context.Context, index int) (service.Service[Req, Resp], error) {
		if index == 0 {
			return first, nil
		}

		raw, err := desc.Factory(ctx, reg)
		if err != nil {
			return nil, err
		}
		svc, ok := raw.(service.Service[Req, Resp])
		if !ok {
			return nil, &registry.TypeMismatchError{
				Key:  desc.Key,
				Want: reflect.TypeFor[service.Service[Req, Resp]](),
				Got:  reflect.TypeOf(raw),
			}
		}
		return svc, nil
	}
}
