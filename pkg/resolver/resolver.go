// Package resolver instantiates a table of service descriptors into a frozen
// registry, creating each service only once all of its dependencies exist.
//
// Resolution is an iterative fixed point rather than a topological sort: every
// pass walks the descriptors that are still pending in declaration order and
// creates those whose dependencies are present. A pass that creates nothing
// while descriptors remain pending means the graph contains a cycle (or a
// dependency that no descriptor provides), and resolution fails without
// exposing a partially built registry.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/microtower/internal/logger"
	"github.com/marmos91/microtower/pkg/metrics"
	"github.com/marmos91/microtower/pkg/registry"
)

var (
	// ErrCyclicDependency is matched by *CycleError.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrUnsatisfied may be returned by a Factory to signal that it cannot be
	// built yet. The descriptor stays pending and the pass is not counted as
	// progress.
	ErrUnsatisfied = errors.New("dependencies not yet satisfiable")

	// ErrDuplicateDescriptor is returned when two descriptors share a key.
	ErrDuplicateDescriptor = errors.New("duplicate service descriptor")
)

// Factory builds one service instance. It receives read access to every
// instance created so far.
type Factory func(ctx context.Context, deps registry.View) (any, error)

// Descriptor declares a service: its identity, the identities it depends on,
// and how to build it.
type Descriptor struct {
	Name         string
	Key          registry.TypeKey
	Dependencies []registry.TypeKey
	Factory      Factory
}

func (d Descriptor) label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Key.String()
}

// Provide builds a Descriptor whose key is derived from T.
func Provide[T any](name string, deps []registry.TypeKey, build func(ctx context.Context, deps registry.View) (T, error)) Descriptor {
	return Descriptor{
		Name:         name,
		Key:          registry.KeyOf[T](),
		Dependencies: deps,
		Factory: func(ctx context.Context, v registry.View) (any, error) {
			return build(ctx, v)
		},
	}
}

// Deps is shorthand for a dependency list.
func Deps(keys ...registry.TypeKey) []registry.TypeKey {
	return keys
}

// CycleError is returned when resolution stops making progress.
type CycleError struct {
	Unresolved []Descriptor
}

func (e *CycleError) Error() string {
	names := make([]string, 0, len(e.Unresolved))
	for _, d := range e.Unresolved {
		names = append(names, d.label())
	}
	return fmt.Sprintf("%v: unresolved services [%s]", ErrCyclicDependency, strings.Join(names, ", "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCyclicDependency
}

// Keys returns the keys of the unresolved descriptors.
func (e *CycleError) Keys() []registry.TypeKey {
	keys := make([]registry.TypeKey, 0, len(e.Unresolved))
	for _, d := range e.Unresolved {
		keys = append(keys, d.Key)
	}
	return keys
}

// FactoryError wraps a failure returned by a descriptor's factory.
type FactoryError struct {
	Name string
	Key  registry.TypeKey
	Err  error
}

func (e *FactoryError) Error() string {
	return fmt.Sprintf("create service %s: %v", e.Name, e.Err)
}

func (e *FactoryError) Unwrap() error {
	return e.Err
}

// Option configures Resolve.
type Option func(*options)

type options struct {
	metrics metrics.ResolverMetrics
}

// WithMetrics records pass counts and resolution latency.
func WithMetrics(m metrics.ResolverMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// Resolve creates every descriptor into a new registry.
//
// On success the returned registry contains every descriptor's key. On any
// failure (cycle, factory error, cancellation) the registry is nil.
func Resolve(ctx context.Context, descriptors []Descriptor, opts ...Option) (*registry.Registry, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if err := validate(descriptors); err != nil {
		return nil, err
	}

	start := time.Now()
	builder := registry.NewBuilder()
	passes := 0

	outcome := "ok"
	defer func() {
		if o.metrics != nil {
			o.metrics.ObserveResolution(passes, time.Since(start), outcome)
		}
	}()

	empty, changed := false, true
	for !empty && changed {
		if err := ctx.Err(); err != nil {
			outcome = "cancelled"
			return nil, err
		}

		passes++
		logger.Debug("Resolver pass started", "pass", passes, "created", builder.Len())

		empty, changed = true, false
		for _, d := range descriptors {
			if builder.Contains(d.Key) {
				continue
			}
			empty = false

			if missing := missingDeps(builder, d); len(missing) > 0 {
				logger.Debug("Delaying service until dependencies exist",
					"service", d.label(), "missing", keyNames(missing))
				continue
			}

			instance, err := d.Factory(ctx, builder)
			if errors.Is(err, ErrUnsatisfied) {
				logger.Debug("Service factory not yet satisfiable", "service", d.label())
				continue
			}
			if err != nil {
				outcome = "error"
				return nil, &FactoryError{Name: d.label(), Key: d.Key, Err: err}
			}

			if err := builder.Insert(d.Key, instance); err != nil {
				outcome = "error"
				return nil, &FactoryError{Name: d.label(), Key: d.Key, Err: err}
			}
			changed = true
			logger.Info("Service created", "service", d.label(), "pass", passes)
		}
	}

	if !empty {
		outcome = "cycle"
		cycle := &CycleError{}
		for _, d := range descriptors {
			if !builder.Contains(d.Key) {
				cycle.Unresolved = append(cycle.Unresolved, d)
			}
		}
		logger.Error("Service resolution failed", "error", cycle)
		return nil, cycle
	}

	logger.Info("Services resolved", "count", builder.Len(), "passes", passes,
		"duration_ms", logger.Duration(start))
	return builder.Build(), nil
}

func validate(descriptors []Descriptor) error {
	seen := make(map[registry.TypeKey]string, len(descriptors))
	for i, d := range descriptors {
		if d.Key.IsZero() {
			return fmt.Errorf("descriptor %d (%q) has no key", i, d.Name)
		}
		if d.Factory == nil {
			return fmt.Errorf("descriptor %s has no factory", d.label())
		}
		if prev, ok := seen[d.Key]; ok {
			return fmt.Errorf("%w: %s declared by %q and %q", ErrDuplicateDescriptor, d.Key, prev, d.label())
		}
		seen[d.Key] = d.label()
	}
	return nil
}

func missingDeps(v registry.View, d Descriptor) []registry.TypeKey {
	var missing []registry.TypeKey
	for _, dep := range d.Dependencies {
		if !v.Contains(dep) {
			missing = append(missing, dep)
		}
	}
	return missing
}

func keyNames(keys []registry.TypeKey) []string {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return names
}
