package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/microtower/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceA struct{}
type serviceB struct{ a *serviceA }
type serviceX struct{}
type serviceY struct{}

var (
	keyA = registry.KeyOf[*serviceA]()
	keyB = registry.KeyOf[*serviceB]()
	keyX = registry.KeyOf[*serviceX]()
	keyY = registry.KeyOf[*serviceY]()
)

// recorder captures the creation order across factories.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
}

type fakeResolverMetrics struct {
	passes  int
	outcome string
	calls   int
}

func (f *fakeResolverMetrics) ObserveResolution(passes int, _ time.Duration, outcome string) {
	f.calls++
	f.passes = passes
	f.outcome = outcome
}

// ============================================================================
// Ordering Tests
// ============================================================================

func TestResolve_DependencyIsCreatedFirst(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	descriptors := []Descriptor{
		// B is declared first but needs A.
		Provide("b", Deps(keyA), func(_ context.Context, deps registry.View) (*serviceB, error) {
			rec.add("b")
			a, err := registry.Get[*serviceA](deps, keyA)
			if err != nil {
				return nil, err
			}
			return &serviceB{a: a}, nil
		}),
		Provide("a", nil, func(context.Context, registry.View) (*serviceA, error) {
			rec.add("a")
			return &serviceA{}, nil
		}),
	}

	reg, err := Resolve(context.Background(), descriptors)
	require.NoError(t, err)
	require.NotNil(t, reg)

	assert.Equal(t, []string{"a", "b"}, rec.order)
	assert.Equal(t, []registry.TypeKey{keyA, keyB}, reg.Keys())

	a, err := registry.Resolve[*serviceA](reg)
	require.NoError(t, err)
	b, err := registry.Resolve[*serviceB](reg)
	require.NoError(t, err)
	assert.Same(t, a, b.a, "B must receive the instance stored for A")
}

func TestResolve_DeclarationOrderWithinPass(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	leaf := func(name string) func(context.Context, registry.View) (*serviceX, error) {
		return func(context.Context, registry.View) (*serviceX, error) {
			rec.add(name)
			return &serviceX{}, nil
		}
	}

	descriptors := []Descriptor{
		Provide("x", nil, leaf("x")),
		Provide("y", nil, func(context.Context, registry.View) (*serviceY, error) {
			rec.add("y")
			return &serviceY{}, nil
		}),
	}

	reg, err := Resolve(context.Background(), descriptors)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, rec.order)
	assert.Equal(t, 2, reg.Len())
}

func TestResolve_EmptyTable(t *testing.T) {
	t.Parallel()

	reg, err := Resolve(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, 0, reg.Len())
}

func TestResolve_FactoryCalledOnce(t *testing.T) {
	t.Parallel()

	calls := map[string]int{}
	descriptors := []Descriptor{
		Provide("a", Deps(keyB), func(context.Context, registry.View) (*serviceA, error) {
			calls["a"]++
			return &serviceA{}, nil
		}),
		Provide("b", Deps(keyX), func(context.Context, registry.View) (*serviceB, error) {
			calls["b"]++
			return &serviceB{}, nil
		}),
		Provide("x", nil, func(context.Context, registry.View) (*serviceX, error) {
			calls["x"]++
			return &serviceX{}, nil
		}),
	}

	_, err := Resolve(context.Background(), descriptors)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "x": 1}, calls)
}

// ============================================================================
// Failure Tests
// ============================================================================

func TestResolve_CycleFailsWithoutRegistry(t *testing.T) {
	t.Parallel()

	called := false
	descriptors := []Descriptor{
		Provide("x", Deps(keyY), func(context.Context, registry.View) (*serviceX, error) {
			called = true
			return &serviceX{}, nil
		}),
		Provide("y", Deps(keyX), func(context.Context, registry.View) (*serviceY, error) {
			called = true
			return &serviceY{}, nil
		}),
	}

	m := &fakeResolverMetrics{}
	reg, err := Resolve(context.Background(), descriptors, WithMetrics(m))

	assert.Nil(t, reg)
	require.ErrorIs(t, err, ErrCyclicDependency)
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []registry.TypeKey{keyX, keyY}, cycle.Keys())
	assert.Contains(t, err.Error(), "x, y")
	assert.False(t, called, "no factory in a cycle may run")

	assert.Equal(t, 1, m.calls)
	assert.Equal(t, "cycle", m.outcome)
	assert.Equal(t, 1, m.passes)
}

func TestResolve_CycleAfterPartialProgress(t *testing.T) {
	t.Parallel()

	descriptors := []Descriptor{
		Provide("b", nil, func(context.Context, registry.View) (*serviceB, error) { return &serviceB{}, nil }),
		Provide("x", Deps(keyB, keyY), func(context.Context, registry.View) (*serviceX, error) { return &serviceX{}, nil }),
		Provide("y", Deps(keyX), func(context.Context, registry.View) (*serviceY, error) { return &serviceY{}, nil }),
	}

	reg, err := Resolve(context.Background(), descriptors)
	assert.Nil(t, reg, "a partially built registry is never exposed")

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []registry.TypeKey{keyX, keyY}, cycle.Keys())
}

func TestResolve_MissingProviderIsReportedAsCycle(t *testing.T) {
	t.Parallel()

	descriptors := []Descriptor{
		Provide("a", Deps(keyB), func(context.Context, registry.View) (*serviceA, error) { return &serviceA{}, nil }),
	}

	_, err := Resolve(context.Background(), descriptors)
	assert.ErrorIs(t, err, ErrCyclicDependency)
}

func TestResolve_UnsatisfiedFactoryIsRetried(t *testing.T) {
	t.Parallel()

	attempts := 0
	descriptors := []Descriptor{
		// Declares no dependencies but looks up B itself.
		Provide("a", nil, func(_ context.Context, deps registry.View) (*serviceA, error) {
			attempts++
			if !deps.Contains(keyB) {
				return nil, ErrUnsatisfied
			}
			return &serviceA{}, nil
		}),
		Provide("b", nil, func(context.Context, registry.View) (*serviceB, error) { return &serviceB{}, nil }),
	}

	reg, err := Resolve(context.Background(), descriptors)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []registry.TypeKey{keyB, keyA}, reg.Keys())
}

func TestResolve_AlwaysUnsatisfiedIsCycle(t *testing.T) {
	t.Parallel()

	descriptors := []Descriptor{
		Provide("a", nil, func(context.Context, registry.View) (*serviceA, error) {
			return nil, ErrUnsatisfied
		}),
	}

	reg, err := Resolve(context.Background(), descriptors)
	assert.Nil(t, reg)
	assert.ErrorIs(t, err, ErrCyclicDependency)
}

func TestResolve_FactoryErrorAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	bCalled := false
	descriptors := []Descriptor{
		Provide("a", nil, func(context.Context, registry.View) (*serviceA, error) { return nil, boom }),
		Provide("b", nil, func(context.Context, registry.View) (*serviceB, error) {
			bCalled = true
			return &serviceB{}, nil
		}),
	}

	m := &fakeResolverMetrics{}
	reg, err := Resolve(context.Background(), descriptors, WithMetrics(m))
	assert.Nil(t, reg)
	require.ErrorIs(t, err, boom)

	var factoryErr *FactoryError
	require.True(t, errors.As(err, &factoryErr))
	assert.Equal(t, "a", factoryErr.Name)
	assert.Equal(t, keyA, factoryErr.Key)
	assert.False(t, bCalled)
	assert.Equal(t, "error", m.outcome)
}

func TestResolve_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	descriptors := []Descriptor{
		Provide("b", nil, func(context.Context, registry.View) (*serviceB, error) { return &serviceB{}, nil }),
	}

	m := &fakeResolverMetrics{}
	reg, err := Resolve(ctx, descriptors, WithMetrics(m))
	assert.Nil(t, reg)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "cancelled", m.outcome)
}

// ============================================================================
// Validation Tests
// ============================================================================

func TestResolve_RejectsDuplicateKeys(t *testing.T) {
	t.Parallel()

	build := func(context.Context, registry.View) (*serviceB, error) { return &serviceB{}, nil }
	_, err := Resolve(context.Background(), []Descriptor{
		Provide("b1", nil, build),
		Provide("b2", nil, build),
	})
	assert.ErrorIs(t, err, ErrDuplicateDescriptor)
}

func TestResolve_RejectsMissingKeyOrFactory(t *testing.T) {
	t.Parallel()

	_, err := Resolve(context.Background(), []Descriptor{{Name: "nokey", Factory: func(context.Context, registry.View) (any, error) { return 1, nil }}})
	assert.Error(t, err)

	_, err = Resolve(context.Background(), []Descriptor{{Name: "nofactory", Key: keyA}})
	assert.Error(t, err)
}

func TestResolve_MetricsOnSuccess(t *testing.T) {
	t.Parallel()

	descriptors := []Descriptor{
		Provide("a", Deps(keyB), func(context.Context, registry.View) (*serviceA, error) { return &serviceA{}, nil }),
		Provide("b", nil, func(context.Context, registry.View) (*serviceB, error) { return &serviceB{}, nil }),
	}

	m := &fakeResolverMetrics{}
	_, err := Resolve(context.Background(), descriptors, WithMetrics(m))
	require.NoError(t, err)
	assert.Equal(t, "ok", m.outcome)
	// Pass 1 creates B, pass 2 creates A, pass 3 observes an empty table.
	assert.Equal(t, 3, m.passes)
}

// ============================================================================
// Plan Tests
// ============================================================================

func TestPlan_MatchesResolveOrder(t *testing.T) {
	t.Parallel()

	called := false
	descriptors := []Descriptor{
		Provide("a", Deps(keyB), func(context.Context, registry.View) (*serviceA, error) {
			called = true
			return &serviceA{}, nil
		}),
		Provide("b", nil, func(context.Context, registry.View) (*serviceB, error) {
			called = true
			return &serviceB{}, nil
		}),
	}

	steps, err := Plan(descriptors)
	require.NoError(t, err)
	assert.False(t, called, "planning never builds services")

	require.Len(t, steps, 2)
	assert.Equal(t, "b", steps[0].Name)
	assert.Equal(t, 1, steps[0].Pass)
	assert.Equal(t, "a", steps[1].Name)
	assert.Equal(t, 2, steps[1].Pass)
	assert.Equal(t, []registry.TypeKey{keyB}, steps[1].Dependencies)
}

func TestPlan_ReportsCycle(t *testing.T) {
	t.Parallel()

	descriptors := []Descriptor{
		Provide("b", nil, func(context.Context, registry.View) (*serviceB, error) { return &serviceB{}, nil }),
		Provide("x", Deps(keyY), func(context.Context, registry.View) (*serviceX, error) { return &serviceX{}, nil }),
		Provide("y", Deps(keyX), func(context.Context, registry.View) (*serviceY, error) { return &serviceY{}, nil }),
	}

	steps, err := Plan(descriptors)
	require.ErrorIs(t, err, ErrCyclicDependency)
	require.Len(t, steps, 1)
	assert.Equal(t, "b", steps[0].Name)
}
