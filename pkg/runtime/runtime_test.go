package runtime

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mprom "github.com/marmos91/microtower/pkg/metrics/prometheus"
	"github.com/marmos91/microtower/pkg/registry"
	"github.com/marmos91/microtower/pkg/resolver"
	"github.com/marmos91/microtower/pkg/service"
)

type upperService struct{}

func (upperService) Call(_ context.Context, s string) (string, error) {
	return strings.ToUpper(s), nil
}

type shoutService struct {
	upper service.Service[string, string]
}

func (s *shoutService) Call(ctx context.Context, in string) (string, error) {
	out, err := s.upper.Call(ctx, in)
	return out + "!", err
}

var (
	upperKey = registry.KeyOf[*upperService]()
	shoutKey = registry.KeyOf[*shoutService]()
)

func upperDescriptor(created *atomic.Int32) resolver.Descriptor {
	return resolver.Provide("upper", nil, func(context.Context, registry.View) (*upperService, error) {
		if created != nil {
			created.Add(1)
		}
		return &upperService{}, nil
	})
}

func shoutDescriptor() resolver.Descriptor {
	return resolver.Provide("shout", resolver.Deps(upperKey), func(_ context.Context, v registry.View) (*shoutService, error) {
		upper, err := registry.Get[*upperService](v, upperKey)
		if err != nil {
			return nil, err
		}
		return &shoutService{upper: upper}, nil
	})
}

func serveAsync(t *testing.T, rt *Runtime) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- rt.Serve(context.Background()) }()
	t.Cleanup(rt.Shutdown)
	return done
}

// waitBound waits until every listener either bound its port or failed to.
func waitBound(t *testing.T, rt *Runtime) map[string]ServiceInfo {
	t.Helper()
	require.Eventually(t, func() bool {
		rt.mu.RLock()
		defer rt.mu.RUnlock()
		if rt.bound == nil {
			return false
		}
		for _, b := range rt.bound {
			select {
			case <-b.listener.Ready():
			default:
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	out := make(map[string]ServiceInfo)
	for _, info := range rt.Services() {
		out[info.Name] = info
	}
	return out
}

func request(t *testing.T, addr, payload string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func waitStopped(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
		return nil
	}
}

// ============================================================================
// Bind Tests
// ============================================================================

func TestBind_Validation(t *testing.T) {
	t.Parallel()

	rt := New(Config{}, []resolver.Descriptor{upperDescriptor(nil)})

	assert.Error(t, Bind[string, string](rt, BindSpec{Key: upperKey}))
	assert.Error(t, Bind[string, string](rt, BindSpec{Name: "upper"}))

	require.NoError(t, Bind[string, string](rt, BindSpec{Name: "upper", Key: upperKey, Port: 7001}))
	assert.Error(t, Bind[string, string](rt, BindSpec{Name: "upper", Key: upperKey, Port: 7002}), "duplicate name")
	assert.Error(t, Bind[string, string](rt, BindSpec{Name: "other", Key: upperKey, Port: 7001}), "duplicate port")
	assert.NoError(t, Bind[string, string](rt, BindSpec{Name: "any1", Key: upperKey}), "port 0 never collides")
	assert.NoError(t, Bind[string, string](rt, BindSpec{Name: "any2", Key: upperKey}))

	infos := rt.Services()
	require.Len(t, infos, 3)
	assert.Equal(t, "declared", infos[0].State)
	assert.Equal(t, "json", infos[0].Codec)
	assert.Equal(t, "short-read", infos[0].Framing)
	assert.Equal(t, 1, infos[0].Replicas)
}

// ============================================================================
// Serve Tests
// ============================================================================

func TestServe_RoundTrip(t *testing.T) {
	t.Parallel()

	rt := New(Config{}, []resolver.Descriptor{shoutDescriptor(), upperDescriptor(nil)},
		WithMetrics(mprom.New(prometheus.NewRegistry())))
	require.NoError(t, Bind[string, string](rt, BindSpec{Name: "shout", Key: shoutKey, BindAddress: "127.0.0.1"}))

	assert.ErrorIs(t, rt.Ready(context.Background()), ErrNotStarted)

	done := serveAsync(t, rt)
	infos := waitBound(t, rt)

	shout := infos["shout"]
	require.True(t, shout.Listening)
	assert.Equal(t, "ready", shout.State)
	assert.JSONEq(t, `{"type":"ok","data":"HEY!"}`, request(t, shout.Addr, `"hey"`))
	assert.JSONEq(t, `{"type":"400"}`, request(t, shout.Addr, `hey`))

	reg := rt.Registry()
	require.NotNil(t, reg)
	assert.Equal(t, []registry.TypeKey{upperKey, shoutKey}, reg.Keys())

	rt.Shutdown()
	assert.NoError(t, waitStopped(t, done))
	assert.ErrorIs(t, rt.Serve(context.Background()), ErrAlreadyServed)
}

func TestServe_ContextCancelStops(t *testing.T) {
	t.Parallel()

	rt := New(Config{}, []resolver.Descriptor{upperDescriptor(nil)})
	require.NoError(t, Bind[string, string](rt, BindSpec{Name: "upper", Key: upperKey, BindAddress: "127.0.0.1"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx) }()
	waitBound(t, rt)

	cancel()
	assert.NoError(t, waitStopped(t, done))
	assert.True(t, rt.Controller().IsCancelled())
}

func TestServe_CycleIsFatal(t *testing.T) {
	t.Parallel()

	type x struct{}
	type y struct{}
	xKey, yKey := registry.KeyOf[*x](), registry.KeyOf[*y]()

	rt := New(Config{}, []resolver.Descriptor{
		resolver.Provide("x", resolver.Deps(yKey), func(context.Context, registry.View) (*x, error) { return &x{}, nil }),
		resolver.Provide("y", resolver.Deps(xKey), func(context.Context, registry.View) (*y, error) { return &y{}, nil }),
	})

	err := rt.Serve(context.Background())
	assert.ErrorIs(t, err, resolver.ErrCyclicDependency)
	assert.Nil(t, rt.Registry())
	assert.True(t, rt.Controller().IsCancelled())
}

func TestServe_TypeMismatchIsFatal(t *testing.T) {
	t.Parallel()

	rt := New(Config{}, []resolver.Descriptor{upperDescriptor(nil)})
	require.NoError(t, Bind[int, int](rt, BindSpec{Name: "upper", Key: upperKey}))

	err := rt.Serve(context.Background())
	var mismatch *registry.TypeMismatchError
	assert.True(t, errors.As(err, &mismatch))
}

func TestServe_ReplicasRunAPool(t *testing.T) {
	t.Parallel()

	var created atomic.Int32
	rt := New(Config{}, []resolver.Descriptor{upperDescriptor(&created)})
	require.NoError(t, Bind[string, string](rt, BindSpec{
		Name:        "upper",
		Key:         upperKey,
		BindAddress: "127.0.0.1",
		Replicas:    3,
		Layers:      service.Layers{Buffer: 4, ConcurrencyLimit: 2},
	}))

	done := serveAsync(t, rt)
	infos := waitBound(t, rt)
	require.NoError(t, rt.Ready(context.Background()))

	upper := infos["upper"]
	for i := 0; i < 10; i++ {
		assert.JSONEq(t, `{"type":"ok","data":"ABC"}`, request(t, upper.Addr, `"abc"`))
	}
	assert.Equal(t, int32(3), created.Load(), "one resolver instance plus two replicas")
	assert.Equal(t, "ready", rt.Services()[0].State)

	rt.Shutdown()
	assert.NoError(t, waitStopped(t, done))
}

func TestServe_BindErrorStopsOnlyItsListener(t *testing.T) {
	t.Parallel()

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()
	port := taken.Addr().(*net.TCPAddr).Port

	rt := New(Config{}, []resolver.Descriptor{upperDescriptor(nil), shoutDescriptor()})
	require.NoError(t, Bind[string, string](rt, BindSpec{Name: "broken", Key: upperKey, BindAddress: "127.0.0.1", Port: port}))
	require.NoError(t, Bind[string, string](rt, BindSpec{Name: "shout", Key: shoutKey, BindAddress: "127.0.0.1"}))

	done := serveAsync(t, rt)
	infos := waitBound(t, rt)

	assert.False(t, infos["broken"].Listening)
	assert.Error(t, rt.Ready(context.Background()))

	require.True(t, infos["shout"].Listening)
	assert.JSONEq(t, `{"type":"ok","data":"OK!"}`, request(t, infos["shout"].Addr, `"ok"`))

	rt.Shutdown()
	err = waitStopped(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

// ============================================================================
// API Server Tests
// ============================================================================

type fakeAPIServer struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (f *fakeAPIServer) Start(ctx context.Context) error {
	f.started.Store(true)
	<-ctx.Done()
	return nil
}

func (f *fakeAPIServer) Stop(context.Context) error {
	f.stopped.Store(true)
	return nil
}

func (f *fakeAPIServer) Port() int { return 0 }

func TestServe_ManagesAPIServer(t *testing.T) {
	t.Parallel()

	api := &fakeAPIServer{}
	rt := New(Config{}, []resolver.Descriptor{upperDescriptor(nil)})
	rt.SetAPIServer(api)

	done := serveAsync(t, rt)
	require.Eventually(t, api.started.Load, 2*time.Second, 5*time.Millisecond)

	rt.Shutdown()
	assert.NoError(t, waitStopped(t, done))
	assert.True(t, api.stopped.Load())
	assert.Panics(t, func() { rt.SetAPIServer(api) })
}

func TestPlan_DoesNotCreateServices(t *testing.T) {
	t.Parallel()

	var created atomic.Int32
	rt := New(Config{}, []resolver.Descriptor{shoutDescriptor(), upperDescriptor(&created)})

	steps, err := rt.Plan()
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "upper", steps[0].Name)
	assert.Equal(t, "shout", steps[1].Name)
	assert.Equal(t, int32(0), created.Load())
}
