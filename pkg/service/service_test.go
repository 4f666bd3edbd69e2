package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upper = Func[string, string](func(_ context.Context, s string) (string, error) {
	return strings.ToUpper(s), nil
})

// gate blocks every call until release is closed and tracks peak concurrency.
type gate struct {
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
}

func newGate() *gate {
	return &gate{release: make(chan struct{})}
}

func (g *gate) Call(ctx context.Context, n int) (int, error) {
	g.calls.Add(1)
	cur := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		peak := g.peak.Load()
		if cur <= peak || g.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	select {
	case <-g.release:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ============================================================================
// NotReady Tests
// ============================================================================

func TestNotReadyError_Message(t *testing.T) {
	t.Parallel()

	err := &NotReadyError{Name: "db"}
	assert.Equal(t, "service `db` not ready", err.Error())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestAwaitReady_PlainServiceIsReady(t *testing.T) {
	t.Parallel()

	assert.NoError(t, AwaitReady(context.Background(), upper))
}

// ============================================================================
// Slot Tests
// ============================================================================

func TestSlot_EmptyFailsImmediately(t *testing.T) {
	t.Parallel()

	slot := NewSlot[string, string]("upper")

	start := time.Now()
	_, err := slot.Call(context.Background(), "x")
	var notReady *NotReadyError
	require.True(t, errors.As(err, &notReady))
	assert.Equal(t, "upper", notReady.Name)
	assert.Less(t, time.Since(start), time.Second)

	assert.ErrorIs(t, slot.Ready(context.Background()), ErrNotReady)
}

func TestSlot_FillOnce(t *testing.T) {
	t.Parallel()

	slot := NewSlot[string, string]("upper")
	require.NoError(t, slot.Fill(upper))
	assert.ErrorIs(t, slot.Fill(upper), ErrSlotFilled)

	out, err := slot.Call(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "ABC", out)
	assert.NoError(t, slot.Ready(context.Background()))
}

func TestSlot_ExclusiveAcquisitionReleasedOnError(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	failing := Func[int, int](func(_ context.Context, n int) (int, error) {
		cur := active.Add(1)
		defer active.Add(-1)
		if cur > peak.Load() {
			peak.Store(cur)
		}
		time.Sleep(time.Millisecond)
		return 0, errors.New("boom")
	})
	slot := Filled[int, int]("failing", failing)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := slot.Call(context.Background(), i)
			assert.EqualError(t, err, "boom")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
}

// ============================================================================
// ConcurrencyLimit Tests
// ============================================================================

func TestConcurrencyLimit_CapsInFlight(t *testing.T) {
	t.Parallel()

	g := newGate()
	limited := NewConcurrencyLimit[int, int](g, 2)
	assert.Equal(t, 2, limited.Max())

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := limited.Call(context.Background(), i)
			assert.NoError(t, err)
		}(i)
	}

	require.Eventually(t, func() bool { return g.active.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), g.active.Load())

	close(g.release)
	wg.Wait()
	assert.Equal(t, int32(2), g.peak.Load())
	assert.Equal(t, int32(6), g.calls.Load())
}

func TestConcurrencyLimit_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	g := newGate()
	limited := NewConcurrencyLimit[int, int](g, 1)

	go func() { _, _ = limited.Call(context.Background(), 1) }()
	require.Eventually(t, func() bool { return g.active.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := limited.Call(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(g.release)
}

// ============================================================================
// Buffer Tests
// ============================================================================

func TestBuffer_PassesThrough(t *testing.T) {
	t.Parallel()

	b := NewBuffer[string, string](upper, 4)
	defer b.Close()

	out, err := b.Call(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out)
	assert.NoError(t, b.Ready(context.Background()))
}

func TestBuffer_NeverRejectsUnderLoad(t *testing.T) {
	t.Parallel()

	g := newGate()
	b := NewBuffer[int, int](NewConcurrencyLimit[int, int](g, 1), 1)
	defer b.Close()

	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func(i int) {
			_, err := b.Call(context.Background(), i)
			results <- err
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, results, "callers must wait, not be rejected")

	close(g.release)
	for i := 0; i < 4; i++ {
		select {
		case err := <-results:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("buffered call never completed")
		}
	}
}

func TestBuffer_ClosedRejects(t *testing.T) {
	t.Parallel()

	b := NewBuffer[string, string](upper, 1)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.Call(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Ready(context.Background()), ErrClosed)
}

func TestBuffer_PropagatesNotReady(t *testing.T) {
	t.Parallel()

	b := NewBuffer[string, string](NewSlot[string, string]("missing"), 1)
	defer b.Close()

	_, err := b.Call(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotReady)
}

// ============================================================================
// Layers Tests
// ============================================================================

func TestApply_NoLayers(t *testing.T) {
	t.Parallel()

	svc, closer := Apply[string, string](upper, Layers{})
	defer closer.Close()

	out, err := svc.Call(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "A", out)
}

func TestApply_BufferAndLimit(t *testing.T) {
	t.Parallel()

	svc, closer := Apply[string, string](upper, Layers{Buffer: 2, ConcurrencyLimit: 1})
	_, isBuffer := svc.(*Buffer[string, string])
	assert.True(t, isBuffer)

	out, err := svc.Call(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "B", out)
	assert.NoError(t, closer.Close())
}

// ============================================================================
// Connection Tests
// ============================================================================

func TestConnection_WaitsUntilAvailable(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	conn := NewConnection[int](TryGetFunc[int](func() (int, bool) {
		if attempts.Add(1) < 3 {
			return 0, false
		}
		return 42, true
	}))

	got, err := conn.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestConnection_GetHonoursContext(t *testing.T) {
	t.Parallel()

	conn := NewConnection[int](TryGetFunc[int](func() (int, bool) { return 0, false }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := conn.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnection_BackoffGrowsUpToCap(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		times []time.Time
	)
	conn := NewConnection[int](TryGetFunc[int](func() (int, bool) {
		mu.Lock()
		defer mu.Unlock()
		times = append(times, time.Now())
		return 0, false
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()
	_, err := conn.Get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()

	// 1+2+4+...+64ms then 100ms steps: about a dozen attempts, not hundreds.
	assert.GreaterOrEqual(t, len(times), 6)
	assert.LessOrEqual(t, len(times), 16)

	last := times[len(times)-1].Sub(times[len(times)-2])
	assert.GreaterOrEqual(t, last, 50*time.Millisecond)
}
