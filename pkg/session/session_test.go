package session

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/microtower/pkg/api"
	"github.com/marmos91/microtower/pkg/api/codec"
	"github.com/marmos91/microtower/pkg/service"
	"github.com/marmos91/microtower/pkg/shutdown"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseHandler(t *testing.T) api.Handler {
	t.Helper()
	parse := service.Func[string, int64](func(_ context.Context, s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
	h, err := api.Wrap("parse", parse, codec.JSON{})
	require.NoError(t, err)
	return h
}

// blockingHandler holds every request until release is closed, ignoring ctx.
type blockingHandler struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingHandler) Handle(context.Context, []byte) []byte {
	b.entered <- struct{}{}
	<-b.release
	return []byte(`{"type":"ok","data":null}`)
}

func (b *blockingHandler) Ready(context.Context) error { return nil }

type countingMetrics struct {
	accepted, closed, forced atomic.Int32
}

func (c *countingMetrics) RecordConnectionAccepted()    { c.accepted.Add(1) }
func (c *countingMetrics) RecordConnectionClosed()      { c.closed.Add(1) }
func (c *countingMetrics) RecordConnectionForceClosed() { c.forced.Add(1) }
func (c *countingMetrics) SetActiveConnections(int32)   {}
func (c *countingMetrics) ObserveRequest(string, time.Duration, int)   {}

// roundTrip writes req and reads one response with a deadline.
func roundTrip(t *testing.T, conn net.Conn, req string) string {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Write([]byte(req))
	require.NoError(t, err)

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

// ============================================================================
// ServeConn Tests
// ============================================================================

func TestServeConn_BadRequestKeepsConnectionUsable(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	h := parseHandler(t)

	done := make(chan error, 1)
	go func() {
		done <- ServeConn(context.Background(), server, h, ShortRead{ChunkSize: DefaultChunkSize})
		server.Close()
	}()

	assert.JSONEq(t, `{"type":"400"}`, roundTrip(t, client, "not json"))
	assert.JSONEq(t, `{"type":"ok","data":12}`, roundTrip(t, client, `"12"`))
	assert.JSONEq(t, `{"type":"500"}`, roundTrip(t, client, `"twelve"`))

	require.NoError(t, client.Close())
	select {
	case err := <-done:
		assert.NoError(t, err, "peer close ends the connection cleanly")
	case <-time.After(2 * time.Second):
		t.Fatal("ServeConn did not return after peer close")
	}
}

func TestServeConn_CancelUnblocksRead(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	h := parseHandler(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeConn(ctx, server, h, LengthPrefixed{})
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked read survived cancellation")
	}
}

// signalHandler answers every request and reports that it ran.
type signalHandler struct {
	handled chan struct{}
}

func (s *signalHandler) Handle(context.Context, []byte) []byte {
	s.handled <- struct{}{}
	return []byte(`{"type":"ok","data":"pong"}`)
}

func (s *signalHandler) Ready(context.Context) error { return nil }

func TestServeConn_CancelUnblocksWriteToStalledPeer(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	h := &signalHandler{handled: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeConn(ctx, server, h, ShortRead{ChunkSize: DefaultChunkSize})
	}()

	// The peer sends a request and never reads the response.
	_, err := client.Write([]byte(`"ping"`))
	require.NoError(t, err)
	select {
	case <-h.handled:
	case <-time.After(2 * time.Second):
		t.Fatal("request was never handled")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked write survived cancellation")
	}
}

func TestServeConn_LengthPrefixed(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()

	framer := LengthPrefixed{}
	h := parseHandler(t)
	go func() {
		_ = ServeConn(context.Background(), server, h, framer)
		server.Close()
	}()

	require.NoError(t, client.SetDeadline(time.Now().Add(2*time.Second)))
	reader := framer.NewReader(client)

	// Two frames in one write are still two requests.
	go func() {
		_ = framer.WriteFrame(client, []byte(`"1"`))
		_ = framer.WriteFrame(client, []byte(`"2"`))
	}()

	first, err := reader.ReadFrame()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ok","data":1}`, string(first))

	second, err := reader.ReadFrame()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ok","data":2}`, string(second))
}

func TestServeConn_FrameTooLargeEndsConnection(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()

	h := parseHandler(t)
	done := make(chan error, 1)
	go func() {
		done <- ServeConn(context.Background(), server, h, LengthPrefixed{MaxFrame: 4})
		server.Close()
	}()

	go func() { _, _ = client.Write([]byte{0, 0, 1, 0}) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	case <-time.After(2 * time.Second):
		t.Fatal("oversized frame was not rejected")
	}
}

// ============================================================================
// Listener Tests
// ============================================================================

func startListener(t *testing.T, cfg Config, factory ConnectionFactory, opts ...Option) (*Listener, *shutdown.Controller, <-chan error) {
	t.Helper()

	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1"
	}
	l := NewListener(cfg, ShortRead{ChunkSize: DefaultChunkSize}, factory, opts...)
	ctl := shutdown.NewRoot()
	t.Cleanup(ctl.Cancel)

	done := make(chan error, 1)
	go func() { done <- l.Serve(ctl) }()

	require.NotEmpty(t, l.Addr())
	return l, ctl, done
}

func staticFactory(h api.Handler) ConnectionFactory {
	return func(context.Context, net.Addr) (api.Handler, error) { return h, nil }
}

func TestListener_ServesRequests(t *testing.T) {
	t.Parallel()

	m := &countingMetrics{}
	l, ctl, done := startListener(t, Config{Name: "parse"}, staticFactory(parseHandler(t)), WithMetrics(m))

	conn, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"400"}`, roundTrip(t, conn, "not json"))
	assert.JSONEq(t, `{"type":"ok","data":7}`, roundTrip(t, conn, `"7"`))
	assert.Equal(t, int32(1), l.ActiveConnections())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return l.ActiveConnections() == 0 }, 2*time.Second, 5*time.Millisecond)

	ctl.Cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), m.accepted.Load())
	assert.Equal(t, int32(1), m.closed.Load())
}

func TestListener_NoAcceptAfterCancel(t *testing.T) {
	t.Parallel()

	l, ctl, done := startListener(t, Config{Name: "parse"}, staticFactory(parseHandler(t)))
	addr := l.Addr()

	// An open idle connection is drained by the cancellation too.
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return l.ActiveConnections() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctl.Cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err, "no connection is accepted after cancel")
}

func TestListener_FactoryErrorDropsConnection(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	h := parseHandler(t)
	factory := func(context.Context, net.Addr) (api.Handler, error) {
		if calls.Add(1) == 1 {
			return nil, assert.AnError
		}
		return h, nil
	}
	l, _, _ := startListener(t, Config{Name: "parse"}, factory)

	first, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer first.Close()
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = first.Read(make([]byte, 16))
	assert.Error(t, err, "the dropped connection is closed by the server")

	second, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer second.Close()
	assert.JSONEq(t, `{"type":"ok","data":3}`, roundTrip(t, second, `"3"`))
}

func TestListener_MaxConnections(t *testing.T) {
	t.Parallel()

	l, _, _ := startListener(t, Config{Name: "parse", MaxConnections: 1}, staticFactory(parseHandler(t)))

	first, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ok","data":1}`, roundTrip(t, first, `"1"`))

	// The kernel completes the handshake but the listener does not accept.
	second, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer second.Close()
	_, err = second.Write([]byte(`"2"`))
	require.NoError(t, err)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = second.Read(make([]byte, 64))
	assert.Error(t, err)

	require.NoError(t, first.Close())

	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, err := second.Read(buf)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ok","data":2}`, string(buf[:n]))
}

func TestListener_ForceClosesAfterTimeout(t *testing.T) {
	t.Parallel()

	h := &blockingHandler{entered: make(chan struct{}, 1), release: make(chan struct{})}
	defer close(h.release)

	m := &countingMetrics{}
	l, ctl, done := startListener(t, Config{Name: "slow", ShutdownTimeout: 50 * time.Millisecond}, staticFactory(h), WithMetrics(m))

	conn, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(`"x"`))
	require.NoError(t, err)
	<-h.entered

	ctl.Cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 connections force-closed")
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not force-close")
	}
	assert.Equal(t, int32(1), m.forced.Load())
}

func TestListener_BindErrorIsReturned(t *testing.T) {
	t.Parallel()

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()
	port := taken.Addr().(*net.TCPAddr).Port

	l := NewListener(Config{Name: "dup", BindAddress: "127.0.0.1", Port: port}, nil, staticFactory(parseHandler(t)))
	ctl := shutdown.NewRoot()
	defer ctl.Cancel()

	err = l.Serve(ctl)
	assert.Error(t, err)
	assert.Empty(t, l.Addr())
}
