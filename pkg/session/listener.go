package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/marmos91/microtower/internal/logger"
	"github.com/marmos91/microtower/internal/telemetry"
	"github.com/marmos91/microtower/pkg/api"
	"github.com/marmos91/microtower/pkg/metrics"
	"github.com/marmos91/microtower/pkg/shutdown"
)

// DefaultShutdownTimeout bounds the graceful drain when none is configured.
const DefaultShutdownTimeout = 30 * time.Second

// ConnectionFactory builds the handler serving one accepted connection.
// A failure drops that connection only.
type ConnectionFactory func(ctx context.Context, remote net.Addr) (api.Handler, error)

// Config holds the listener settings of one bound service.
type Config struct {
	// Name identifies the service in logs and metrics.
	Name string

	// BindAddress is the IP to bind to. Empty binds all interfaces.
	BindAddress string

	// Port is the TCP port. 0 picks a free port, see Addr.
	Port int

	// MaxConnections caps concurrent connections. 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout bounds the wait for open connections after the
	// controller is cancelled; remaining connections are then force-closed.
	ShutdownTimeout time.Duration
}

// Listener accepts connections for one service and serves each on its own
// goroutine.
type Listener struct {
	config  Config
	framer  Framer
	factory ConnectionFactory
	metrics metrics.SessionMetrics

	listener   net.Listener
	listenerMu sync.RWMutex
	ready      chan struct{}
	readyOnce  sync.Once

	conns     sync.WaitGroup
	connCount atomic.Int32

	// active maps connection IDs to their net.Conn for forced closure.
	active sync.Map

	// connSem is nil when MaxConnections is 0.
	connSem *semaphore.Weighted
}

// Option configures a Listener.
type Option func(*Listener)

// WithMetrics records connection lifecycle events.
func WithMetrics(m metrics.SessionMetrics) Option {
	return func(l *Listener) { l.metrics = m }
}

// NewListener creates a stopped listener. Call Serve to start it.
func NewListener(cfg Config, framer Framer, factory ConnectionFactory, opts ...Option) *Listener {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if framer == nil {
		framer = ShortRead{ChunkSize: DefaultChunkSize}
	}

	l := &Listener{
		config:  cfg,
		framer:  framer,
		factory: factory,
		ready:   make(chan struct{}),
	}
	if cfg.MaxConnections > 0 {
		l.connSem = semaphore.NewWeighted(int64(cfg.MaxConnections))
	}
	for _, opt := range opts {
		opt(l)
	}

	logger.Debug("Listener configured", "service", cfg.Name, "port", cfg.Port,
		"framing", framer.Name(), "max_connections", cfg.MaxConnections)
	return l
}

// Serve binds the port and accepts connections until ctl is cancelled, then
// drains. It returns the bind error, nil after a graceful drain, or an error
// naming how many connections had to be force-closed.
func (l *Listener) Serve(ctl *shutdown.Controller) error {
	addr := net.JoinHostPort(l.config.BindAddress, strconv.Itoa(l.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		l.markReady()
		return fmt.Errorf("failed to listen for %s on %s: %w", l.config.Name, addr, err)
	}

	l.listenerMu.Lock()
	l.listener = ln
	l.listenerMu.Unlock()
	l.markReady()

	logger.Info("Service listening", "service", l.config.Name, "addr", ln.Addr().String())

	stop := context.AfterFunc(ctl.Context(), func() {
		logger.Info("Listener shutdown signal received", "service", l.config.Name)
		if err := ln.Close(); err != nil {
			logger.Debug("Error closing listener", "service", l.config.Name, "error", err)
		}
	})
	defer stop()

	for {
		if l.connSem != nil {
			if err := l.connSem.Acquire(ctl.Context(), 1); err != nil {
				return l.drain()
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			l.releaseSlot()
			if ctl.IsCancelled() {
				return l.drain()
			}
			logger.Debug("Error accepting connection", "service", l.config.Name, "error", err)
			continue
		}

		// A connection that raced the cancellation is refused.
		if ctl.IsCancelled() {
			_ = conn.Close()
			l.releaseSlot()
			return l.drain()
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", "error", err)
			}
		}

		id := uuid.NewString()
		l.conns.Add(1)
		current := l.connCount.Add(1)
		l.active.Store(id, conn)

		if l.metrics != nil {
			l.metrics.RecordConnectionAccepted()
			l.metrics.SetActiveConnections(current)
		}
		logger.Debug("Connection accepted", "service", l.config.Name,
			"connection_id", id, "address", conn.RemoteAddr().String(), "active", current)

		go l.serveConn(ctl.Child(), id, conn)
	}
}

func (l *Listener) serveConn(ctl *shutdown.Controller, id string, conn net.Conn) {
	defer func() {
		_ = conn.Close()
		ctl.Cancel()

		l.active.Delete(id)
		current := l.connCount.Add(-1)
		if l.metrics != nil {
			l.metrics.RecordConnectionClosed()
			l.metrics.SetActiveConnections(current)
		}
		logger.Debug("Connection closed", "service", l.config.Name,
			"connection_id", id, "active", current)

		l.releaseSlot()
		l.conns.Done()
	}()

	ctx := logger.WithContext(ctl.Context(),
		logger.NewConnectionContext(l.config.Name, id, clientIP(conn.RemoteAddr())))

	handler, err := l.factory(ctx, conn.RemoteAddr())
	if err != nil {
		logger.ErrorCtx(ctx, "Failed to create connection handler", "error", err)
		return
	}

	telemetry.ProfileService(ctx, l.config.Name, func(ctx context.Context) {
		if err := ServeConn(ctx, conn, handler, l.framer); err != nil {
			logger.DebugCtx(ctx, "Connection ended", "error", err)
		}
	})
}

func (l *Listener) releaseSlot() {
	if l.connSem != nil {
		l.connSem.Release(1)
	}
}

func (l *Listener) markReady() {
	l.readyOnce.Do(func() { close(l.ready) })
}

// drain waits for open connections up to ShutdownTimeout and force-closes
// whatever is left.
func (l *Listener) drain() error {
	active := l.connCount.Load()
	logger.Info("Graceful shutdown: waiting for active connections",
		"service", l.config.Name, "active", active, "timeout", l.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		l.conns.Wait()
		close(done)
	}()

	timer := time.NewTimer(l.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		logger.Info("Graceful shutdown complete", "service", l.config.Name)
		return nil
	case <-timer.C:
		remaining := l.connCount.Load()
		logger.Warn("Shutdown timeout exceeded, forcing closure",
			"service", l.config.Name, "active", remaining)
		closed := l.forceClose()
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", l.config.Name, closed)
	}
}

func (l *Listener) forceClose() int {
	closed := 0
	l.active.Range(func(key, value any) bool {
		conn := value.(net.Conn)
		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection", "connection_id", key, "error", err)
			return true
		}
		closed++
		if l.metrics != nil {
			l.metrics.RecordConnectionForceClosed()
		}
		return true
	})
	return closed
}

// Ready is closed once Serve bound its port or failed to.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Addr blocks until Serve bound its port and returns the bound address, or
// "" if binding failed.
func (l *Listener) Addr() string {
	<-l.ready

	l.listenerMu.RLock()
	defer l.listenerMu.RUnlock()
	if l.listener == nil {
		return ""
	}
	return l.listener.Addr().String()
}

// ActiveConnections returns the number of open connections.
func (l *Listener) ActiveConnections() int32 {
	return l.connCount.Load()
}

// Name returns the service name.
func (l *Listener) Name() string {
	return l.config.Name
}

// Port returns the configured port.
func (l *Listener) Port() int {
	return l.config.Port
}

func clientIP(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
