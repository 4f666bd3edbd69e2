// Package admin serves the HTTP admin API of the runtime: probes, the
// service listing and the Prometheus endpoint.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/microtower/internal/logger"
	"github.com/marmos91/microtower/pkg/admin/handlers"
	"github.com/marmos91/microtower/pkg/runtime"
)

var _ runtime.AuxiliaryServer = (*Server)(nil)

// Server is the admin HTTP server. It is managed by the runtime through
// runtime.AuxiliaryServer.
type Server struct {
	server       *http.Server
	config       Config
	port         atomic.Int32
	shutdownOnce sync.Once
}

// NewServer creates a stopped admin server. metricsHandler may be nil.
func NewServer(config Config, rt handlers.Runtime, metricsHandler http.Handler) *Server {
	config.applyDefaults()

	s := &Server{
		config: config,
		server: &http.Server{
			Addr:         net.JoinHostPort(config.BindAddress, strconv.Itoa(config.Port)),
			Handler:      NewRouter(rt, metricsHandler, config.ReadyTimeout),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
	s.port.Store(int32(config.Port))
	return s
}

// Start binds the server and blocks until ctx is cancelled or serving fails.
// Cancellation triggers a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("admin server failed to listen on %s: %w", s.server.Addr, err)
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port.Store(int32(addr.Port))
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Admin server listening", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin server failed: %w", err)
	}
}

// Stop gracefully shuts the server down. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin server shutdown error: %w", err)
			logger.Error("Admin server shutdown error", "error", err)
			return
		}
		logger.Info("Admin server stopped")
	})
	return shutdownErr
}

// Port returns the configured port, or the bound one once Start picked an
// ephemeral port.
func (s *Server) Port() int {
	return int(s.port.Load())
}
