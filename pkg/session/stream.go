// Package session moves bytes between TCP connections and api handlers.
//
// A Listener owns one port. Every accepted connection runs ServeConn, which
// reads a frame, hands it to the connection's handler, writes the response
// frame and loops. Requests on one connection are strictly sequential.
// Cancelling the listener's controller stops accepting, interrupts blocked
// reads, and drains open connections before force-closing them.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/microtower/internal/logger"
	"github.com/marmos91/microtower/pkg/api"
)

// ServeConn serves conn until the peer closes it, an I/O error occurs, or
// ctx is cancelled. A clean close or a cancellation returns nil. The caller
// owns conn and must close it.
func ServeConn(ctx context.Context, conn net.Conn, handler api.Handler, framer Framer) error {
	// Unblock a pending read or write as soon as ctx is done.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	lc := logger.FromContext(ctx)
	reader := framer.NewReader(conn)

	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		reqCtx := ctx
		if lc != nil {
			reqCtx = logger.WithContext(ctx, lc.WithRequest(uuid.NewString()))
		}
		logger.DebugCtx(reqCtx, "Frame read", logger.KeyBytes, len(frame))

		out := handler.Handle(reqCtx, frame)

		if err := framer.WriteFrame(conn, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("write frame: %w", err)
		}
	}
}
