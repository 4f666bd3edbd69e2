package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/microtower/internal/logger"
	"github.com/marmos91/microtower/internal/telemetry"
	"github.com/marmos91/microtower/pkg/api/codec"
	"github.com/marmos91/microtower/pkg/metrics"
	"github.com/marmos91/microtower/pkg/service"
)

// Handler turns one request frame into one response frame. Handle never
// fails: every outcome is expressed as an envelope.
type Handler interface {
	Handle(ctx context.Context, frame []byte) []byte

	// Ready reports whether the wrapped service can take a request.
	Ready(ctx context.Context) error
}

// Option configures Wrap.
type Option func(*options)

type options struct {
	metrics metrics.SessionMetrics
}

// WithMetrics records one observation per handled frame.
func WithMetrics(m metrics.SessionMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// Wrapped adapts a typed service to Handler.
type Wrapped[Req, Resp any] struct {
	name    string
	svc     service.Service[Req, Resp]
	codec   codec.Codec
	metrics metrics.SessionMetrics

	// Error envelopes never change, so they are encoded once.
	badRequest    []byte
	internalError []byte
}

// Wrap builds the byte-level handler for svc.
func Wrap[Req, Resp any](name string, svc service.Service[Req, Resp], c codec.Codec, opts ...Option) (*Wrapped[Req, Resp], error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	badRequest, err := BadRequest[Resp]().Encode(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope with %s codec: %w", codec.KindBadRequest, c.Name(), err)
	}
	internalError, err := InternalServerError[Resp]().Encode(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope with %s codec: %w", codec.KindInternalServerError, c.Name(), err)
	}

	return &Wrapped[Req, Resp]{
		name:          name,
		svc:           svc,
		codec:         c,
		metrics:       o.metrics,
		badRequest:    badRequest,
		internalError: internalError,
	}, nil
}

// Name returns the service name.
func (w *Wrapped[Req, Resp]) Name() string {
	return w.name
}

// Codec returns the codec used on the wire.
func (w *Wrapped[Req, Resp]) Codec() codec.Codec {
	return w.codec
}

// Ready implements Handler.
func (w *Wrapped[Req, Resp]) Ready(ctx context.Context) error {
	return service.AwaitReady(ctx, w.svc)
}

// Handle implements Handler.
func (w *Wrapped[Req, Resp]) Handle(ctx context.Context, frame []byte) []byte {
	start := time.Now()

	ctx, span := telemetry.StartRequestSpan(ctx, w.name, w.codec.Name(), len(frame))
	defer span.End()
	if lc := logger.FromContext(ctx); lc != nil && telemetry.IsEnabled() {
		ctx = logger.WithContext(ctx, lc.WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx)))
	}

	kind, out := w.handle(ctx, frame)

	telemetry.SetAttributes(ctx, telemetry.Outcome(kind.Tag()))
	if w.metrics != nil {
		w.metrics.ObserveRequest(kind.Tag(), time.Since(start), len(frame))
	}
	logger.DebugCtx(ctx, "Request handled",
		logger.KeyOutcome, kind.Tag(),
		logger.KeyBytes, len(out),
		logger.KeyDurationMs, logger.Duration(start))
	return out
}

func (w *Wrapped[Req, Resp]) handle(ctx context.Context, frame []byte) (codec.Kind, []byte) {
	var req Req
	if err := w.codec.Decode(frame, &req); err != nil {
		logger.DebugCtx(ctx, "Rejected malformed request", logger.KeyError, err, logger.KeyBytes, len(frame))
		return codec.KindBadRequest, w.badRequest
	}

	if err := service.AwaitReady(ctx, w.svc); err != nil {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Service not ready", logger.KeyError, err)
		return codec.KindInternalServerError, w.internalError
	}

	resp, err := w.svc.Call(ctx, req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Service call failed", logger.KeyError, err, "chain", Chain(err))
		return codec.KindInternalServerError, w.internalError
	}

	out, err := Ok(resp).Encode(w.codec)
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.ErrorCtx(ctx, "Failed to encode response", logger.KeyError, err)
		return codec.KindInternalServerError, w.internalError
	}
	return codec.KindOk, out
}

// Chain lists the messages of err and every error it wraps, outermost
// first. Joined errors are walked depth-first.
func Chain(err error) []string {
	var out []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		out = append(out, e.Error())
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		default:
			walk(errors.Unwrap(e))
		}
	}
	walk(err)
	return out
}
