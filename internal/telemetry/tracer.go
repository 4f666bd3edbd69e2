package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrClientAddr = "client.address"
	AttrConnection = "microtower.connection_id"
	AttrService    = "microtower.service"
	AttrCodec      = "microtower.codec"
	AttrOutcome    = "microtower.outcome"
	AttrFrameBytes = "microtower.frame_bytes"
	AttrPoolIndex  = "microtower.pool.instance"
)

// Span names.
const (
	SpanRequest = "microtower.request"
	SpanResolve = "microtower.resolve"
)

func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

func ConnectionID(id string) attribute.KeyValue {
	return attribute.String(AttrConnection, id)
}

func Service(name string) attribute.KeyValue {
	return attribute.String(AttrService, name)
}

func Codec(name string) attribute.KeyValue {
	return attribute.String(AttrCodec, name)
}

// Outcome is the envelope tag written back ("ok", "400", "500").
func Outcome(tag string) attribute.KeyValue {
	return attribute.String(AttrOutcome, tag)
}

func FrameBytes(n int) attribute.KeyValue {
	return attribute.Int(AttrFrameBytes, n)
}

// StartRequestSpan starts the span covering one decoded frame of service.
func StartRequestSpan(ctx context.Context, service, codec string, frameBytes int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{
		Service(service),
		Codec(codec),
		FrameBytes(frameBytes),
	}, attrs...)

	return StartSpan(ctx, SpanRequest, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(all...))
}
