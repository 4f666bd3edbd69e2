// Package api translates between raw request frames and typed services.
//
// Every response leaving a bound service is an Envelope: Ok carrying the
// service's response, BadRequest when the frame could not be decoded, or
// InternalServerError when the service failed. Handler errors never reach
// the wire; they are logged with their full chain instead.
package api

import (
	"github.com/marmos91/microtower/pkg/api/codec"
)

// Envelope is the tagged union written back for every request.
type Envelope[T any] struct {
	Kind codec.Kind
	Data T
}

// Ok wraps a successful response.
func Ok[T any](data T) Envelope[T] {
	return Envelope[T]{Kind: codec.KindOk, Data: data}
}

// BadRequest is returned when a request frame cannot be decoded.
func BadRequest[T any]() Envelope[T] {
	return Envelope[T]{Kind: codec.KindBadRequest}
}

// InternalServerError is returned when the service fails.
func InternalServerError[T any]() Envelope[T] {
	return Envelope[T]{Kind: codec.KindInternalServerError}
}

// IsOk reports whether the envelope carries data.
func (e Envelope[T]) IsOk() bool {
	return e.Kind == codec.KindOk
}

// Encode serializes the envelope with c.
func (e Envelope[T]) Encode(c codec.Codec) ([]byte, error) {
	if e.Kind == codec.KindOk {
		return c.EncodeEnvelope(e.Kind, e.Data)
	}
	return c.EncodeEnvelope(e.Kind, nil)
}

// DecodeEnvelope parses an envelope produced by Encode. Clients use it to
// read responses.
func DecodeEnvelope[T any](c codec.Codec, data []byte) (Envelope[T], error) {
	var env Envelope[T]
	kind, err := c.DecodeEnvelope(data, &env.Data)
	if err != nil {
		return Envelope[T]{}, err
	}
	env.Kind = kind
	return env, nil
}
