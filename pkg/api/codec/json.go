package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// JSON is the default codec. Envelopes are tagged objects:
//
//	{"type":"ok","data":<value>}
//	{"type":"400"}
//	{"type":"500"}
type JSON struct{}

var jsonNull = []byte("null")

type jsonEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Name implements Codec.
func (JSON) Name() string {
	return "json"
}

// Decode implements Codec. A top-level null is only accepted when v points
// to a pointer or an interface, and the decoded value must pass its validate
// struct tags.
func (JSON) Decode(data []byte, v any) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) && !nullable(v) {
		return ErrNullValue
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return ErrTrailingData
	}
	return validateValue(v)
}

// EncodeEnvelope implements Codec.
func (JSON) EncodeEnvelope(kind Kind, data any) ([]byte, error) {
	switch kind {
	case KindOk:
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode envelope data: %w", err)
		}
		return json.Marshal(jsonEnvelope{Type: kind.Tag(), Data: payload})
	case KindBadRequest, KindInternalServerError:
		return json.Marshal(jsonEnvelope{Type: kind.Tag()})
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}

// DecodeEnvelope implements Codec.
func (c JSON) DecodeEnvelope(data []byte, v any) (Kind, error) {
	var env jsonEnvelope
	if err := c.Decode(data, &env); err != nil {
		return 0, err
	}

	kind, err := KindFromTag(env.Type)
	if err != nil {
		return 0, err
	}
	if kind != KindOk {
		return kind, nil
	}
	if len(env.Data) == 0 {
		return kind, errors.New("ok envelope without data")
	}
	return kind, c.Decode(env.Data, v)
}
