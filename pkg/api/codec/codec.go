// Package codec converts requests and response envelopes to and from bytes.
//
// A codec decodes a raw request frame straight into the service's request
// type, and encodes responses wrapped in an envelope carrying one of three
// tags: ok (with data), 400 (bad request) and 500 (internal server error).
package codec

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrTrailingData is returned when a frame holds more than one value.
var ErrTrailingData = errors.New("trailing data after value")

// ErrNullValue is returned when null is decoded into a type that cannot
// hold it.
var ErrNullValue = errors.New("null value for non-nullable type")

// ErrInvalidValue wraps the validation failures of a decoded request, such as
// a missing field tagged `validate:"required"`.
var ErrInvalidValue = errors.New("invalid value")

// ErrUnknownKind is returned when an envelope carries an unknown tag.
var ErrUnknownKind = errors.New("unknown envelope kind")

// Kind is the envelope tag.
type Kind uint8

const (
	KindOk Kind = iota
	KindBadRequest
	KindInternalServerError
)

// Tag returns the wire tag of the kind.
func (k Kind) Tag() string {
	switch k {
	case KindOk:
		return "ok"
	case KindBadRequest:
		return "400"
	case KindInternalServerError:
		return "500"
	default:
		return "unknown"
	}
}

func (k Kind) String() string {
	return k.Tag()
}

// KindFromTag parses a wire tag.
func KindFromTag(tag string) (Kind, error) {
	switch tag {
	case "ok":
		return KindOk, nil
	case "400":
		return KindBadRequest, nil
	case "500":
		return KindInternalServerError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, tag)
	}
}

// Codec is the byte boundary of a bound service.
type Codec interface {
	// Name identifies the codec in configuration and logs.
	Name() string

	// Decode parses exactly one value from data into v, which must be a
	// pointer. Anything but whitespace after the value is an error.
	Decode(data []byte, v any) error

	// EncodeEnvelope serializes an envelope. data is ignored unless kind is
	// KindOk.
	EncodeEnvelope(kind Kind, data any) ([]byte, error)

	// DecodeEnvelope parses an envelope, decoding its data into v when the
	// kind is KindOk.
	DecodeEnvelope(data []byte, v any) (Kind, error)
}

// Names lists the codecs accepted by Parse.
var Names = []string{"json", "xdr"}

// Parse returns the codec registered under name. An empty name selects JSON.
func Parse(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON{}, nil
	case "xdr":
		return XDR{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q (valid: %s)", name, strings.Join(Names, ", "))
	}
}

var validate = validator.New()

// validateValue runs the validate struct tags of the value v points to.
// Values that are not structs are accepted as decoded.
func validateValue(v any) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	if err := validate.Struct(rv.Interface()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return nil
}

// nullable reports whether the target of v can represent null.
func nullable(v any) bool {
	t := reflect.TypeOf(v)
	if t == nil || t.Kind() != reflect.Pointer {
		return true
	}
	switch t.Elem().Kind() {
	case reflect.Pointer, reflect.Interface:
		return true
	default:
		return false
	}
}
