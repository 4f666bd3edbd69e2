package codec

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Envelope discriminants on the XDR wire.
const (
	xdrOk                  uint32 = 0
	xdrBadRequest          uint32 = 400
	xdrInternalServerError uint32 = 500
)

// XDR encodes values per RFC 4506. An envelope is a uint32 discriminant
// (0, 400 or 500) followed by the XDR data when the discriminant is 0.
type XDR struct{}

// Name implements Codec.
func (XDR) Name() string {
	return "xdr"
}

// Decode implements Codec.
func (XDR) Decode(data []byte, v any) error {
	r := bytes.NewReader(data)
	if _, err := xdr.Unmarshal(r, v); err != nil {
		return err
	}
	if r.Len() != 0 {
		return ErrTrailingData
	}
	return validateValue(v)
}

// EncodeEnvelope implements Codec.
func (XDR) EncodeEnvelope(kind Kind, data any) ([]byte, error) {
	var discriminant uint32
	switch kind {
	case KindOk:
		discriminant = xdrOk
	case KindBadRequest:
		discriminant = xdrBadRequest
	case KindInternalServerError:
		discriminant = xdrInternalServerError
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, discriminant); err != nil {
		return nil, err
	}
	if kind == KindOk {
		if _, err := xdr.Marshal(&buf, data); err != nil {
			return nil, fmt.Errorf("encode envelope data: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeEnvelope implements Codec.
func (c XDR) DecodeEnvelope(data []byte, v any) (Kind, error) {
	r := bytes.NewReader(data)

	var discriminant uint32
	if _, err := xdr.Unmarshal(r, &discriminant); err != nil {
		return 0, err
	}

	switch discriminant {
	case xdrOk:
		if _, err := xdr.Unmarshal(r, v); err != nil {
			return KindOk, err
		}
		if r.Len() != 0 {
			return KindOk, ErrTrailingData
		}
		return KindOk, nil
	case xdrBadRequest, xdrInternalServerError:
		if r.Len() != 0 {
			return 0, ErrTrailingData
		}
		if discriminant == xdrBadRequest {
			return KindBadRequest, nil
		}
		return KindInternalServerError, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownKind, discriminant)
	}
}
