// Package demo provides the built-in services exposed by `microtower start`.
//
// The dependency graph is small but not flat, so resolution order and pool
// replicas can be observed end to end:
//
//	echo  <- upper
//	parse <- sum
package demo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/marmos91/microtower/pkg/registry"
	"github.com/marmos91/microtower/pkg/resolver"
	"github.com/marmos91/microtower/pkg/service"
)

// ErrOverflow is returned by Sum when the result does not fit in an int64.
var ErrOverflow = errors.New("integer overflow")

// Echo returns its input unchanged.
type Echo struct{}

func (*Echo) Call(_ context.Context, in string) (string, error) {
	return in, nil
}

// Parse converts a decimal string to an int64.
type Parse struct{}

func (*Parse) Call(_ context.Context, in string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(in), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", in, err)
	}
	return n, nil
}

// Upper upper-cases what Echo returns. Echo is reached through a slot, so an
// Upper whose slot was never filled reports `echo` as not ready.
type Upper struct {
	echo *service.Slot[string, string]
}

// NewUpper returns an Upper calling echo. A nil echo leaves the slot empty.
func NewUpper(echo service.Service[string, string]) *Upper {
	if echo == nil {
		return &Upper{echo: service.NewSlot[string, string]("echo")}
	}
	return &Upper{echo: service.Filled("echo", echo)}
}

func (u *Upper) Call(ctx context.Context, in string) (string, error) {
	out, err := u.echo.Call(ctx, in)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(out), nil
}

// Ready reports the readiness of the echo slot.
func (u *Upper) Ready(ctx context.Context) error {
	return u.echo.Ready(ctx)
}

// SumRequest holds the two operands of Sum. Operands are numbers on the wire
// and are handed to Parse as their decimal text.
type SumRequest struct {
	A json.Number `json:"a" validate:"required"`
	B json.Number `json:"b" validate:"required"`
}

// Sum adds two operands parsed by a Parse connection.
type Sum struct {
	parser *service.Connection[*Parse]
}

func (s *Sum) Call(ctx context.Context, req SumRequest) (int64, error) {
	p, err := s.parser.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("sum: waiting for parser: %w", err)
	}

	a, err := p.Call(ctx, req.A.String())
	if err != nil {
		return 0, err
	}
	b, err := p.Call(ctx, req.B.String())
	if err != nil {
		return 0, err
	}

	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("sum %d + %d: %w", a, b, ErrOverflow)
	}
	return a + b, nil
}

var (
	EchoKey  = registry.KeyOf[*Echo]()
	ParseKey = registry.KeyOf[*Parse]()
	UpperKey = registry.KeyOf[*Upper]()
	SumKey   = registry.KeyOf[*Sum]()
)

// Descriptors returns the descriptor table of the demo services. Dependents
// are listed first so resolution needs more than one pass.
func Descriptors() []resolver.Descriptor {
	return []resolver.Descriptor{
		resolver.Provide("upper", resolver.Deps(EchoKey), func(_ context.Context, v registry.View) (*Upper, error) {
			echo, err := registry.Get[*Echo](v, EchoKey)
			if err != nil {
				return nil, err
			}
			return NewUpper(echo), nil
		}),
		resolver.Provide("sum", resolver.Deps(ParseKey), func(_ context.Context, v registry.View) (*Sum, error) {
			parse, err := registry.Get[*Parse](v, ParseKey)
			if err != nil {
				return nil, err
			}
			parser := service.NewConnection[*Parse](service.TryGetFunc[*Parse](func() (*Parse, bool) {
				return parse, true
			}))
			return &Sum{parser: parser}, nil
		}),
		resolver.Provide("echo", nil, func(context.Context, registry.View) (*Echo, error) {
			return &Echo{}, nil
		}),
		resolver.Provide("parse", nil, func(context.Context, registry.View) (*Parse, error) {
			return &Parse{}, nil
		}),
	}
}
