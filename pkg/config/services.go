package config

import (
	"github.com/marmos91/microtower/internal/bytesize"
	"github.com/marmos91/microtower/pkg/api/codec"
	"github.com/marmos91/microtower/pkg/service"
	"github.com/marmos91/microtower/pkg/session"
)

// ServiceConfig exposes one service of the descriptor table on a TCP port.
type ServiceConfig struct {
	// Name identifies the service in logs, metrics and the admin API
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Kind selects the service implementation, e.g. "echo" or "sum"
	Kind string `mapstructure:"kind" validate:"required" yaml:"kind"`

	// BindAddress is the IP to bind to. Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address" validate:"omitempty,ip" yaml:"bind_address,omitempty"`

	// Port is the TCP port of the service
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// Replicas > 1 runs a load-balanced pool of instances
	// Default: 1
	Replicas int `mapstructure:"replicas" validate:"min=1,max=1024" yaml:"replicas"`

	// Buffer is the admission queue capacity. 0 disables the buffer.
	Buffer int `mapstructure:"buffer" validate:"min=0" yaml:"buffer,omitempty"`

	// ConcurrencyLimit caps calls in flight. 0 means unlimited.
	ConcurrencyLimit int `mapstructure:"concurrency_limit" validate:"min=0" yaml:"concurrency_limit,omitempty"`

	// MaxConnections caps concurrent connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections,omitempty"`

	// Framing selects how requests are delimited on the stream
	// Valid values: short-read, length-prefixed, newline
	// Default: short-read
	Framing string `mapstructure:"framing" validate:"required,oneof=short-read length-prefixed newline" yaml:"framing"`

	// Codec selects the payload encoding
	// Valid values: json, xdr
	// Default: json
	Codec string `mapstructure:"codec" validate:"required,oneof=json xdr" yaml:"codec"`

	// MaxFrame caps the size of one request. Defaults to DefaultMaxFrame.
	// Supports human-readable formats: "64Ki", "1MB"
	MaxFrame bytesize.ByteSize `mapstructure:"max_frame" yaml:"max_frame,omitempty"`
}

// Layers returns the backpressure layers of the service.
func (s ServiceConfig) Layers() service.Layers {
	return service.Layers{
		Buffer:           s.Buffer,
		ConcurrencyLimit: s.ConcurrencyLimit,
	}
}

// Framer returns the configured framing strategy.
func (s ServiceConfig) Framer() (session.Framer, error) {
	return session.ParseFraming(s.Framing, s.MaxFrame.Int())
}

// PayloadCodec returns the configured codec.
func (s ServiceConfig) PayloadCodec() (codec.Codec, error) {
	return codec.Parse(s.Codec)
}
