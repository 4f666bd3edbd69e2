package config

import (
	"strings"
	"time"

	"github.com/marmos91/microtower/internal/bytesize"
	"github.com/marmos91/microtower/pkg/session"
)

const (
	// DefaultAdminPort is the port of the HTTP admin API.
	DefaultAdminPort = 8080

	// DefaultFraming keeps wire compatibility with short-read clients.
	DefaultFraming = "short-read"

	// DefaultCodec is the payload encoding of a service.
	DefaultCodec = "json"

	// DefaultMaxFrame is the largest request a service accepts.
	DefaultMaxFrame = bytesize.ByteSize(session.DefaultMaxFrame)
)

// ApplyDefaults sets default values for any unspecified configuration fields.
// Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyAdminDefaults(&cfg.Admin)
	for i := range cfg.Services {
		applyServiceDefaults(&cfg.Services[i])
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultAdminPort
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

func applyServiceDefaults(cfg *ServiceConfig) {
	if cfg.Replicas == 0 {
		cfg.Replicas = 1
	}
	if cfg.Framing == "" {
		cfg.Framing = DefaultFraming
	}
	cfg.Framing = strings.ToLower(cfg.Framing)
	if cfg.Codec == "" {
		cfg.Codec = DefaultCodec
	}
	if cfg.MaxFrame == 0 {
		cfg.MaxFrame = DefaultMaxFrame
	}
	cfg.Codec = strings.ToLower(cfg.Codec)
	cfg.Kind = strings.ToLower(cfg.Kind)
}

// GetDefaultConfig returns a Config with every default applied and the demo
// echo service bound on port 7000.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Admin: AdminConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Services: []ServiceConfig{
			{Name: "echo", Kind: "echo", Port: 7000},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
