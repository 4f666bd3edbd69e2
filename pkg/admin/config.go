package admin

import "time"

// Config configures the admin HTTP server.
type Config struct {
	// BindAddress is the IP to listen on. Empty binds all interfaces.
	BindAddress string

	// Port is the HTTP port. 0 picks an ephemeral port, see Server.Port.
	Port int

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 10s
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// Default: 10s
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 60s
	IdleTimeout time.Duration

	// ReadyTimeout bounds the readiness probe.
	// Default: 5s
	ReadyTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 5 * time.Second
	}
}
