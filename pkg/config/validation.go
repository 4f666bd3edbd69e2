package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the rules spanning several services:
// unique names, unique ports, and codec/framing compatibility.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	if err := validate.Struct(cfg); err != nil {
		return err
	}

	return validateServices(cfg.Services)
}

func validateServices(services []ServiceConfig) error {
	names := make(map[string]struct{}, len(services))
	ports := make(map[string]string, len(services))

	for i, svc := range services {
		if _, dup := names[svc.Name]; dup {
			return fmt.Errorf("services[%d]: duplicate service name %q", i, svc.Name)
		}
		names[svc.Name] = struct{}{}

		if svc.Port != 0 {
			addr := net.JoinHostPort(svc.BindAddress, strconv.Itoa(svc.Port))
			if other, dup := ports[addr]; dup {
				return fmt.Errorf("services[%d]: %s is already used by service %q", i, addr, other)
			}
			ports[addr] = svc.Name
		}

		// XDR payloads are binary and may contain the delimiter byte.
		if svc.Codec == "xdr" && svc.Framing == "newline" {
			return fmt.Errorf("services[%d] %q: xdr codec cannot be used with newline framing", i, svc.Name)
		}
	}
	return nil
}
