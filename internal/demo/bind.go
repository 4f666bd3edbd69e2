package demo

import (
	"fmt"
	"sort"

	"github.com/marmos91/microtower/pkg/config"
	"github.com/marmos91/microtower/pkg/registry"
	"github.com/marmos91/microtower/pkg/runtime"
)

type binder func(rt *runtime.Runtime, spec runtime.BindSpec) error

var kinds = map[string]struct {
	key  registry.TypeKey
	bind binder
}{
	"echo":  {EchoKey, runtime.Bind[string, string]},
	"upper": {UpperKey, runtime.Bind[string, string]},
	"parse": {ParseKey, runtime.Bind[string, int64]},
	"sum":   {SumKey, runtime.Bind[SumRequest, int64]},
}

// Kinds returns the service kinds accepted in services[].kind.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Bind exposes the demo service selected by svc.Kind on rt.
func Bind(rt *runtime.Runtime, svc config.ServiceConfig) error {
	kind, ok := kinds[svc.Kind]
	if !ok {
		return fmt.Errorf("service %s: unknown kind %q (valid: %v)", svc.Name, svc.Kind, Kinds())
	}

	framer, err := svc.Framer()
	if err != nil {
		return fmt.Errorf("service %s: %w", svc.Name, err)
	}
	c, err := svc.PayloadCodec()
	if err != nil {
		return fmt.Errorf("service %s: %w", svc.Name, err)
	}

	return kind.bind(rt, runtime.BindSpec{
		Name:           svc.Name,
		Key:            kind.key,
		BindAddress:    svc.BindAddress,
		Port:           svc.Port,
		Codec:          c,
		Framer:         framer,
		Replicas:       svc.Replicas,
		Layers:         svc.Layers(),
		MaxConnections: svc.MaxConnections,
	})
}

// BindAll binds every configured service, stopping at the first error.
func BindAll(rt *runtime.Runtime, services []config.ServiceConfig) error {
	for _, svc := range services {
		if err := Bind(rt, svc); err != nil {
			return err
		}
	}
	return nil
}
