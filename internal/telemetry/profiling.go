package telemetry

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/grafana/pyroscope-go"
)

// LabelService is the pprof label carrying the bound service a goroutine
// serves.
const LabelService = "service"

// ProfilingConfig contains configuration for Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool

	// ServiceName is the application name shown in Pyroscope.
	ServiceName string

	ServiceVersion string

	// Endpoint is the Pyroscope server URL (e.g., "http://localhost:4040")
	Endpoint string

	// ProfileTypes lists the profiles to collect, by name (see ProfileTypeNames).
	ProfileTypes []string

	// Services are the bound service names, sent as the "services" tag.
	Services []string
}

var profilingEnabled atomic.Bool

var profileTypes = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

// ProfileTypeNames returns the accepted profile type names, sorted.
func ProfileTypeNames() []string {
	names := make([]string, 0, len(profileTypes))
	for name := range profileTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// profileSelection is the parsed form of ProfilingConfig.ProfileTypes.
type profileSelection struct {
	types []pyroscope.ProfileType
	mutex bool
	block bool
}

func selectProfiles(names []string) (profileSelection, error) {
	var sel profileSelection
	for _, name := range names {
		pt, ok := profileTypes[name]
		if !ok {
			return profileSelection{}, fmt.Errorf("unknown profile type %q (valid: %s)",
				name, strings.Join(ProfileTypeNames(), ", "))
		}
		sel.types = append(sel.types, pt)

		switch pt {
		case pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration:
			sel.mutex = true
		case pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration:
			sel.block = true
		}
	}
	return sel, nil
}

func profileTags(cfg ProfilingConfig) map[string]string {
	tags := map[string]string{"version": cfg.ServiceVersion}
	if len(cfg.Services) > 0 {
		services := append([]string(nil), cfg.Services...)
		sort.Strings(services)
		tags["services"] = strings.Join(services, ",")
	}
	return tags
}

// InitProfiling starts Pyroscope continuous profiling and returns the
// function that stops it.
func InitProfiling(cfg ProfilingConfig) (shutdown func() error, err error) {
	if !cfg.Enabled {
		profilingEnabled.Store(false)
		return func() error { return nil }, nil
	}

	sel, err := selectProfiles(cfg.ProfileTypes)
	if err != nil {
		return nil, err
	}
	if sel.mutex {
		runtime.SetMutexProfileFraction(5)
	}
	if sel.block {
		runtime.SetBlockProfileRate(5)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            profileTags(cfg),
		ProfileTypes:    sel.types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	profilingEnabled.Store(true)

	return func() error {
		profilingEnabled.Store(false)
		return profiler.Stop()
	}, nil
}

// IsProfilingEnabled returns whether profiling is enabled
func IsProfilingEnabled() bool {
	return profilingEnabled.Load()
}

// ProfileService runs fn with the service pprof label set, so CPU and
// allocation profiles can be split per bound service. Without profiling fn
// runs unlabelled.
func ProfileService(ctx context.Context, service string, fn func(context.Context)) {
	if !IsProfilingEnabled() {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(LabelService, service), fn)
}
