package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "microtower", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
	assert.NotNil(t, Tracer())
}

func TestStartRequestSpan_NoopWithoutInit(t *testing.T) {
	ctx, span := StartRequestSpan(context.Background(), "echo", "json", 12, ClientAddr("127.0.0.1:4000"))
	require.NotNil(t, span)
	defer span.End()

	// No-op spans carry no IDs.
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))

	assert.NotPanics(t, func() {
		RecordError(ctx, errors.New("boom"))
		RecordError(ctx, nil)
		SetAttributes(ctx, Outcome("500"))
	})
}

func TestAttributeHelpers(t *testing.T) {
	assert.Equal(t, attribute.String(AttrService, "echo"), Service("echo"))
	assert.Equal(t, attribute.String(AttrCodec, "xdr"), Codec("xdr"))
	assert.Equal(t, attribute.String(AttrOutcome, "400"), Outcome("400"))
	assert.Equal(t, attribute.Int(AttrFrameBytes, 7), FrameBytes(7))
	assert.Equal(t, attribute.String(AttrConnection, "c1"), ConnectionID("c1"))
}

func TestInitProfilingDisabled(t *testing.T) {
	shutdown, err := InitProfiling(ProfilingConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown())
	assert.False(t, IsProfilingEnabled())
}

func TestSelectProfiles(t *testing.T) {
	sel, err := selectProfiles([]string{"goroutines", "mutex_count"})
	require.NoError(t, err)
	assert.Equal(t, []pyroscope.ProfileType{pyroscope.ProfileGoroutines, pyroscope.ProfileMutexCount}, sel.types)
	assert.True(t, sel.mutex)
	assert.False(t, sel.block)

	_, err = selectProfiles([]string{"heap"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cpu")
}

func TestProfileTags_ListsBoundServices(t *testing.T) {
	tags := profileTags(ProfilingConfig{ServiceVersion: "1.2.0", Services: []string{"upper", "echo"}})
	assert.Equal(t, map[string]string{"version": "1.2.0", "services": "echo,upper"}, tags)

	tags = profileTags(ProfilingConfig{ServiceVersion: "dev"})
	assert.Equal(t, map[string]string{"version": "dev"}, tags)
}

func TestProfileService_RunsWithoutProfiler(t *testing.T) {
	var ran bool
	ProfileService(context.Background(), "echo", func(ctx context.Context) {
		ran = true
		assert.NotNil(t, ctx)
	})
	assert.True(t, ran)
}

func TestInitProfiling_RejectsUnknownType(t *testing.T) {
	_, err := InitProfiling(ProfilingConfig{Enabled: true, ProfileTypes: []string{"nope"}})
	assert.Error(t, err)
	assert.False(t, IsProfilingEnabled())
}
