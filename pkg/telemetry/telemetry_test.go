// Package telemetry tests OpenTelemetry tracing functionality.
package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	cfg := telemetry.Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Enabled:        false,
	}

	tp, err := telemetry.Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, tp)

	// Tracer should still work
	tracer := tp.Tracer()
	assert.NotNil(t, tracer)
}

func TestTracerProvider_Shutdown(t *testing.T) {
	cfg := telemetry.Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Enabled:        false,
	}

	tp, err := telemetry.Init(context.Background(), cfg)
	require.NoError(t, err)

	err = tp.Shutdown(context.Background())
	assert.NoError(t, err)
}

func TestStartSpan(t *testing.T) {
	cfg := telemetry.Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Enabled:        false,
	}

	tp, err := telemetry.Init(context.Background(), cfg)
	require.NoError(t, err)

	ctx, span := tp.StartSpan(context.Background(), "test-operation")
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
	span.End()
}

func TestSafeAttributes(t *testing.T) {
	attrs := telemetry.NewSafeAttributes().
		HTTPMethod("POST").
		HTTPRoute("/api/v1/agents/{agent_id}/policies/sync").
		HTTPStatusCode(200).
		DBSystem("postgresql").
		DBOperation("SELECT").
		Operation("sync_policies").
		Result("success").
		Duration(150 * time.Millisecond).
		Build()

	assert.Len(t, attrs, 8)
}

func TestSafeAttributes_DomainHelpers(t *testing.T) {
	attrs := telemetry.NewSafeAttributes().
		EventType("clipboard").
		PolicyCount(3).
		ActionType("quarantine").
		BundleVersion("abc123").
		Build()

	require.Len(t, attrs, 4)
	assert.Equal(t, "event.type", string(attrs[0].Key))
	assert.Equal(t, "bundle.version", string(attrs[3].Key))
}

func TestSafeAttributes_Empty(t *testing.T) {
	attrs := telemetry.NewSafeAttributes().Build()
	assert.Empty(t, attrs)
}

func TestSafeAttributes_Chaining(t *testing.T) {
	sa := telemetry.NewSafeAttributes()

	// Verify chaining returns same instance
	result := sa.HTTPMethod("POST").HTTPRoute("/test").HTTPStatusCode(201)
	assert.Same(t, sa, result)

	attrs := result.Build()
	assert.Len(t, attrs, 3)
}

func TestConfig_Struct(t *testing.T) {
	cfg := telemetry.Config{
		ServiceName:    "sentinel-server",
		ServiceVersion: "2.0.0",
		Endpoint:       "localhost:4318",
		SampleRate:     0.5,
		Enabled:        true,
	}

	assert.Equal(t, "sentinel-server", cfg.ServiceName)
	assert.Equal(t, "2.0.0", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4318", cfg.Endpoint)
	assert.InEpsilon(t, 0.5, cfg.SampleRate, 0.001)
	assert.True(t, cfg.Enabled)
}

func TestSafeAttributes_Result(t *testing.T) {
	results := []string{"success", "failure", "error", "timeout"}

	for _, result := range results {
		t.Run(result, func(t *testing.T) {
			attrs := telemetry.NewSafeAttributes().Result(result).Build()
			require.Len(t, attrs, 1)
		})
	}
}
