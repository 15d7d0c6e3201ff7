package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/autofixd/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled ignores everything", func(c *Config) { c.Endpoint = "" }, false},
		{"local insecure", func(c *Config) { c.Enabled = true }, false},
		{"loopback ipv6", func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }, false},
		{"remote insecure", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, true},
		{"remote tls", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "https://otel.example.com:4318"
			c.Protocol = "http/protobuf"
			c.Insecure = false
		}, false},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "thrift" }, true},
		{"bad rate", func(c *Config) { c.Enabled = true; c.SamplingRate = 1.5 }, true},
		{"no interval", func(c *Config) { c.Enabled = true; c.Metrics.ExportInterval = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	c := config.Default().Telemetry
	c.Enabled = true
	c.Protocol = "http/protobuf"
	c.ExportInterval = config.Duration(30 * time.Second)

	cfg := FromConfig(c)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "autofixd", cfg.ServiceName)
	assert.Equal(t, 30*time.Second, cfg.Metrics.ExportInterval)
	assert.NoError(t, cfg.Validate())
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))

	var nilTel *Telemetry
	assert.False(t, nilTel.IsEnabled())
	assert.True(t, nilTel.Health().Degraded)
}

func TestNew_Invalid(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.SamplingRate = -1
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestTestTelemetry_Install(t *testing.T) {
	tt := NewTestTelemetry()
	tt.Install(t)

	ctx, span := otel.Tracer("test").Start(context.Background(), "planner.tick")
	span.SetAttributes(attribute.String("planner.action", "fix_scene"))
	span.End()

	counter, err := otel.Meter("test").Int64Counter("autofixd.test_total")
	require.NoError(t, err)
	counter.Add(ctx, 2, metric.WithAttributes(attribute.String("outcome", "applied")))
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ignored")))

	tt.AssertSpanExists(t, "planner.tick")
	tt.AssertSpanAttribute(t, "planner.tick", "planner.action", "fix_scene")
	assert.Equal(t, int64(3), tt.CounterValue(t, "autofixd.test_total"))
	assert.Equal(t, int64(2), tt.CounterValue(t, "autofixd.test_total", attribute.String("outcome", "applied")))
	assert.True(t, tt.IsEnabled())
}

func TestExporterHelpers(t *testing.T) {
	assert.Equal(t, "collector:4318", hostPort("https://collector:4318"))
	assert.Equal(t, "localhost:4317", hostPort("localhost:4317"))

	cfg := NewDefaultConfig()
	assert.Nil(t, clientTLS(cfg), "insecure wins")
	cfg.Insecure = false
	assert.Nil(t, clientTLS(cfg))
	cfg.TLSSkipVerify = true
	require.NotNil(t, clientTLS(cfg))
	assert.True(t, clientTLS(cfg).InsecureSkipVerify)

	assert.Contains(t, newSampler(0.25).Description(), "TraceIDRatioBased")
	assert.Contains(t, newSampler(1).Description(), "AlwaysOnSampler")
}
