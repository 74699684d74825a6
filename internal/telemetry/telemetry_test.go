package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "docstored", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "disabled skips validation", mutate: func(c *Config) {
			c.Enabled = false
			c.Endpoint = ""
		}},
		{name: "enabled defaults valid", mutate: func(c *Config) {
			c.Enabled = true
		}},
		{name: "missing endpoint", mutate: func(c *Config) {
			c.Enabled = true
			c.Endpoint = ""
		}, wantErr: true},
		{name: "insecure remote endpoint", mutate: func(c *Config) {
			c.Enabled = true
			c.Endpoint = "collector.example.com:4317"
		}, wantErr: true},
		{name: "secure remote endpoint", mutate: func(c *Config) {
			c.Enabled = true
			c.Endpoint = "collector.example.com:4317"
			c.Insecure = false
		}},
		{name: "sampling rate out of range", mutate: func(c *Config) {
			c.Enabled = true
			c.Sampling.Rate = 1.5
		}, wantErr: true},
		{name: "zero shutdown timeout", mutate: func(c *Config) {
			c.Enabled = true
			c.Shutdown.Timeout = 0
		}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	local := []string{"localhost:4317", "127.0.0.1:4317", "[::1]:4317", "127.0.0.5:4317"}
	for _, ep := range local {
		cfg := &Config{Endpoint: ep}
		assert.True(t, cfg.isLocalEndpoint(), ep)
	}
	remote := []string{"collector.example.com:4317", "10.0.0.1:4317"}
	for _, ep := range remote {
		cfg := &Config{Endpoint: ep}
		assert.False(t, cfg.isLocalEndpoint(), ep)
	}
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Nil(t, tel.LoggerProvider())
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Nil(t, tel.LoggerProvider())
	assert.False(t, tel.IsEnabled())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))

	health := tel.Health()
	assert.False(t, health.Healthy)
	assert.True(t, health.Degraded)
}

func TestTelemetry_ShutdownWithTimeout(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Shutdown.Timeout = 100 * time.Millisecond
	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, tel.Shutdown(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}
