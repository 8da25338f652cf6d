package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringside/internal/annotate"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ringside.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingOptionalFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Addr())
	assert.Equal(t, "http", cfg.Inference.Transport)
	assert.Equal(t, "boxing-lelg6", cfg.Inference.Model)
	assert.Equal(t, 3, cfg.Inference.Version)
	assert.Equal(t, 40, cfg.Inference.Confidence)
	assert.Equal(t, 30, cfg.Inference.Overlap)
	assert.Equal(t, 10*time.Second, cfg.Inference.Timeout)
	assert.Equal(t, "ringside/events", cfg.MQTT.Topic)
	assert.Equal(t, annotate.OriginCenter, cfg.AnnotateConfig().Origin)
}

func TestLoad_MissingRequiredFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), true)
	assert.Error(t, err)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
source:
  url: rtsp://ring.local/stream
  fps: 10
inference:
  transport: grpc
  endpoint: localhost:50051
  timeout: 3s
  max_attempts: 2
annotator:
  origin: corner
mqtt:
  broker: localhost:1883
  topic: gym/ring1/
`)
	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "grpc", cfg.Inference.Transport)
	assert.Equal(t, 3*time.Second, cfg.Inference.Timeout)
	assert.Equal(t, annotate.OriginCorner, cfg.AnnotateConfig().Origin)

	cc := cfg.CaptureConfig()
	assert.Equal(t, "rtsp://ring.local/stream", cc.URL)
	assert.True(t, cc.DropStale, "live inputs drop stale frames by default")

	dc := cfg.DetectionConfig()
	assert.Equal(t, "localhost:50051", dc.Endpoint)
	assert.Equal(t, 2, dc.MaxAttempts)

	assert.Equal(t, "localhost:1883", cfg.EmitterConfig().Broker)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "inference:\n  api_key: from-file\n")
	t.Setenv("RINGSIDE_INFERENCE_API_KEY", "from-env")
	t.Setenv("RINGSIDE_HTTP_PORT", "7000")
	t.Setenv("RINGSIDE_INFERENCE_TIMEOUT", "250ms")
	t.Setenv("RINGSIDE_AUTH_ENABLED", "true")
	t.Setenv("RINGSIDE_AUTH_PASSWORD", "secret")

	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Inference.APIKey)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Inference.Timeout)
	assert.True(t, cfg.AuthConfig().Enabled)
	assert.Equal(t, "admin", cfg.AuthConfig().Username)
}

func TestLoad_RoboflowKeyFallback(t *testing.T) {
	t.Setenv("ROBOFLOW_API_KEY", "legacy")
	cfg, err := Load("", false)
	require.NoError(t, err)
	assert.Equal(t, "legacy", cfg.Inference.APIKey)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("RINGSIDE_HTTP_PORT", "eighty")
	_, err := Load("", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RINGSIDE_HTTP_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"transport", func(c *Config) { c.Inference.Transport = "amqp" }, "inference.transport"},
		{"grpc endpoint", func(c *Config) { c.Inference.Transport = "grpc" }, "inference.endpoint"},
		{"confidence", func(c *Config) { c.Inference.Confidence = 101 }, "inference.confidence"},
		{"attempts", func(c *Config) { c.Inference.MaxAttempts = 4 }, "inference.max_attempts"},
		{"origin", func(c *Config) { c.Annotator.Origin = "top" }, "origin"},
		{"quality", func(c *Config) { c.Encoder.Quality = 0 }, "encoder.quality"},
		{"auth", func(c *Config) { c.Auth.Enabled = true }, "auth.password"},
		{"qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, Default().Validate())
}
