package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exporthttp "github.com/Joguig/client-event-reporter/internal/export/http"
	"github.com/Joguig/client-event-reporter/internal/registry"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, registry.DestinationProduction, cfg.Destination)
	assert.Equal(t, ":9090", cfg.Health.Addr)
	assert.False(t, cfg.Health.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Backend.FlushDelay)
	assert.Equal(t, 20, cfg.Backend.MaxPending)
	assert.Equal(t, exporthttp.CompressionNone, cfg.HTTP.Compression)
}

func TestLoadConfig(t *testing.T) {
	yaml := `
log_level: debug
destination: staging
namespace: player
destinations:
  staging: "http://localhost:8080"
backend:
  flush_delay: 250ms
  max_pending: 50
http:
  compression: gzip
  workers: 2
  headers:
    X-Client-Id: abc
health:
  enabled: true
  addr: ":9091"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "staging", cfg.Destination)
	assert.Equal(t, "player", cfg.Namespace)
	assert.Equal(t, map[string]string{"staging": "http://localhost:8080"}, cfg.Destinations)
	assert.Equal(t, 250*time.Millisecond, cfg.Backend.FlushDelay)
	assert.Equal(t, 50, cfg.Backend.MaxPending)
	assert.Equal(t, 1024, cfg.Backend.QueueSize)
	assert.Equal(t, exporthttp.CompressionGzip, cfg.HTTP.Compression)
	assert.Equal(t, 2, cfg.HTTP.Workers)
	assert.Equal(t, "abc", cfg.HTTP.Headers["X-Client-Id"])
	assert.True(t, cfg.Health.Enabled)
	assert.Equal(t, ":9091", cfg.Health.Addr)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("REPORTER_NAMESPACE", "from-env")
	t.Setenv("REPORTER_DESTINATION", "darklaunch")
	t.Setenv("REPORTER_BACKEND_FLUSH_DELAY", "1s")
	t.Setenv("REPORTER_HTTP_COMPRESSION", "zstd")
	t.Setenv("REPORTER_HEALTH_ENABLED", "true")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "from-env", cfg.Namespace)
	assert.Equal(t, "darklaunch", cfg.Destination)
	assert.Equal(t, time.Second, cfg.Backend.FlushDelay)
	assert.Equal(t, 20, cfg.Backend.MaxPending)
	assert.Equal(t, exporthttp.CompressionZstd, cfg.HTTP.Compression)
	assert.True(t, cfg.Health.Enabled)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	// Use a tab character at the start which is invalid YAML indentation.
	require.NoError(t, os.WriteFile(path, []byte("\t- bad"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing namespace",
			mutate:  func(c *Config) { c.Namespace = "" },
			wantErr: "namespace is required",
		},
		{
			name:    "missing destination",
			mutate:  func(c *Config) { c.Destination = "" },
			wantErr: "destination is required",
		},
		{
			name:    "unknown destination",
			mutate:  func(c *Config) { c.Destination = "moon" },
			wantErr: "unknown destination: moon",
		},
		{
			name: "destination missing from custom table",
			mutate: func(c *Config) {
				c.Destinations = map[string]string{"local": "http://localhost"}
			},
			wantErr: "unknown destination: production",
		},
		{
			name: "empty collector address",
			mutate: func(c *Config) {
				c.Destinations = map[string]string{"production": ""}
			},
			wantErr: "backend: collector address is required",
		},
		{
			name:    "bad compression",
			mutate:  func(c *Config) { c.HTTP.Compression = "lz4" },
			wantErr: "http: invalid compression type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Namespace = "player"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
