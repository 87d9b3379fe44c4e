package agent

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/Joguig/client-event-reporter/internal/export"
	exporthttp "github.com/Joguig/client-event-reporter/internal/export/http"
	"github.com/Joguig/client-event-reporter/internal/registry"
	"github.com/Joguig/client-event-reporter/internal/stats"
)

// EnvPrefix prefixes every environment override, e.g.
// REPORTER_BACKEND_FLUSH_DELAY.
const EnvPrefix = "reporter"

// Config is the top-level configuration for the reporter.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`

	// Destination names the collector stats are reported to.
	// Defaults to "production".
	Destination string `yaml:"destination" envconfig:"DESTINATION"`

	// Namespace prefixes counter and timer keys.
	Namespace string `yaml:"namespace" envconfig:"NAMESPACE"`

	// Destinations maps destination names to collector base URLs.
	// Defaults to the production and darklaunch collectors.
	Destinations map[string]string `yaml:"destinations" envconfig:"DESTINATIONS"`

	// Backend configures batching.
	Backend stats.BackendConfig `yaml:"backend" envconfig:"BACKEND"`

	// HTTP configures delivery to the collector.
	HTTP exporthttp.Config `yaml:"http" envconfig:"HTTP"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health" envconfig:"HEALTH"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:    "info",
		Destination: registry.DestinationProduction,
		Backend:     stats.DefaultBackendConfig(),
		HTTP:        exporthttp.DefaultConfig(),
		Health: export.HealthConfig{
			Addr: ":9090",
		},
	}
}

// LoadConfig builds a Config from defaults, the YAML file at path (if
// any) and REPORTER_* environment variables, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if c.Destination == "" {
		return errors.New("destination is required")
	}

	if c.Namespace == "" {
		return errors.New("namespace is required")
	}

	if len(c.Destinations) == 0 {
		c.Destinations = registry.DefaultDestinations()
	}

	addr, ok := c.Destinations[c.Destination]
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnknownDestination, c.Destination)
	}

	backend := c.Backend
	backend.Address = addr
	backend.ApplyDefaults()

	if err := backend.Validate(); err != nil {
		return fmt.Errorf("backend: %w", err)
	}

	c.HTTP.ApplyDefaults()

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	return nil
}
