package stats

import (
	"errors"
	"time"
)

// BackendConfig configures a Backend.
type BackendConfig struct {
	// Address is the collector base URL. Batches are posted to
	// Address + "/v1/stats". Set per destination, never from the file.
	Address string `yaml:"-" ignored:"true"`

	// FlushDelay is how long the first event of a batch waits before
	// the batch is flushed. Defaults to 500ms.
	FlushDelay time.Duration `yaml:"flush_delay" envconfig:"FLUSH_DELAY"`

	// MaxPending is the pending event count above which a batch is
	// flushed immediately. Defaults to 20.
	MaxPending int `yaml:"max_pending" envconfig:"MAX_PENDING"`

	// QueueSize bounds the number of log calls waiting to be applied
	// to the batch. Callers block while it is full. Defaults to 1024.
	QueueSize int `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
}

// DefaultBackendConfig returns a BackendConfig with sensible defaults.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		FlushDelay: 500 * time.Millisecond,
		MaxPending: 20,
		QueueSize:  1024,
	}
}

// ApplyDefaults applies default values to unset fields.
func (c *BackendConfig) ApplyDefaults() {
	defaults := DefaultBackendConfig()

	if c.FlushDelay <= 0 {
		c.FlushDelay = defaults.FlushDelay
	}

	if c.MaxPending <= 0 {
		c.MaxPending = defaults.MaxPending
	}

	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}
}

// Validate validates the configuration.
func (c *BackendConfig) Validate() error {
	if c.Address == "" {
		return ErrMissingAddress
	}

	if c.FlushDelay <= 0 {
		return errors.New("flush_delay must be greater than 0")
	}

	if c.MaxPending <= 0 {
		return errors.New("max_pending must be greater than 0")
	}

	if c.QueueSize <= 0 {
		return errors.New("queue_size must be greater than 0")
	}

	return nil
}
