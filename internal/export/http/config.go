package http

import (
	"errors"
	"time"
)

// Config configures how flushed batches are sent to the collector.
type Config struct {
	// Headers are additional HTTP headers to include in requests.
	Headers map[string]string `yaml:"headers" envconfig:"HEADERS"`

	// Compression specifies the request body compression.
	// Valid values: none, gzip, zstd, zlib, snappy.
	// Defaults to none.
	Compression string `yaml:"compression" envconfig:"COMPRESSION"`

	// ExportTimeout bounds a single POST to the collector.
	// Defaults to 10s.
	ExportTimeout time.Duration `yaml:"export_timeout" envconfig:"EXPORT_TIMEOUT"`

	// MaxQueueSize is the number of flushed batches that may wait for a
	// worker. Batches are dropped while it is full. Defaults to 64.
	MaxQueueSize int `yaml:"max_queue_size" envconfig:"MAX_QUEUE_SIZE"`

	// QueueTimeout is how long the send queue waits before handing queued
	// batches to a worker. Defaults to 50ms.
	QueueTimeout time.Duration `yaml:"queue_timeout" envconfig:"QUEUE_TIMEOUT"`

	// Workers is the number of concurrent senders.
	// Defaults to 1.
	Workers int `yaml:"workers" envconfig:"WORKERS"`

	// KeepAlive enables HTTP keep-alive connections.
	// Defaults to true.
	KeepAlive *bool `yaml:"keep_alive" envconfig:"KEEP_ALIVE"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	keepAlive := true

	return Config{
		Compression:   CompressionNone,
		ExportTimeout: 10 * time.Second,
		MaxQueueSize:  64,
		QueueTimeout:  50 * time.Millisecond,
		Workers:       1,
		KeepAlive:     &keepAlive,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MaxQueueSize <= 0 {
		return errors.New("max_queue_size must be greater than 0")
	}

	if c.Workers <= 0 {
		return errors.New("workers must be greater than 0")
	}

	if c.ExportTimeout <= 0 {
		return errors.New("export_timeout must be greater than 0")
	}

	if _, ok := contentEncodings[c.Compression]; !ok && c.Compression != "" {
		return errors.New("invalid compression type: " + c.Compression)
	}

	return nil
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Compression == "" {
		c.Compression = defaults.Compression
	}

	if c.ExportTimeout <= 0 {
		c.ExportTimeout = defaults.ExportTimeout
	}

	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaults.MaxQueueSize
	}

	if c.QueueTimeout <= 0 {
		c.QueueTimeout = defaults.QueueTimeout
	}

	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}

	if c.KeepAlive == nil {
		c.KeepAlive = defaults.KeepAlive
	}
}

// IsKeepAlive returns whether HTTP keep-alive is enabled.
func (c *Config) IsKeepAlive() bool {
	if c.KeepAlive == nil {
		return true
	}

	return *c.KeepAlive
}
