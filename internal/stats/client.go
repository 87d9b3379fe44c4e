package stats

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrMissingRecorder is returned when a Client has nothing to record to.
	ErrMissingRecorder = errors.New("recorder is required")
	// ErrMissingNamespace is returned for an empty namespace.
	ErrMissingNamespace = errors.New("namespace is required")
)

// Option overrides the count or sample rate of a single stat.
type Option func(*sample)

type sample struct {
	count      int64
	sampleRate float64
}

// WithCount sets the counter increment. Ignored for timers.
func WithCount(n int64) Option {
	return func(s *sample) { s.count = n }
}

// WithSampleRate sets the sample rate reported with the stat.
func WithSampleRate(rate float64) Option {
	return func(s *sample) { s.sampleRate = rate }
}

func newSample(opts []Option) sample {
	s := sample{count: DefaultCount, sampleRate: DefaultSampleRate}

	for _, opt := range opts {
		opt(&s)
	}

	return s
}

// Client prefixes counter and timer keys with a namespace before handing
// them to a shared Recorder. Log lines and gauge keys pass through
// unprefixed. Many clients may share one Recorder; a Client never closes it.
type Client struct {
	recorder Recorder

	mu     sync.RWMutex
	prefix string
}

// NewClient creates a Client for namespace on top of recorder.
func NewClient(recorder Recorder, namespace string) (*Client, error) {
	if recorder == nil {
		return nil, ErrMissingRecorder
	}

	if namespace == "" {
		return nil, ErrMissingNamespace
	}

	return &Client{recorder: recorder, prefix: namespace}, nil
}

// Recorder returns the Recorder this client writes to.
func (c *Client) Recorder() Recorder { return c.recorder }

// Prefix returns the current namespace.
func (c *Client) Prefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.prefix
}

// SetPrefix replaces the namespace.
func (c *Client) SetPrefix(namespace string) error {
	if namespace == "" {
		return ErrMissingNamespace
	}

	c.mu.Lock()
	c.prefix = namespace
	c.mu.Unlock()

	return nil
}

// LogCounter records "<namespace>.<key>". Count defaults to 1 and sample
// rate to 1.0.
func (c *Client) LogCounter(key string, opts ...Option) {
	s := newSample(opts)
	c.recorder.LogCounter(c.key(key), s.count, s.sampleRate)
}

// LogTimer records "<namespace>.<key>" with the given milliseconds.
func (c *Client) LogTimer(key string, milliseconds float64, opts ...Option) {
	s := newSample(opts)
	c.recorder.LogTimer(c.key(key), milliseconds, s.sampleRate)
}

// LogDuration is LogTimer with d converted to milliseconds.
func (c *Client) LogDuration(key string, d time.Duration, opts ...Option) {
	c.LogTimer(key, float64(d)/float64(time.Millisecond), opts...)
}

// LogLine records line as is.
func (c *Client) LogLine(line string) {
	c.recorder.LogLine(line)
}

// LogGauge records key as is, without the namespace.
func (c *Client) LogGauge(key string) {
	c.recorder.LogGauge(key)
}

func (c *Client) key(key string) string {
	return c.Prefix() + "." + key
}
