// Package stats buffers counters, timers, log lines and gauges and flushes
// them to a collector in batches.
package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Event kinds, used for logging and metrics labels.
const (
	KindCounter = "counter"
	KindTimer   = "timer"
	KindLogLine = "log_line"
	KindGauge   = "gauge"
)

// Flush triggers.
const (
	TriggerTimer     = "timer"
	TriggerThreshold = "threshold"
	TriggerManual    = "manual"
	TriggerClose     = "close"
)

var (
	// ErrMissingAddress is returned when a backend has no collector address.
	ErrMissingAddress = errors.New("collector address is required")
	// ErrMissingTransmitter is returned when a backend has no transmitter.
	ErrMissingTransmitter = errors.New("transmitter is required")
	// ErrBackendClosed is returned by operations on a closed backend.
	ErrBackendClosed = errors.New("backend is closed")
	// ErrTransportUnavailable is returned by a Transmitter that has no
	// working way to reach the collector.
	ErrTransportUnavailable = errors.New("transport unavailable")
)

// Recorder accepts stats. Backend implements it; Client wraps one.
type Recorder interface {
	LogCounter(key string, count int64, sampleRate float64)
	LogTimer(key string, milliseconds float64, sampleRate float64)
	LogLine(line string)
	LogGauge(key string)
}

// Transmitter hands a flushed batch to the network. Implementations must
// not wait for the collector's response.
type Transmitter interface {
	Transmit(ctx context.Context, batch *Batch) error
}

// Observer is notified about backend activity. All methods must be cheap.
type Observer interface {
	EventLogged(kind string)
	BatchFlushed(trigger string, size int)
	BatchDropped(reason string)
}

// BackendOption configures optional Backend dependencies.
type BackendOption func(*Backend)

// WithClock sets the clock used for flush timers.
func WithClock(c clockwork.Clock) BackendOption {
	return func(b *Backend) {
		b.clock = c
	}
}

// WithObserver sets an Observer for backend activity.
func WithObserver(o Observer) BackendOption {
	return func(b *Backend) {
		if o != nil {
			b.observer = o
		}
	}
}

// Backend owns the pending batch for one collector address. Every
// mutation of the batch and every scheduling decision runs as a task on a
// single goroutine, so log calls, timer fires and flushes never interleave.
type Backend struct {
	log      logrus.FieldLogger
	cfg      BackendConfig
	clock    clockwork.Clock
	tx       Transmitter
	observer Observer

	tasks chan func()

	// Owned by the run loop.
	runCtx  context.Context
	pending *Batch
	timer   clockwork.Timer
	timerC  <-chan time.Time

	// inboxMu guards inboxClosed. Senders hold the read lock while
	// sending so no task lands in the inbox after the final drain.
	inboxMu     sync.RWMutex
	inboxClosed bool

	startOnce sync.Once
	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
	started   chan struct{}
}

var _ Recorder = (*Backend)(nil)

// NewBackend creates a Backend. Call Start before expecting flushes.
func NewBackend(
	log logrus.FieldLogger,
	cfg BackendConfig,
	tx Transmitter,
	opts ...BackendOption,
) (*Backend, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backend config: %w", err)
	}

	if tx == nil {
		return nil, ErrMissingTransmitter
	}

	b := &Backend{
		log:      log.WithFields(logrus.Fields{"component": "stats_backend", "addr": cfg.Address}),
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		tx:       tx,
		observer: nopObserver{},
		tasks:    make(chan func(), cfg.QueueSize),
		pending:  NewBatch(),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		started:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Address returns the collector base URL.
func (b *Backend) Address() string { return b.cfg.Address }

// Start launches the run loop. Cancelling ctx stops it without a final
// flush; use Close for an orderly shutdown.
func (b *Backend) Start(ctx context.Context) error {
	select {
	case <-b.closing:
		return ErrBackendClosed
	default:
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	b.startOnce.Do(func() {
		b.runCtx = ctx
		close(b.started)

		go b.run(ctx)

		b.log.WithFields(logrus.Fields{
			"flush_delay": b.cfg.FlushDelay,
			"max_pending": b.cfg.MaxPending,
		}).Debug("Stats backend started")
	})

	return nil
}

// Close stops accepting stats, flushes whatever is pending and stops the
// run loop. If the transmitter has a Shutdown method it is called after
// the loop exits. Safe to call more than once.
func (b *Backend) Close(ctx context.Context) error {
	b.closeOnce.Do(func() { close(b.closing) })

	select {
	case <-b.started:
	default:
		return nil
	}

	select {
	case <-b.done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for stats backend: %w", ctx.Err())
	}

	if s, ok := b.tx.(interface{ Shutdown(context.Context) error }); ok {
		if err := s.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutting down transmitter: %w", err)
		}
	}

	return nil
}

// LogCounter records a counter.
func (b *Backend) LogCounter(key string, count int64, sampleRate float64) {
	b.record(KindCounter, func(p *Batch) {
		p.Counters = append(p.Counters, Counter{Key: key, Count: count, SampleRate: sampleRate})
	})
}

// LogTimer records a timer.
func (b *Backend) LogTimer(key string, milliseconds float64, sampleRate float64) {
	b.record(KindTimer, func(p *Batch) {
		p.Timers = append(p.Timers, Timer{Key: key, Milliseconds: milliseconds, SampleRate: sampleRate})
	})
}

// LogLine records a log line.
func (b *Backend) LogLine(line string) {
	b.record(KindLogLine, func(p *Batch) {
		p.LogLines = append(p.LogLines, LogLine{LogLine: line})
	})
}

// LogGauge records a gauge.
func (b *Backend) LogGauge(key string) {
	b.record(KindGauge, func(p *Batch) {
		p.Gauges = append(p.Gauges, Gauge{Key: key})
	})
}

// Flush flushes the pending batch now and cancels any armed timer. It
// returns once the batch has been handed to the transmitter.
func (b *Backend) Flush(ctx context.Context) error {
	return b.call(ctx, func() {
		b.stopTimer()
		b.flush(TriggerManual)
	})
}

// Pending returns the number of events waiting for the next flush.
func (b *Backend) Pending(ctx context.Context) (int, error) {
	var n int

	err := b.call(ctx, func() {
		n = b.pending.Len()
	})

	return n, err
}

func (b *Backend) record(kind string, add func(*Batch)) {
	task := func() {
		add(b.pending)
		b.observer.EventLogged(kind)
		b.schedule()
	}

	if !b.submit(context.Background(), task) {
		b.log.WithField("kind", kind).Debug("Backend closed, dropping stat")
	}
}

// call runs fn on the run loop and waits for it to finish.
func (b *Backend) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})

	if !b.submit(ctx, func() {
		fn()
		close(finished)
	}) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return ErrBackendClosed
	}

	select {
	case <-finished:
		return nil
	case <-b.done:
		// The loop may have drained the task on its way out.
		select {
		case <-finished:
			return nil
		default:
			return ErrBackendClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) submit(ctx context.Context, task func()) bool {
	b.inboxMu.RLock()
	defer b.inboxMu.RUnlock()

	if b.inboxClosed {
		return false
	}

	select {
	case <-b.closing:
		return false
	default:
	}

	select {
	case b.tasks <- task:
		return true
	case <-b.closing:
		return false
	case <-ctx.Done():
		return false
	}
}

func (b *Backend) run(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			b.closeOnce.Do(func() { close(b.closing) })
			b.closeInbox()
			b.stopTimer()

			if n := b.pending.Len(); n > 0 {
				b.log.WithField("events", n).Debug("Context cancelled, discarding pending stats")
			}

			return
		case <-b.closing:
			b.closeInbox()
			b.drain()
			b.stopTimer()
			b.flush(TriggerClose)

			return
		case task := <-b.tasks:
			task()
		case <-b.timerC:
			b.timer, b.timerC = nil, nil
			b.flush(TriggerTimer)
		}
	}
}

// closeInbox waits out senders caught mid-send, which return once
// closing is closed, and refuses new ones.
func (b *Backend) closeInbox() {
	b.inboxMu.Lock()
	b.inboxClosed = true
	b.inboxMu.Unlock()
}

// drain runs every task already queued.
func (b *Backend) drain() {
	for {
		select {
		case task := <-b.tasks:
			task()
		default:
			return
		}
	}
}

// schedule runs after every append. Over the threshold the batch goes out
// immediately and any armed timer is cancelled. Otherwise the first event
// of a batch arms the timer and later events ride along with it.
func (b *Backend) schedule() {
	if b.pending.Len() > b.cfg.MaxPending {
		b.stopTimer()
		b.flush(TriggerThreshold)

		return
	}

	if b.timer == nil {
		b.timer = b.clock.NewTimer(b.cfg.FlushDelay)
		b.timerC = b.timer.Chan()
	}
}

func (b *Backend) stopTimer() {
	if b.timer == nil {
		return
	}

	b.timer.Stop()
	b.timer, b.timerC = nil, nil
}

// flush swaps out the pending batch and hands it to the transmitter. A
// batch that fails to transmit is dropped.
func (b *Backend) flush(trigger string) {
	batch := b.pending
	b.pending = NewBatch()

	size := batch.Len()
	if size == 0 {
		return
	}

	b.observer.BatchFlushed(trigger, size)

	err := b.tx.Transmit(b.runCtx, batch)
	if err == nil {
		b.log.WithFields(logrus.Fields{
			"trigger": trigger,
			"events":  size,
		}).Debug("Flushed stats batch")

		return
	}

	if errors.Is(err, ErrTransportUnavailable) {
		b.log.WithField("events", size).Warn("Cannot send stats, transport unavailable")
		b.observer.BatchDropped("transport_unavailable")

		return
	}

	b.log.WithError(err).WithField("events", size).Warn("Dropping stats batch")
	b.observer.BatchDropped("transmit_error")
}

type nopObserver struct{}

func (nopObserver) EventLogged(string)       {}
func (nopObserver) BatchFlushed(string, int) {}
func (nopObserver) BatchDropped(string)      {}
