package http

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/Joguig/client-event-reporter/internal/export"
	"github.com/Joguig/client-event-reporter/internal/stats"
)

// Transmitter queues flushed batches for delivery by a pool of HTTP
// workers. Transmit never waits for the collector.
type Transmitter struct {
	log      logrus.FieldLogger
	exporter *Exporter
	proc     *processor.BatchItemProcessor[stats.Batch]
	health   *export.HealthMetrics
	running  atomic.Bool
}

var _ stats.Transmitter = (*Transmitter)(nil)

// NewTransmitter creates a Transmitter for the collector at addr. health
// may be nil.
func NewTransmitter(
	log logrus.FieldLogger,
	cfg Config,
	addr string,
	health *export.HealthMetrics,
) (*Transmitter, error) {
	cfg.ApplyDefaults()

	exporter, err := NewExporter(log, cfg, addr, health)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	proc, err := processor.NewBatchItemProcessor[stats.Batch](
		exporter,
		processorName(addr),
		log,
		processor.WithMaxQueueSize(cfg.MaxQueueSize),
		processor.WithBatchTimeout(cfg.QueueTimeout),
		processor.WithExportTimeout(cfg.ExportTimeout),
		processor.WithMaxExportBatchSize(1),
		processor.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return &Transmitter{
		log:      log.WithFields(logrus.Fields{"component": "http_transmitter", "addr": addr}),
		exporter: exporter,
		proc:     proc,
		health:   health,
	}, nil
}

// Start launches the export workers.
func (t *Transmitter) Start(ctx context.Context) {
	t.proc.Start(ctx)
	t.running.Store(true)

	t.log.WithField("url", t.exporter.URL()).Info("HTTP transmitter started")
}

// Transmit queues batch for delivery. It returns
// stats.ErrTransportUnavailable when the transmitter is not running.
func (t *Transmitter) Transmit(ctx context.Context, batch *stats.Batch) error {
	if !t.running.Load() {
		return stats.ErrTransportUnavailable
	}

	if err := t.proc.Write(ctx, []*stats.Batch{batch}); err != nil {
		return fmt.Errorf("queueing batch: %w", err)
	}

	return nil
}

// Shutdown stops accepting batches and waits for queued ones to be sent.
// A transmitter that was never started only releases its exporter.
func (t *Transmitter) Shutdown(ctx context.Context) error {
	if !t.running.Swap(false) {
		return t.exporter.Shutdown(ctx)
	}

	if err := t.proc.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down processor: %w", err)
	}

	return nil
}

// processorName derives a metrics-safe processor name from the collector
// host.
func processorName(addr string) string {
	host := addr
	if u, err := url.Parse(addr); err == nil && u.Host != "" {
		host = u.Host
	}

	return "stats_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, host)
}
