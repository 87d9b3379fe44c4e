// Package http sends flushed stats batches to the collector over HTTP.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Joguig/client-event-reporter/internal/export"
	"github.com/Joguig/client-event-reporter/internal/stats"
	"github.com/Joguig/client-event-reporter/internal/version"
)

// StatsPath is the collector endpoint batches are posted to.
const StatsPath = "/v1/stats"

// Exporter implements processor.ItemExporter by posting each batch to
// the collector as a single JSON document.
type Exporter struct {
	cfg        Config
	url        string
	client     *http.Client
	compressor *Compressor
	health     *export.HealthMetrics
	log        logrus.FieldLogger
}

// compile-time check that Exporter implements ItemExporter.
var _ processor.ItemExporter[stats.Batch] = (*Exporter)(nil)

// NewExporter creates an exporter for the collector at addr. health may
// be nil.
func NewExporter(
	log logrus.FieldLogger,
	cfg Config,
	addr string,
	health *export.HealthMetrics,
) (*Exporter, error) {
	if addr == "" {
		return nil, stats.ErrMissingAddress
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Workers * 2,
		MaxIdleConnsPerHost: cfg.Workers * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   !cfg.IsKeepAlive(),
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.ExportTimeout,
	}

	return &Exporter{
		cfg:        cfg,
		url:        strings.TrimSuffix(addr, "/") + StatsPath,
		client:     client,
		compressor: compressor,
		health:     health,
		log:        log.WithFields(logrus.Fields{"component": "http_exporter", "addr": addr}),
	}, nil
}

// URL returns the endpoint batches are posted to.
func (e *Exporter) URL() string { return e.url }

// ExportItems posts every batch as its own request. The first failure
// stops the export.
func (e *Exporter) ExportItems(ctx context.Context, items []*stats.Batch) error {
	for _, batch := range items {
		if batch == nil || batch.Len() == 0 {
			continue
		}

		if err := e.send(ctx, batch); err != nil {
			return err
		}
	}

	return nil
}

func (e *Exporter) send(ctx context.Context, batch *stats.Batch) error {
	start := time.Now()

	data, err := json.Marshal(batch)
	if err != nil {
		e.reportError("encode")

		return fmt.Errorf("encoding batch: %w", err)
	}

	compressed, err := e.compressor.Compress(data)
	if err != nil {
		e.reportError("compress")

		return fmt.Errorf("compressing data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(compressed))
	if err != nil {
		e.reportError("request")

		return fmt.Errorf("creating request: %w", err)
	}

	// Custom headers first so they cannot replace the protocol headers.
	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-Request-Id", uuid.NewString())
	req.Header.Set("User-Agent", version.UserAgent())

	if encoding := e.compressor.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.reportError("transport")

		return fmt.Errorf("sending request: %w", err)
	}

	defer resp.Body.Close()

	// Drain response body to enable connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.reportError("status_" + strconv.Itoa(resp.StatusCode))

		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if e.health != nil {
		e.health.BatchesSent.Inc()
		e.health.ExportDuration.Observe(time.Since(start).Seconds())
	}

	e.log.WithFields(logrus.Fields{
		"events":     batch.Len(),
		"bytes":      len(data),
		"compressed": len(compressed),
	}).Debug("Exported stats batch via HTTP")

	return nil
}

func (e *Exporter) reportError(errorType string) {
	if e.health != nil {
		e.health.ExportErrors.WithLabelValues(errorType).Inc()
	}
}

// Shutdown shuts down the exporter.
func (e *Exporter) Shutdown(_ context.Context) error {
	if e.compressor != nil {
		return e.compressor.Close()
	}

	return nil
}
