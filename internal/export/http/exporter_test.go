package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joguig/client-event-reporter/internal/export"
	"github.com/Joguig/client-event-reporter/internal/stats"
	"github.com/Joguig/client-event-reporter/internal/version"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

type received struct {
	method string
	path   string
	header http.Header
	body   []byte
}

// collector records every request it receives.
type collector struct {
	mu       sync.Mutex
	requests []received
	status   int
}

func newCollector(t *testing.T, status int) (*collector, *httptest.Server) {
	t.Helper()

	c := &collector{status: status}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		c.mu.Lock()
		c.requests = append(c.requests, received{
			method: r.Method,
			path:   r.URL.Path,
			header: r.Header.Clone(),
			body:   body,
		})
		c.mu.Unlock()

		w.WriteHeader(c.status)
	}))
	t.Cleanup(server.Close)

	return c, server
}

func (c *collector) all() []received {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]received(nil), c.requests...)
}

func sampleBatch() *stats.Batch {
	b := stats.NewBatch()
	b.Counters = append(b.Counters, stats.Counter{Key: "ns.key", Count: 1, SampleRate: 1})
	b.Timers = append(b.Timers, stats.Timer{Key: "ns.key", Milliseconds: 1000, SampleRate: 0.5})

	return b
}

func TestExporter_ExportItems(t *testing.T) {
	c, server := newCollector(t, http.StatusOK)

	health := export.NewHealthMetrics(testLog(), export.HealthConfig{})

	cfg := DefaultConfig()
	cfg.Headers = map[string]string{"X-Custom-Header": "test-value"}

	exporter, err := NewExporter(testLog(), cfg, server.URL, health)
	require.NoError(t, err)
	defer exporter.Shutdown(context.Background())

	assert.Equal(t, server.URL+"/v1/stats", exporter.URL())

	require.NoError(t, exporter.ExportItems(context.Background(), []*stats.Batch{sampleBatch()}))

	reqs := c.all()
	require.Len(t, reqs, 1)

	req := reqs[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, StatsPath, req.path)
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
	assert.Equal(t, "XMLHttpRequest", req.header.Get("X-Requested-With"))
	assert.Equal(t, version.UserAgent(), req.header.Get("User-Agent"))
	assert.Equal(t, "test-value", req.header.Get("X-Custom-Header"))
	assert.Empty(t, req.header.Get("Content-Encoding"))

	_, err = uuid.Parse(req.header.Get("X-Request-Id"))
	assert.NoError(t, err)

	assert.JSONEq(t, `{
		"timers": [{"key": "ns.key", "milliseconds": 1000, "sample_rate": 0.5}],
		"counters": [{"key": "ns.key", "count": 1, "sample_rate": 1}],
		"log_lines": [],
		"gauges": []
	}`, string(req.body))

	assert.Equal(t, 1.0, testutil.ToFloat64(health.BatchesSent))
}

func TestExporter_CustomHeadersCannotReplaceProtocolHeaders(t *testing.T) {
	c, server := newCollector(t, http.StatusOK)

	cfg := DefaultConfig()
	cfg.Compression = CompressionGzip
	cfg.Headers = map[string]string{
		"Content-Type":     "text/plain",
		"X-Requested-With": "curl",
		"User-Agent":       "other",
		"Content-Encoding": "identity",
		"Authorization":    "Bearer kappa",
	}

	exporter, err := NewExporter(testLog(), cfg, server.URL, nil)
	require.NoError(t, err)
	defer exporter.Shutdown(context.Background())

	require.NoError(t, exporter.ExportItems(context.Background(), []*stats.Batch{sampleBatch()}))

	reqs := c.all()
	require.Len(t, reqs, 1)

	header := reqs[0].header
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, "XMLHttpRequest", header.Get("X-Requested-With"))
	assert.Equal(t, version.UserAgent(), header.Get("User-Agent"))
	assert.Equal(t, "gzip", header.Get("Content-Encoding"))
	assert.Equal(t, "Bearer kappa", header.Get("Authorization"))
}

func TestExporter_OneRequestPerBatch(t *testing.T) {
	c, server := newCollector(t, http.StatusOK)

	exporter, err := NewExporter(testLog(), DefaultConfig(), server.URL+"/", nil)
	require.NoError(t, err)
	defer exporter.Shutdown(context.Background())

	require.NoError(t, exporter.ExportItems(context.Background(), []*stats.Batch{
		sampleBatch(), sampleBatch(),
	}))

	reqs := c.all()
	require.Len(t, reqs, 2)
	assert.Equal(t, StatsPath, reqs[0].path)
	assert.NotEqual(t, reqs[0].header.Get("X-Request-Id"), reqs[1].header.Get("X-Request-Id"))
}

func TestExporter_Gzip(t *testing.T) {
	c, server := newCollector(t, http.StatusOK)

	cfg := DefaultConfig()
	cfg.Compression = CompressionGzip

	exporter, err := NewExporter(testLog(), cfg, server.URL, nil)
	require.NoError(t, err)
	defer exporter.Shutdown(context.Background())

	require.NoError(t, exporter.ExportItems(context.Background(), []*stats.Batch{sampleBatch()}))

	reqs := c.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gzip", reqs[0].header.Get("Content-Encoding"))

	body, err := decompressGzip(reqs[0].body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"key":"ns.key"`)
}

func TestExporter_ServerError(t *testing.T) {
	_, server := newCollector(t, http.StatusInternalServerError)

	health := export.NewHealthMetrics(testLog(), export.HealthConfig{})

	exporter, err := NewExporter(testLog(), DefaultConfig(), server.URL, health)
	require.NoError(t, err)
	defer exporter.Shutdown(context.Background())

	err = exporter.ExportItems(context.Background(), []*stats.Batch{sampleBatch()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 500")

	assert.Equal(t, 1.0, testutil.ToFloat64(health.ExportErrors.WithLabelValues("status_500")))
	assert.Equal(t, 0.0, testutil.ToFloat64(health.BatchesSent))
}

func TestExporter_EmptyBatch(t *testing.T) {
	c, server := newCollector(t, http.StatusOK)

	exporter, err := NewExporter(testLog(), DefaultConfig(), server.URL, nil)
	require.NoError(t, err)
	defer exporter.Shutdown(context.Background())

	require.NoError(t, exporter.ExportItems(context.Background(), []*stats.Batch{}))
	require.NoError(t, exporter.ExportItems(context.Background(), []*stats.Batch{nil, stats.NewBatch()}))

	assert.Empty(t, c.all())
}

func TestNewExporter_Errors(t *testing.T) {
	_, err := NewExporter(testLog(), DefaultConfig(), "", nil)
	assert.ErrorIs(t, err, stats.ErrMissingAddress)

	cfg := DefaultConfig()
	cfg.Compression = "lz4"

	_, err = NewExporter(testLog(), cfg, "http://localhost", nil)
	assert.ErrorContains(t, err, "invalid config")
}
