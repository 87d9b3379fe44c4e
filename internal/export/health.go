package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Enabled starts the metrics server.
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`

	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr" envconfig:"ADDR"`
}

// HealthMetrics exposes Prometheus metrics for the reporter.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Backend
	EventsLogged   *prometheus.CounterVec // type
	BatchesFlushed *prometheus.CounterVec // trigger
	BatchesDropped *prometheus.CounterVec // reason
	BatchSize      prometheus.Histogram
	BackendsActive prometheus.Gauge

	// HTTP export
	BatchesSent    prometheus.Counter
	ExportErrors   *prometheus.CounterVec // error_type
	ExportDuration prometheus.Histogram

	// Relay
	RelayCommands    *prometheus.CounterVec // command
	RelayParseErrors prometheus.Counter
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		EventsLogged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reporter",
				Name:      "events_logged_total",
				Help:      "Total stats accepted by backends by event type.",
			},
			[]string{"type"},
		),
		BatchesFlushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reporter",
				Name:      "batches_flushed_total",
				Help:      "Total non-empty batches flushed by trigger.",
			},
			[]string{"trigger"},
		),
		BatchesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reporter",
				Name:      "batches_dropped_total",
				Help:      "Total flushed batches that could not be handed to the transport.",
			},
			[]string{"reason"},
		),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reporter",
			Name:      "batch_size",
			Help:      "Number of events per flushed batch.",
			Buckets:   []float64{1, 2, 5, 10, 15, 20, 21, 50},
		}),
		BackendsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reporter",
			Name:      "backends_active",
			Help:      "Number of running stats backends.",
		}),
		BatchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reporter",
			Name:      "batches_sent_total",
			Help:      "Total batches accepted by the collector.",
		}),
		ExportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reporter",
				Name:      "export_errors_total",
				Help:      "Total failed collector requests by error type.",
			},
			[]string{"error_type"},
		),
		ExportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reporter",
			Name:      "export_duration_seconds",
			Help:      "Collector request duration.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 5}, // 10ms-5s
		}),
		RelayCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reporter",
				Name:      "relay_commands_total",
				Help:      "Total relay commands applied by command.",
			},
			[]string{"command"},
		),
		RelayParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reporter",
			Name:      "relay_parse_errors_total",
			Help:      "Total relay input lines that could not be parsed.",
		}),
	}

	reg.MustRegister(
		h.EventsLogged,
		h.BatchesFlushed,
		h.BatchesDropped,
		h.BatchSize,
		h.BackendsActive,
		h.BatchesSent,
		h.ExportErrors,
		h.ExportDuration,
		h.RelayCommands,
		h.RelayParseErrors,
	)

	return h
}

// EventLogged counts a stat accepted by a backend.
func (h *HealthMetrics) EventLogged(kind string) {
	h.EventsLogged.WithLabelValues(kind).Inc()
}

// BatchFlushed records a flushed batch.
func (h *HealthMetrics) BatchFlushed(trigger string, size int) {
	h.BatchesFlushed.WithLabelValues(trigger).Inc()
	h.BatchSize.Observe(float64(size))
}

// BatchDropped counts a batch lost before it reached the network.
func (h *HealthMetrics) BatchDropped(reason string) {
	h.BatchesDropped.WithLabelValues(reason).Inc()
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
