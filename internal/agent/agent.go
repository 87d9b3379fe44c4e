// Package agent wires configuration, the destination registry, HTTP
// delivery and health metrics into a running reporter.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Joguig/client-event-reporter/internal/export"
	exporthttp "github.com/Joguig/client-event-reporter/internal/export/http"
	"github.com/Joguig/client-event-reporter/internal/registry"
	"github.com/Joguig/client-event-reporter/internal/stats"
)

// ErrNotStarted is returned when the agent is used before Start.
var ErrNotStarted = errors.New("agent not started")

// shutdownTimeout bounds the final flush on Stop.
const shutdownTimeout = 10 * time.Second

// Agent is the top-level orchestrator for the reporter.
type Agent interface {
	// Start starts health metrics and the configured destination's backend.
	Start(ctx context.Context) error
	// Stop flushes pending stats and shuts down all components.
	Stop() error
	// Client returns the namespaced client for the configured destination.
	Client() *stats.Client
	// Apply reports a single parsed command.
	Apply(cmd Command) error
	// Relay reads commands from r until EOF or ctx is done. If r is an
	// io.Closer it is closed once ctx is done.
	Relay(ctx context.Context, r io.Reader) error
}

type agent struct {
	log      logrus.FieldLogger
	cfg      *Config
	health   *export.HealthMetrics
	registry *registry.Registry

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	client *stats.Client
}

// New creates a new Agent.
func New(log logrus.FieldLogger, cfg *Config) (Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	a := &agent{
		log:    log.WithField("component", "agent"),
		cfg:    cfg,
		health: export.NewHealthMetrics(log, cfg.Health),
	}

	a.registry = registry.New(log, cfg.Destinations, a.newBackend)

	return a, nil
}

func (a *agent) Start(ctx context.Context) error {
	a.mu.Lock()
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	if a.cfg.Health.Enabled {
		if err := a.health.Start(ctx); err != nil {
			return fmt.Errorf("starting health metrics: %w", err)
		}
	}

	client, err := a.registry.GetClient(a.cfg.Destination, a.cfg.Namespace)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	a.mu.Lock()
	a.client = client
	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{
		"destination": a.cfg.Destination,
		"namespace":   a.cfg.Namespace,
	}).Info("Reporter started")

	return nil
}

// newBackend is the registry's BackendFactory. Each collector address
// gets its own transmitter and backend.
func (a *agent) newBackend(addr string) (registry.Backend, error) {
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()

	if ctx == nil {
		return nil, ErrNotStarted
	}

	tx, err := exporthttp.NewTransmitter(a.log, a.cfg.HTTP, addr, a.health)
	if err != nil {
		return nil, fmt.Errorf("creating transmitter: %w", err)
	}

	cfg := a.cfg.Backend
	cfg.Address = addr

	backend, err := stats.NewBackend(a.log, cfg, tx, stats.WithObserver(a.health))
	if err != nil {
		return nil, fmt.Errorf("creating backend: %w", err)
	}

	if err := backend.Start(ctx); err != nil {
		if shutdownErr := tx.Shutdown(ctx); shutdownErr != nil {
			a.log.WithError(shutdownErr).Warn("Error releasing transmitter")
		}

		return nil, fmt.Errorf("starting backend: %w", err)
	}

	// Nothing is logged to the backend before the registry hands it out.
	tx.Start(ctx)

	a.health.BackendsActive.Inc()

	return backend, nil
}

func (a *agent) Client() *stats.Client {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.client
}

func (a *agent) Apply(cmd Command) error {
	client := a.Client()
	if client == nil {
		return ErrNotStarted
	}

	if err := cmd.Apply(client); err != nil {
		return err
	}

	a.health.RelayCommands.WithLabelValues(cmd.Name).Inc()

	return nil
}

func (a *agent) Relay(ctx context.Context, r io.Reader) error {
	if a.Client() == nil {
		return ErrNotStarted
	}

	// Closing r is the only way to interrupt a blocked Read.
	if c, ok := r.(io.Closer); ok {
		stopClose := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stopClose()
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	stop := make(chan struct{})

	defer close(stop)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}

		scanErr <- scanner.Err()
	}()

	var lineNo int

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("reading relay input: %w", err)
				}

				return nil
			}

			lineNo++
			a.relayLine(lineNo, line)
		}
	}
}

func (a *agent) relayLine(lineNo int, line string) {
	cmd, err := ParseCommand(line)
	if errors.Is(err, ErrNoCommand) {
		return
	}

	if err == nil {
		err = a.Apply(cmd)
	}

	if err != nil {
		a.health.RelayParseErrors.Inc()
		a.log.WithError(err).WithField("line", lineNo).Warn("Skipping relay line")
	}
}

func (a *agent) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Backends flush before their context is cancelled.
	err := a.registry.Close(ctx)
	if err != nil {
		a.log.WithError(err).Error("Error closing stats backends")
	}

	a.health.BackendsActive.Set(0)

	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()

	if stopErr := a.health.Stop(); stopErr != nil {
		a.log.WithError(stopErr).Error("Error stopping health metrics")
	}

	return err
}
