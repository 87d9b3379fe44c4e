// Package registry maps destination names to shared stats backends.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Joguig/client-event-reporter/internal/stats"
)

// Collector base URLs.
const (
	ProductionAddr = "https://client-event-reporter.twitch.tv"
	DarklaunchAddr = "https://client-event-reporter-darklaunch.twitch.tv"
)

// Built-in destination names.
const (
	DestinationProduction  = "production"
	DestinationDarklaunch  = "darklaunch"
	DestinationStaging     = "staging"
	DestinationDevelopment = "development"
	DestinationTest        = "test"
)

var (
	// ErrUnknownDestination is returned for a destination missing from the table.
	ErrUnknownDestination = errors.New("unknown destination")
	// ErrMissingFactory is returned when a backend is needed but the
	// registry was built without a BackendFactory.
	ErrMissingFactory = errors.New("backend factory is required")
)

// DefaultDestinations returns the built-in destination table. staging,
// development and test report to darklaunch.
func DefaultDestinations() map[string]string {
	return map[string]string{
		DestinationProduction:  ProductionAddr,
		DestinationDarklaunch:  DarklaunchAddr,
		DestinationStaging:     DarklaunchAddr,
		DestinationDevelopment: DarklaunchAddr,
		DestinationTest:        DarklaunchAddr,
	}
}

// Backend is a running stats backend owned by the registry.
type Backend interface {
	stats.Recorder
	Close(ctx context.Context) error
}

// BackendFactory returns a running backend for a collector address.
type BackendFactory func(addr string) (Backend, error)

// Registry lazily creates one backend per collector address and hands out
// namespaced clients over them. Destinations that share an address share
// a backend.
type Registry struct {
	log          logrus.FieldLogger
	destinations map[string]string
	factory      BackendFactory

	mu       sync.Mutex
	backends map[string]Backend
	closed   bool
}

// New creates a Registry. A nil destinations table means
// DefaultDestinations. A nil factory makes GetClient fail with
// ErrMissingFactory.
func New(
	log logrus.FieldLogger,
	destinations map[string]string,
	factory BackendFactory,
) *Registry {
	if destinations == nil {
		destinations = DefaultDestinations()
	}

	table := make(map[string]string, len(destinations))
	for name, addr := range destinations {
		table[name] = addr
	}

	return &Registry{
		log:          log.WithField("component", "registry"),
		destinations: table,
		factory:      factory,
		backends:     make(map[string]Backend),
	}
}

// Destinations returns the known destination names, sorted.
func (r *Registry) Destinations() []string {
	names := make([]string, 0, len(r.destinations))
	for name := range r.destinations {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Address returns the collector address for destination.
func (r *Registry) Address(destination string) (string, error) {
	addr, ok := r.destinations[destination]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDestination, destination)
	}

	return addr, nil
}

// GetClient returns a new client for namespace on the shared backend for
// destination, creating the backend on first use.
func (r *Registry) GetClient(destination, namespace string) (*stats.Client, error) {
	addr, err := r.Address(destination)
	if err != nil {
		return nil, err
	}

	if namespace == "" {
		return nil, stats.ErrMissingNamespace
	}

	backend, err := r.backend(destination, addr)
	if err != nil {
		return nil, err
	}

	return stats.NewClient(backend, namespace)
}

// Backend returns the backend already created for destination, if any.
func (r *Registry) Backend(destination string) (Backend, bool) {
	addr, ok := r.destinations[destination]
	if !ok {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[addr]

	return b, ok
}

func (r *Registry) backend(destination, addr string) (Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.New("registry is closed")
	}

	if b, ok := r.backends[addr]; ok {
		return b, nil
	}

	if r.factory == nil {
		return nil, ErrMissingFactory
	}

	b, err := r.factory(addr)
	if err != nil {
		return nil, fmt.Errorf("creating backend for %s: %w", destination, err)
	}

	r.backends[addr] = b

	r.log.WithFields(logrus.Fields{
		"destination": destination,
		"addr":        addr,
	}).Info("Created stats backend")

	return b, nil
}

// Close closes every backend. Pending stats are flushed once.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	backends := r.backends
	r.backends = make(map[string]Backend)
	r.closed = true
	r.mu.Unlock()

	var errs []error

	for addr, b := range backends {
		if err := b.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing backend %s: %w", addr, err))
		}
	}

	return errors.Join(errs...)
}
