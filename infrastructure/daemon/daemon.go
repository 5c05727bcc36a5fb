// Package daemon provides the common process scaffolding shared by
// cmd/domaind and cmd/hostd: a named, versioned service with a router,
// background workers, a stop channel, and cached health state. It is the
// host-process analogue of infrastructure/service's BaseService, adapted
// from running a MarbleRun marble to running a management-domain or
// management-host process.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-network/mgmtctl/infrastructure/logging"
)

const healthCheckTimeout = 5 * time.Second

// HealthChecker is implemented by components with a cached health status,
// consulted by the standard /health and /ready handlers.
type HealthChecker interface {
	HealthStatus() string
	HealthDetails() map[string]any
}

// Pinger is satisfied by anything BaseDaemon can health-check by pinging
// (the persistence backend, a remote domain connection, ...).
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Config contains shared configuration for a domain or host daemon.
type Config struct {
	ID      string
	Name    string
	Version string

	// Dependencies polled by CheckHealth. Nil entries are skipped.
	Persistence Pinger

	Logger *logging.Logger

	// RequiredEnv lists environment variables that must be non-empty for
	// the daemon to report itself as healthy (e.g. RUNTIME_DOMAIN_ADDRESS
	// on a host daemon that forwards to a remote domain).
	RequiredEnv []string
}

// BaseDaemon wraps identity, a gorilla/mux router, worker lifecycle, and
// cached health state for a long-running mgmtctl process.
type BaseDaemon struct {
	id      string
	name    string
	version string
	router  *mux.Router

	mu      sync.RWMutex
	running bool

	stopCh   chan struct{}
	stopOnce sync.Once

	hydrate func(context.Context) error
	statsFn func() map[string]any

	workers []func(context.Context)

	persistence Pinger
	requiredEnv []string

	healthMu           sync.RWMutex
	persistenceHealthy bool
	envSatisfied       bool
	lastHealthCheck    time.Time
	startTime          time.Time

	logger *logging.Logger
}

// New constructs a BaseDaemon from shared config.
func New(cfg *Config) *BaseDaemon {
	cfgValue := Config{}
	if cfg != nil {
		cfgValue = *cfg
	}

	logger := cfgValue.Logger
	if logger == nil {
		name := cfgValue.ID
		if name == "" {
			name = "daemon"
		}
		logger = logging.NewFromEnv(name)
	}

	return &BaseDaemon{
		id:                 cfgValue.ID,
		name:               cfgValue.Name,
		version:            cfgValue.Version,
		router:             mux.NewRouter(),
		stopCh:             make(chan struct{}),
		persistence:        cfgValue.Persistence,
		requiredEnv:        cfgValue.RequiredEnv,
		persistenceHealthy: cfgValue.Persistence == nil,
		envSatisfied:       len(cfgValue.RequiredEnv) == 0,
		logger:             logger,
	}
}

// ID returns the daemon ID.
func (b *BaseDaemon) ID() string { return b.id }

// Name returns the daemon name.
func (b *BaseDaemon) Name() string { return b.name }

// Version returns the daemon version.
func (b *BaseDaemon) Version() string { return b.version }

// Router returns the HTTP router.
func (b *BaseDaemon) Router() *mux.Router { return b.router }

// Logger returns the daemon's structured logger.
func (b *BaseDaemon) Logger() *logging.Logger {
	if b == nil {
		return logging.NewFromEnv("daemon")
	}
	if b.logger != nil {
		return b.logger
	}
	name := b.id
	if name == "" {
		name = "daemon"
	}
	b.logger = logging.NewFromEnv(name)
	return b.logger
}

// WithHydrate sets an optional hydrate hook executed during Start, after the
// daemon is marked running but before background workers launch. Used to
// load the model tree from the persistence backend.
func (b *BaseDaemon) WithHydrate(fn func(context.Context) error) *BaseDaemon {
	b.hydrate = fn
	return b
}

// WithStats sets a statistics provider function for the /info endpoint.
func (b *BaseDaemon) WithStats(fn func() map[string]any) *BaseDaemon {
	b.statsFn = fn
	return b
}

// AddWorker registers a background worker started after hydrate completes.
func (b *BaseDaemon) AddWorker(fn func(context.Context)) *BaseDaemon {
	b.workers = append(b.workers, fn)
	return b
}

type tickerWorkerConfig struct {
	name           string
	runImmediately bool
}

// TickerWorkerOption configures AddTickerWorker behavior.
type TickerWorkerOption func(*tickerWorkerConfig)

// WithTickerWorkerName sets a friendly name used in error logs.
func WithTickerWorkerName(name string) TickerWorkerOption {
	return func(cfg *tickerWorkerConfig) { cfg.name = name }
}

// WithTickerWorkerImmediate causes the worker to run once immediately on
// start, before waiting for the first ticker interval.
func WithTickerWorkerImmediate() TickerWorkerOption {
	return func(cfg *tickerWorkerConfig) { cfg.runImmediately = true }
}

// AddTickerWorker registers a periodic background worker, e.g. the
// best-effort persistence flush that stores the model once per interval.
func (b *BaseDaemon) AddTickerWorker(interval time.Duration, fn func(context.Context) error, opts ...TickerWorkerOption) *BaseDaemon {
	cfg := tickerWorkerConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	worker := func(ctx context.Context) {
		logErr := func(err error) {
			if err == nil {
				return
			}
			entry := b.Logger().WithContext(ctx).WithError(err)
			if cfg.name != "" {
				entry = entry.WithField("worker", cfg.name)
			}
			entry.Warn("worker error")
		}

		if cfg.runImmediately {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			default:
			}
			if err := fn(ctx); err != nil {
				logErr(err)
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					logErr(err)
				}
			}
		}
	}
	b.workers = append(b.workers, worker)
	return b
}

// StopChan exposes the stop channel for worker goroutines.
func (b *BaseDaemon) StopChan() <-chan struct{} { return b.stopCh }

// Start marks the daemon running, runs hydrate once, then spins workers.
func (b *BaseDaemon) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	b.running = true
	b.mu.Unlock()

	b.healthMu.Lock()
	if b.startTime.IsZero() {
		b.startTime = time.Now()
	}
	b.healthMu.Unlock()

	if b.hydrate != nil {
		if err := b.hydrate(ctx); err != nil {
			return fmt.Errorf("hydrate: %w", err)
		}
	}

	for _, w := range b.workers {
		worker := w
		go worker(ctx)
	}
	return nil
}

// Stop signals workers to exit. Idempotent: calling it multiple times is
// safe due to sync.Once.
func (b *BaseDaemon) Stop() error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (b *BaseDaemon) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// WorkerCount returns the number of registered background workers.
func (b *BaseDaemon) WorkerCount() int { return len(b.workers) }

// CheckHealth refreshes cached health state by probing the persistence
// backend and required environment variables.
func (b *BaseDaemon) CheckHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	persistenceHealthy := true
	if b.persistence != nil {
		if err := b.persistence.HealthCheck(ctx); err != nil {
			persistenceHealthy = false
		}
	}

	envSatisfied := true
	for _, name := range b.requiredEnv {
		if name == "" {
			continue
		}
		if envValue := os.Getenv(name); envValue == "" {
			envSatisfied = false
			break
		}
	}

	b.healthMu.Lock()
	b.persistenceHealthy = persistenceHealthy
	b.envSatisfied = envSatisfied
	b.lastHealthCheck = time.Now()
	b.healthMu.Unlock()
}

// HealthStatus returns the aggregated health status string.
func (b *BaseDaemon) HealthStatus() string {
	b.CheckHealth()
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()
	return b.healthStatusLocked()
}

// HealthDetails returns a map describing the most recent health state.
func (b *BaseDaemon) HealthDetails() map[string]any {
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()

	details := map[string]any{
		"persistence_connected": b.persistenceHealthy,
		"env_satisfied":         len(b.requiredEnv) == 0 || b.envSatisfied,
	}

	if !b.lastHealthCheck.IsZero() {
		details["last_check"] = b.lastHealthCheck.Format(time.RFC3339)
	} else {
		details["last_check"] = ""
	}

	uptime := time.Duration(0)
	if !b.startTime.IsZero() {
		uptime = time.Since(b.startTime)
	}
	details["uptime"] = uptime.String()

	return details
}

func (b *BaseDaemon) healthStatusLocked() string {
	if b.persistence != nil && !b.persistenceHealthy {
		return "unhealthy"
	}
	if len(b.requiredEnv) > 0 && !b.envSatisfied {
		return "degraded"
	}
	return "healthy"
}

var _ HealthChecker = (*BaseDaemon)(nil)
