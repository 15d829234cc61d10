// Package health tracks the service's startup/liveness/readiness
// state from backing-store probes and registry load completion.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the process-wide health state.
type State string

// States. There is no terminal state: the probe loop re-evaluates on
// every cycle instead of latching.
const (
	StateStarting  State = "starting"
	StateReady     State = "ready"
	StateNotReady  State = "live-but-not-ready"
	StateUnhealthy State = "unhealthy"
)

// Prober probes backing-store connectivity.
type Prober interface {
	Ping(ctx context.Context) error
}

// Status is a point-in-time snapshot for the health endpoints.
type Status struct {
	State           State  `json:"status"`
	Live            bool   `json:"live"`
	Ready           bool   `json:"ready"`
	StartupComplete bool   `json:"startup_complete"`
	Store           string `json:"store"`
	RegistryLoaded  bool   `json:"registry_loaded"`
}

// Checker runs the probe loop and answers health queries. State is
// written only by the loop; all request handlers read snapshots.
type Checker struct {
	prober   Prober
	reload   func(ctx context.Context) error // retried until the registry loads
	interval time.Duration
	logger   *zap.Logger

	mu             sync.RWMutex
	state          State
	storeErr       string
	registryLoaded bool
	startupDone    bool
}

// New creates a Checker. reload is invoked on probe cycles until it
// succeeds once; pass nil if the registry is already loaded.
func New(prober Prober, reload func(ctx context.Context) error, interval time.Duration, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		prober:   prober,
		reload:   reload,
		interval: interval,
		logger:   logger,
		state:    StateStarting,
	}
}

// MarkRegistryLoaded records that the policy registry loaded
// successfully outside the probe loop.
func (c *Checker) MarkRegistryLoaded() {
	c.mu.Lock()
	c.registryLoaded = true
	c.mu.Unlock()
}

// Run probes immediately and then on every interval until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.cycle(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cycle(ctx)
		}
	}
}

func (c *Checker) cycle(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()
	probeErr := c.prober.Ping(probeCtx)

	c.mu.RLock()
	loaded := c.registryLoaded
	c.mu.RUnlock()

	if probeErr == nil && !loaded && c.reload != nil {
		if err := c.reload(probeCtx); err != nil {
			c.logger.Warn("registry load failed, will retry", zap.Error(err))
		} else {
			loaded = true
			c.logger.Info("policy registry loaded")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.registryLoaded = loaded

	prev := c.state
	switch {
	case probeErr != nil:
		c.state = StateUnhealthy
		c.storeErr = probeErr.Error()
	case !loaded:
		c.state = StateNotReady
		c.storeErr = ""
	default:
		c.state = StateReady
		c.storeErr = ""
		c.startupDone = true
	}
	if c.state != prev {
		c.logger.Info("health state changed",
			zap.String("from", string(prev)), zap.String("to", string(c.state)))
	}
}

// Snapshot returns the current status.
func (c *Checker) Snapshot() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	store := "ok"
	if c.storeErr != "" {
		store = c.storeErr
	}
	return Status{
		State:           c.state,
		Live:            c.state != StateUnhealthy,
		Ready:           c.state == StateReady,
		StartupComplete: c.startupDone,
		Store:           store,
		RegistryLoaded:  c.registryLoaded,
	}
}
