// Package health runs periodic probes against the daemon's external
// dependencies and aggregates them into a single liveness verdict for the
// admin surface.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verity-log/verity/internal/monitoring"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// ProbeFunc checks one dependency; nil means reachable.
type ProbeFunc func(ctx context.Context) error

// Dependency is a named external collaborator to probe.
type Dependency struct {
	Name  string
	Probe ProbeFunc
}

// Checker runs periodic dependency probes with threshold-based transitions:
// a dependency is reported degraded only after FailThreshold consecutive
// failures, and recovers on the first success.
type Checker struct {
	deps       []Dependency
	failCounts map[string]int
	degraded   map[string]bool
	mu         sync.Mutex
	cfg        Config
	logger     *zap.Logger
}

// New creates a new Checker.
func New(deps []Dependency, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Checker{
		deps:       deps,
		failCounts: make(map[string]int),
		degraded:   make(map[string]bool),
		cfg:        cfg,
		logger:     logger,
	}
}

// Run drives the probe loop until the context is cancelled.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every dependency once, concurrently.
func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, d := range c.deps {
		wg.Add(1)
		go func(dep Dependency) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
			err := dep.Probe(probeCtx)
			cancel()
			success := err == nil
			monitoring.RecordDependency(dep.Name, success)

			c.mu.Lock()
			if success {
				c.failCounts[dep.Name] = 0
			} else {
				c.failCounts[dep.Name]++
			}
			count := c.failCounts[dep.Name]
			wasDegraded := c.degraded[dep.Name]
			nowDegraded := count >= c.cfg.FailThreshold
			c.degraded[dep.Name] = nowDegraded
			c.mu.Unlock()

			switch {
			case wasDegraded && !nowDegraded:
				c.logger.Info("dependency recovered", zap.String("dependency", dep.Name))
			case !wasDegraded && nowDegraded:
				c.logger.Warn("dependency degraded",
					zap.String("dependency", dep.Name),
					zap.Int("fail_count", count),
				)
			case !success:
				c.logger.Warn("dependency probe failed",
					zap.String("dependency", dep.Name),
					zap.Int("fail_count", count),
					zap.Error(err),
				)
			}
		}(d)
	}
	wg.Wait()
}

// Healthy reports whether no dependency is currently degraded.
func (c *Checker) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, bad := range c.degraded {
		if bad {
			return false
		}
	}
	return true
}

// Status returns the per-dependency verdicts.
func (c *Checker) Status() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.deps))
	for _, d := range c.deps {
		if c.degraded[d.Name] {
			out[d.Name] = "degraded"
		} else {
			out[d.Name] = "healthy"
		}
	}
	return out
}
