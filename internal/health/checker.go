// Package health implements active backend health checking: a periodic
// GET against each backend's health path, paced per backend by a token
// bucket so a slow backend cannot be hammered faster than its own
// configured interval allows, writing the healthy flag through the same
// registry.Registry.SetHealthy path the control surface uses. Adapted
// from the teacher's internal/service/health_checker.go, with the
// consecutive-failure/success counters kept local to this package
// instead of living on domain.Backend.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mir00r/gateway/internal/domain"
	"github.com/mir00r/gateway/internal/registry"
	"github.com/mir00r/gateway/pkg/logger"
)

// Config controls the active health checker. Zero values are replaced
// with spec.md §6's defaults by NewChecker.
type Config struct {
	Enabled            bool
	Path               string
	Interval           time.Duration
	Timeout            time.Duration
	HealthyThreshold   int
	UnhealthyThreshold int
}

// DefaultConfig returns the illustrative health-check defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Path:               "/health",
		Interval:           10 * time.Second,
		Timeout:            2 * time.Second,
		HealthyThreshold:   2,
		UnhealthyThreshold: 3,
	}
}

// Checker runs one active probe loop per backend.
type Checker struct {
	cfg      Config
	client   *http.Client
	registry *registry.Registry
	log      *logger.Logger

	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	limiters  map[string]*rate.Limiter
	counters  map[string]*counterState
	countersMu sync.Mutex
}

type counterState struct {
	consecutiveSuccess int
	consecutiveFailure int
}

// NewChecker constructs a health checker over the given registry.
func NewChecker(cfg Config, reg *registry.Registry, log *logger.Logger) *Checker {
	if cfg.Path == "" {
		cfg.Path = "/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.HealthyThreshold <= 0 {
		cfg.HealthyThreshold = 2
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = 3
	}
	return &Checker{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				DisableCompression:  true,
				MaxIdleConnsPerHost: 2,
			},
		},
		registry: reg,
		log:      log.HealthCheckLogger(),
		stopCh:   make(chan struct{}),
		limiters: make(map[string]*rate.Limiter),
		counters: make(map[string]*counterState),
	}
}

// Start launches one probe loop per backend currently in the registry.
// Backends added later are not auto-discovered; callers add them with
// AddBackend.
func (c *Checker) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.log.Info("health checking disabled")
		return nil
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("health checker already running")
	}
	c.running = true
	c.mu.Unlock()

	c.log.Infof("starting health checker with interval %v", c.cfg.Interval)
	for _, b := range c.registry.All() {
		c.wg.Add(1)
		go c.loop(ctx, b)
	}
	return nil
}

// AddBackend starts a probe loop for a backend added after Start.
func (c *Checker) AddBackend(ctx context.Context, b *domain.Backend) {
	if !c.cfg.Enabled {
		return
	}
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		return
	}
	c.wg.Add(1)
	go c.loop(ctx, b)
}

// Stop halts every probe loop and waits for them to exit.
func (c *Checker) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	c.log.Info("health checker stopped")
}

func (c *Checker) loop(ctx context.Context, b *domain.Backend) {
	defer c.wg.Done()

	limiter := c.limiterFor(b.Name)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	log := c.log.WithField("backend", b.Name)
	c.probe(ctx, b, limiter, log)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.probe(ctx, b, limiter, log)
		}
	}
}

func (c *Checker) limiterFor(name string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[name]; ok {
		return l
	}
	every := rate.Every(c.cfg.Interval)
	l := rate.NewLimiter(every, 1)
	c.limiters[name] = l
	return l
}

// probe runs a single check, respecting the per-backend pacing limiter
// so a backend cannot be probed faster than its configured interval even
// if several probe calls for it overlap; a probe the limiter refuses is
// dropped.
func (c *Checker) probe(ctx context.Context, b *domain.Backend, limiter *rate.Limiter, log *logger.Logger) {
	if !limiter.Allow() {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	healthURL := b.URL() + c.cfg.Path
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, healthURL, nil)
	if err != nil {
		log.WithError(err).Error("failed to build health check request")
		return
	}
	req.Header.Set("User-Agent", "gateway-healthcheck/1.0")

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		log.WithError(err).WithField("duration_ms", elapsed.Milliseconds()).Debug("health check request failed")
		c.recordFailure(b, log)
		return
	}
	defer resp.Body.Close()
	b.UpdateLastHealthCheck(time.Now())

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.recordSuccess(b, log)
		return
	}
	log.WithField("status_code", resp.StatusCode).Debug("health check returned non-2xx")
	c.recordFailure(b, log)
}

func (c *Checker) recordSuccess(b *domain.Backend, log *logger.Logger) {
	c.countersMu.Lock()
	st := c.stateForLocked(b.Name)
	st.consecutiveSuccess++
	st.consecutiveFailure = 0
	reached := st.consecutiveSuccess >= c.cfg.HealthyThreshold
	c.countersMu.Unlock()

	if reached && !b.IsHealthy() {
		if err := c.registry.SetHealthy(b.Name, true); err != nil {
			log.WithError(err).Warn("failed to mark backend healthy")
			return
		}
		log.Info("backend recovered and marked healthy")
	}
}

func (c *Checker) recordFailure(b *domain.Backend, log *logger.Logger) {
	c.countersMu.Lock()
	st := c.stateForLocked(b.Name)
	st.consecutiveFailure++
	st.consecutiveSuccess = 0
	reached := st.consecutiveFailure >= c.cfg.UnhealthyThreshold
	c.countersMu.Unlock()

	if reached && b.IsHealthy() {
		if err := c.registry.SetHealthy(b.Name, false); err != nil {
			log.WithError(err).Warn("failed to mark backend unhealthy")
			return
		}
		log.Warn("backend marked unhealthy after repeated failures")
	}
}

// stateForLocked returns the per-backend counter state. Callers must
// hold countersMu.
func (c *Checker) stateForLocked(name string) *counterState {
	st, ok := c.counters[name]
	if !ok {
		st = &counterState{}
		c.counters[name] = st
	}
	return st
}
