// Package config loads and validates the gateway's YAML configuration,
// adapted from the teacher's internal/config/config.go: the same
// DefaultConfig/LoadFromFile/LoadFromEnv/Validate shape, generalized
// from a single load-balancing strategy to the five rate-limiter and
// five load-balancer algorithm families spec.md §3 names, plus the
// circuit breaker and control-surface sections.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/mir00r/gateway/internal/breaker"
	"github.com/mir00r/gateway/internal/health"
	"github.com/mir00r/gateway/internal/ratelimit"
)

// Config is the gateway's top-level configuration document.
type Config struct {
	Server       ServerConfig        `yaml:"server"`
	Backends     []BackendConfig     `yaml:"backends"`
	RateLimiter  RateLimiterConfig   `yaml:"rate_limiter"`
	LoadBalancer LoadBalancerConfig  `yaml:"load_balancer"`
	Breaker      BreakerConfig       `yaml:"circuit_breaker"`
	HealthCheck  HealthCheckConfig   `yaml:"health_check"`
	Logging      LoggingConfig       `yaml:"logging"`
	Control      ControlConfig       `yaml:"control"`
	GRPCHealth   GRPCHealthConfig    `yaml:"grpc_health"`
}

// ServerConfig contains HTTP listener configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
}

// BackendConfig describes one upstream server.
type BackendConfig struct {
	Name   string `yaml:"name"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Weight int    `yaml:"weight"`
}

// RateLimiterConfig selects the active algorithm and carries every
// algorithm's tunables, mirroring ratelimit.Config.
type RateLimiterConfig struct {
	Active        string                       `yaml:"active"`
	FixedWindow   ratelimit.FixedWindowConfig   `yaml:"fixed_window"`
	SlidingLog    ratelimit.SlidingLogConfig    `yaml:"sliding_log"`
	SlidingCounter ratelimit.SlidingCounterConfig `yaml:"sliding_counter"`
	TokenBucket   ratelimit.TokenBucketConfig   `yaml:"token_bucket"`
	LeakyBucket   ratelimit.LeakyBucketConfig   `yaml:"leaky_bucket"`
}

// LoadBalancerConfig selects the active balancing algorithm.
type LoadBalancerConfig struct {
	Active       string `yaml:"active"`
	VirtualNodes int    `yaml:"virtual_nodes"`
}

// BreakerConfig mirrors breaker.Config for YAML decoding.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	MonitorWindow    time.Duration `yaml:"monitor_window"`
	HalfOpenMax      int           `yaml:"half_open_max"`
}

// HealthCheckConfig mirrors health.Config for YAML decoding.
type HealthCheckConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Path               string        `yaml:"path"`
	Interval           time.Duration `yaml:"interval"`
	Timeout            time.Duration `yaml:"timeout"`
	HealthyThreshold   int           `yaml:"healthy_threshold"`
	UnhealthyThreshold int           `yaml:"unhealthy_threshold"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ControlConfig contains control-surface configuration.
type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// GRPCHealthConfig contains the gRPC health service listener.
type GRPCHealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns the illustrative configuration from spec.md §6:
// three backends weighted {3,2,1}, fixed-window as the active rate
// limiter, round-robin as the active balancer, and the breaker defaults
// of 3 failures / 10s monitor window / 15s reset / 1 half-open probe.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            4000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			UpstreamTimeout: 5 * time.Second,
		},
		Backends: []BackendConfig{
			{Name: "backend-a", Host: "localhost", Port: 8081, Weight: 3},
			{Name: "backend-b", Host: "localhost", Port: 8082, Weight: 2},
			{Name: "backend-c", Host: "localhost", Port: 8083, Weight: 1},
		},
		RateLimiter: RateLimiterConfig{
			Active:         "fixed_window",
			FixedWindow:    ratelimit.FixedWindowConfig{MaxRequests: 50, Window: 60 * time.Second},
			SlidingLog:     ratelimit.SlidingLogConfig{MaxRequests: 50, Window: 60 * time.Second},
			SlidingCounter: ratelimit.SlidingCounterConfig{MaxRequests: 50, Window: 60 * time.Second},
			TokenBucket:    ratelimit.TokenBucketConfig{Capacity: 20, RefillRate: 5},
			LeakyBucket:    ratelimit.LeakyBucketConfig{Capacity: 20, LeakRate: 5},
		},
		LoadBalancer: LoadBalancerConfig{
			Active:       "round_robin",
			VirtualNodes: 150,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     15 * time.Second,
			MonitorWindow:    10 * time.Second,
			HalfOpenMax:      1,
		},
		HealthCheck: HealthCheckConfig{
			Enabled:            true,
			Path:               "/health",
			Interval:           10 * time.Second,
			Timeout:            2 * time.Second,
			HealthyThreshold:   2,
			UnhealthyThreshold: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Control: ControlConfig{
			Enabled: true,
			Port:    4001,
			Path:    "/gateway",
		},
		GRPCHealth: GRPCHealthConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// LoadFromFile loads configuration from a YAML file, layered over
// DefaultConfig so a partial file only overrides what it sets.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from defaults, overridden by a small
// set of environment variables useful for container deployment.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if lvl := os.Getenv("GATEWAY_LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if rl := os.Getenv("GATEWAY_RATE_LIMITER"); rl != "" {
		cfg.RateLimiter.Active = rl
	}
	if lb := os.Getenv("GATEWAY_LOAD_BALANCER"); lb != "" {
		cfg.LoadBalancer.Active = lb
	}

	return cfg
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream_timeout must be positive")
	}

	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend must be configured")
	}
	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend[%d]: name cannot be empty", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("backend[%d]: duplicate name %q", i, b.Name)
		}
		seen[b.Name] = true
		if b.Host == "" {
			return fmt.Errorf("backend[%d]: host cannot be empty", i)
		}
		if b.Port <= 0 || b.Port > 65535 {
			return fmt.Errorf("backend[%d]: invalid port %d", i, b.Port)
		}
		if b.Weight <= 0 {
			return fmt.Errorf("backend[%d]: weight must be positive", i)
		}
	}

	validLimiters := map[string]bool{
		"fixed_window": true, "sliding_log": true, "sliding_counter": true,
		"token_bucket": true, "leaky_bucket": true,
	}
	if !validLimiters[c.RateLimiter.Active] {
		return fmt.Errorf("unsupported rate limiter algorithm: %s", c.RateLimiter.Active)
	}

	validBalancers := map[string]bool{
		"round_robin": true, "weighted_round_robin": true, "least_connections": true,
		"ip_hash": true, "consistent_hash": true,
	}
	if !validBalancers[c.LoadBalancer.Active] {
		return fmt.Errorf("unsupported load balancer algorithm: %s", c.LoadBalancer.Active)
	}

	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	if c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("circuit_breaker.reset_timeout must be positive")
	}
	if c.Breaker.MonitorWindow <= 0 {
		return fmt.Errorf("circuit_breaker.monitor_window must be positive")
	}
	if c.Breaker.HalfOpenMax <= 0 {
		return fmt.Errorf("circuit_breaker.half_open_max must be positive")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// ToRateLimitConfig converts to ratelimit.Config.
func (c *Config) ToRateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		FixedWindow:    c.RateLimiter.FixedWindow,
		SlidingLog:     c.RateLimiter.SlidingLog,
		SlidingCounter: c.RateLimiter.SlidingCounter,
		TokenBucket:    c.RateLimiter.TokenBucket,
		LeakyBucket:    c.RateLimiter.LeakyBucket,
	}
}

// ToBreakerConfig converts to breaker.Config.
func (c *Config) ToBreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		ResetTimeout:     c.Breaker.ResetTimeout,
		MonitorWindow:    c.Breaker.MonitorWindow,
		HalfOpenMax:      c.Breaker.HalfOpenMax,
	}
}

// ToHealthConfig converts to health.Config.
func (c *Config) ToHealthConfig() health.Config {
	return health.Config{
		Enabled:            c.HealthCheck.Enabled,
		Path:               c.HealthCheck.Path,
		Interval:           c.HealthCheck.Interval,
		Timeout:            c.HealthCheck.Timeout,
		HealthyThreshold:   c.HealthCheck.HealthyThreshold,
		UnhealthyThreshold: c.HealthCheck.UnhealthyThreshold,
	}
}

// SaveToFile writes the configuration back out as YAML.
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}
	return nil
}
