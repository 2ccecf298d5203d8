// Package metrics implements the gateway's in-process counters:
// totalRequests, rateLimited, circuitBroken, proxied, errors, and
// byBackend, as named in spec.md §6. Adapted from the teacher's
// internal/service/metrics.go, trimmed of per-backend latency buckets
// (not named by spec.md) and extended with the gateway-specific counters.
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Metrics holds the gateway's monotonic counters. Reset only through the
// control surface's /gateway/metrics/reset endpoint.
type Metrics struct {
	totalRequests int64
	rateLimited   int64
	circuitBroken int64
	proxied       int64
	errors        int64

	mu        sync.RWMutex
	byBackend map[string]int64
}

// New creates an empty Metrics instance.
func New() *Metrics {
	return &Metrics{byBackend: make(map[string]int64)}
}

// IncrementTotal counts one inbound request reaching the pipeline.
func (m *Metrics) IncrementTotal() {
	atomic.AddInt64(&m.totalRequests, 1)
}

// IncrementRateLimited counts one request denied by the rate-limit stage.
func (m *Metrics) IncrementRateLimited() {
	atomic.AddInt64(&m.rateLimited, 1)
}

// IncrementCircuitBroken counts one request that exhausted selection
// because every candidate breaker refused.
func (m *Metrics) IncrementCircuitBroken() {
	atomic.AddInt64(&m.circuitBroken, 1)
}

// IncrementProxied counts one request successfully forwarded upstream,
// and attributes it to the chosen backend.
func (m *Metrics) IncrementProxied(backend string) {
	atomic.AddInt64(&m.proxied, 1)
	m.mu.Lock()
	m.byBackend[backend]++
	m.mu.Unlock()
}

// IncrementErrors counts one request whose upstream call ended in a
// transport failure or timeout.
func (m *Metrics) IncrementErrors() {
	atomic.AddInt64(&m.errors, 1)
}

// Snapshot is a point-in-time read of every counter.
type Snapshot struct {
	TotalRequests int64            `json:"total_requests"`
	RateLimited   int64            `json:"rate_limited"`
	CircuitBroken int64            `json:"circuit_broken"`
	Proxied       int64            `json:"proxied"`
	Errors        int64            `json:"errors"`
	ByBackend     map[string]int64 `json:"by_backend"`
}

// Snapshot reads every counter.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byBackend := make(map[string]int64, len(m.byBackend))
	for k, v := range m.byBackend {
		byBackend[k] = v
	}
	return Snapshot{
		TotalRequests: atomic.LoadInt64(&m.totalRequests),
		RateLimited:   atomic.LoadInt64(&m.rateLimited),
		CircuitBroken: atomic.LoadInt64(&m.circuitBroken),
		Proxied:       atomic.LoadInt64(&m.proxied),
		Errors:        atomic.LoadInt64(&m.errors),
		ByBackend:     byBackend,
	}
}

// Reset zeroes every counter, for /gateway/metrics/reset.
func (m *Metrics) Reset() {
	atomic.StoreInt64(&m.totalRequests, 0)
	atomic.StoreInt64(&m.rateLimited, 0)
	atomic.StoreInt64(&m.circuitBroken, 0)
	atomic.StoreInt64(&m.proxied, 0)
	atomic.StoreInt64(&m.errors, 0)
	m.mu.Lock()
	m.byBackend = make(map[string]int64)
	m.mu.Unlock()
}

// Prometheus renders the counters as Prometheus plaintext exposition
// format, for GET /gateway/metrics.
func (m *Metrics) Prometheus() string {
	s := m.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "# TYPE gateway_total_requests counter\ngateway_total_requests %d\n", s.TotalRequests)
	fmt.Fprintf(&b, "# TYPE gateway_rate_limited counter\ngateway_rate_limited %d\n", s.RateLimited)
	fmt.Fprintf(&b, "# TYPE gateway_circuit_broken counter\ngateway_circuit_broken %d\n", s.CircuitBroken)
	fmt.Fprintf(&b, "# TYPE gateway_proxied counter\ngateway_proxied %d\n", s.Proxied)
	fmt.Fprintf(&b, "# TYPE gateway_errors counter\ngateway_errors %d\n", s.Errors)
	fmt.Fprintf(&b, "# TYPE gateway_backend_requests counter\n")
	for backend, count := range s.ByBackend {
		fmt.Fprintf(&b, "gateway_backend_requests{backend=%q} %d\n", backend, count)
	}
	return b.String()
}
