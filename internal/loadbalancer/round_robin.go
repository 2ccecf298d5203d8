package loadbalancer

import (
	"sync"
	"sync/atomic"

	"github.com/mir00r/gateway/internal/domain"
)

// roundRobin implements the round-robin algorithm described in
// spec.md §4.2: a monotonic index modulo the healthy count, ignoring
// weight. Grounded on the teacher's ThreadSafeRoundRobinStrategy.
type roundRobin struct {
	counter uint64

	mu       sync.RWMutex
	backends []*domain.Backend
}

func newRoundRobin() *roundRobin {
	return &roundRobin{}
}

func (r *roundRobin) Name() string { return "round_robin" }

func (r *roundRobin) Select(string) (*domain.Backend, bool) {
	r.mu.RLock()
	healthy := healthyOf(r.backends)
	r.mu.RUnlock()

	if len(healthy) == 0 {
		return nil, false
	}
	idx := atomic.AddUint64(&r.counter, 1) - 1
	return healthy[idx%uint64(len(healthy))], true
}

func (r *roundRobin) Completed(*domain.Backend) {}

func (r *roundRobin) UpdateBackends(backends []*domain.Backend) {
	r.mu.Lock()
	r.backends = backends
	r.mu.Unlock()
}

func (r *roundRobin) Reset() {
	atomic.StoreUint64(&r.counter, 0)
}

// healthyOf filters to only backends with a true healthy flag, preserving
// order.
func healthyOf(backends []*domain.Backend) []*domain.Backend {
	out := make([]*domain.Backend, 0, len(backends))
	for _, b := range backends {
		if b.IsHealthy() {
			out = append(out, b)
		}
	}
	return out
}
