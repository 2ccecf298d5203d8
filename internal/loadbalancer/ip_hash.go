package loadbalancer

import (
	"sync"

	"github.com/mir00r/gateway/internal/domain"
)

// ipHash implements the IP-hash algorithm described in spec.md §4.2: a
// simple character-rolling polynomial hash of the client key, reduced
// modulo the healthy count. Stateless beyond the current backend list, so
// the same client key maps to the same backend as long as the healthy set
// is unchanged. Grounded on the teacher's ThreadSafeIPHashStrategy, which
// uses the same rolling-hash shape.
type ipHash struct {
	mu       sync.RWMutex
	backends []*domain.Backend
}

func newIPHash() *ipHash {
	return &ipHash{}
}

func (h *ipHash) Name() string { return "ip_hash" }

func (h *ipHash) Select(clientKey string) (*domain.Backend, bool) {
	h.mu.RLock()
	healthy := healthyOf(h.backends)
	h.mu.RUnlock()

	if len(healthy) == 0 {
		return nil, false
	}
	idx := rollingHash(clientKey) % uint32(len(healthy))
	return healthy[idx], true
}

func (h *ipHash) Completed(*domain.Backend) {}

func (h *ipHash) UpdateBackends(backends []*domain.Backend) {
	h.mu.Lock()
	h.backends = backends
	h.mu.Unlock()
}

func (h *ipHash) Reset() {}

// rollingHash computes the simple polynomial hash spec.md §4.2 mandates:
// h = ((h<<5) - h) + c, wrapped to 32 bits.
func rollingHash(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = (h << 5) - h + uint32(s[i])
	}
	return h
}
