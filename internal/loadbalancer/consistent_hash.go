package loadbalancer

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/mir00r/gateway/internal/domain"
)

// ringEntry is one virtual node's position on the ring.
type ringEntry struct {
	position uint32
	backend  *domain.Backend
}

// consistentHash implements the consistent-hash algorithm described in
// spec.md §4.2: each healthy backend contributes V virtual nodes labelled
// "host:port:vnode<i>", placed on a ring by 32-bit FNV-1a hash and sorted
// by position; selection hashes the client key and binary-searches for
// the first entry with position >= hash, wrapping to index 0 past the
// end. This is new relative to the teacher (which has no consistent-hash
// strategy) but follows the same struct/method shape as
// internal/service/strategies.go's Thread-Safe* balancers.
type consistentHash struct {
	virtualNodes int

	mu   sync.RWMutex
	ring []ringEntry
}

func newConsistentHash(virtualNodes int) *consistentHash {
	return &consistentHash{virtualNodes: virtualNodes}
}

func (c *consistentHash) Name() string { return "consistent_hash" }

func (c *consistentHash) Select(clientKey string) (*domain.Backend, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.ring) == 0 {
		return nil, false
	}
	h := fnv1a32(clientKey)
	i := sort.Search(len(c.ring), func(i int) bool { return c.ring[i].position >= h })
	if i == len(c.ring) {
		i = 0
	}
	return c.ring[i].backend, true
}

func (c *consistentHash) Completed(*domain.Backend) {}

func (c *consistentHash) UpdateBackends(backends []*domain.Backend) {
	ring := make([]ringEntry, 0, len(backends)*c.virtualNodes)
	for _, b := range backends {
		if !b.IsHealthy() {
			continue
		}
		for i := 0; i < c.virtualNodes; i++ {
			label := fmt.Sprintf("%s:vnode%d", b.Address(), i)
			ring = append(ring, ringEntry{position: fnv1a32(label), backend: b})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].position < ring[j].position })

	c.mu.Lock()
	c.ring = ring
	c.mu.Unlock()
}

func (c *consistentHash) Reset() {}

// fnv1a32 hashes s with 32-bit FNV-1a (offset 0x811C9DC5, prime
// 0x01000193), matching hash/fnv's New32a exactly.
func fnv1a32(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
