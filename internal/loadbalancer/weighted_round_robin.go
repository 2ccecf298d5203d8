package loadbalancer

import (
	"sync"

	"github.com/mir00r/gateway/internal/domain"
)

// weightedRoundRobin implements the weighted round-robin algorithm
// described in spec.md §4.2: an expanded list whose length equals the sum
// of weights over healthy backends, each backend appearing `weight`
// times, selected round-robin over that expanded list. Rebuilt whenever
// the backend set or healthy flags change. Grounded on the teacher's
// ThreadSafeWeightedRoundRobinStrategy.
type weightedRoundRobin struct {
	mu       sync.Mutex
	backends []*domain.Backend // full set, as supplied by UpdateBackends
	expanded []*domain.Backend // healthy backends repeated `weight` times
	index    int
}

func newWeightedRoundRobin() *weightedRoundRobin {
	return &weightedRoundRobin{}
}

func (w *weightedRoundRobin) Name() string { return "weighted_round_robin" }

func (w *weightedRoundRobin) Select(string) (*domain.Backend, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.expanded) == 0 {
		return nil, false
	}
	b := w.expanded[w.index%len(w.expanded)]
	w.index++
	return b, true
}

func (w *weightedRoundRobin) Completed(*domain.Backend) {}

func (w *weightedRoundRobin) UpdateBackends(backends []*domain.Backend) {
	expanded := make([]*domain.Backend, 0, len(backends))
	for _, b := range backends {
		if !b.IsHealthy() {
			continue
		}
		weight := b.Weight
		if weight < 1 {
			weight = 1
		}
		for i := 0; i < weight; i++ {
			expanded = append(expanded, b)
		}
	}

	w.mu.Lock()
	w.backends = backends
	w.expanded = expanded
	w.index = 0
	w.mu.Unlock()
}

func (w *weightedRoundRobin) Reset() {
	w.mu.Lock()
	w.index = 0
	w.mu.Unlock()
}
