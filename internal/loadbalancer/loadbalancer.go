// Package loadbalancer implements the gateway's five independently
// selectable backend-selection algorithms behind one interface:
// round-robin, weighted round-robin, least-connections, IP-hash, and
// consistent-hash. Generalized from the teacher's
// ThreadSafe*Strategy family in internal/service/strategies.go.
package loadbalancer

import (
	"sync/atomic"

	"github.com/mir00r/gateway/internal/domain"
	"github.com/mir00r/gateway/internal/registry"
)

// Balancer is the contract every algorithm implements.
type Balancer interface {
	// Name is the algorithm's registry key, e.g. "consistent_hash".
	Name() string
	// Select returns a backend for the given client key (ignored by
	// algorithms that don't partition on it), or ok=false if no backend
	// is currently healthy.
	Select(clientKey string) (*domain.Backend, bool)
	// Completed is the completion hook: callers that received a backend
	// from Select must call Completed exactly once per selection,
	// regardless of outcome. Algorithms without per-selection state treat
	// this as a no-op.
	Completed(b *domain.Backend)
	// UpdateBackends is invoked whenever the registry's healthy set
	// changes; algorithms that cache derived state (weighted lists, hash
	// rings) rebuild it here.
	UpdateBackends(backends []*domain.Backend)
	// Reset discards accumulated internal state (counters, connection
	// maps) without forgetting the current backend list.
	Reset()
}

var _ registry.Observer = Balancer(nil)

// Registry holds one instance of every algorithm plus the atomically
// swappable "active" reference.
type Registry struct {
	balancers map[string]Balancer
	active    atomic.Pointer[activeRef]
}

type activeRef struct {
	name     string
	balancer Balancer
}

// NewRegistry builds a registry with all five algorithms, registers each
// as an Observer of reg so UpdateBackends fires on healthy-set changes,
// and sets activeName as the initially active balancer.
func NewRegistry(reg *registry.Registry, virtualNodes int, activeName string) (*Registry, error) {
	if virtualNodes <= 0 {
		virtualNodes = 150
	}
	balancers := map[string]Balancer{
		"round_robin":          newRoundRobin(),
		"weighted_round_robin": newWeightedRoundRobin(),
		"least_connections":    newLeastConnections(),
		"ip_hash":              newIPHash(),
		"consistent_hash":      newConsistentHash(virtualNodes),
	}
	for _, b := range balancers {
		reg.Subscribe(b)
	}

	r := &Registry{balancers: balancers}
	if err := r.SetActive(activeName); err != nil {
		return nil, err
	}
	return r, nil
}

// Names returns every registered algorithm name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.balancers))
	for n := range r.balancers {
		names = append(names, n)
	}
	return names
}

// Get returns a specific algorithm instance by name.
func (r *Registry) Get(name string) (Balancer, bool) {
	b, ok := r.balancers[name]
	return b, ok
}

// SetActive atomically swaps the active balancer.
func (r *Registry) SetActive(name string) error {
	b, ok := r.balancers[name]
	if !ok {
		return unknownAlgorithmError(name)
	}
	r.active.Store(&activeRef{name: name, balancer: b})
	return nil
}

// Active returns the currently active balancer and its name.
func (r *Registry) Active() (Balancer, string) {
	ref := r.active.Load()
	return ref.balancer, ref.name
}

type unknownAlgorithmError string

func (e unknownAlgorithmError) Error() string {
	return "unknown load balancer algorithm: " + string(e)
}
