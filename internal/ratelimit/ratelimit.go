// Package ratelimit implements the gateway's five independently selectable
// rate-limiting algorithms behind one interface: fixed window, sliding log,
// sliding counter, token bucket, and leaky bucket. None share state; each
// keeps its own per-client-key map guarded by its own locking discipline.
package ratelimit

import (
	"sync/atomic"

	"github.com/mir00r/gateway/internal/clock"
)

// Decision is the outcome of one Consume call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int // seconds, present (>=1) iff Allowed is false
}

// Limiter is the contract every algorithm implements. Consume must be safe
// for concurrent use and must never block on I/O.
type Limiter interface {
	// Name is the algorithm's registry key, e.g. "token_bucket".
	Name() string
	// Consume evaluates one request against a client key's state.
	Consume(key string) Decision
	// Reset discards all per-key state, returning the limiter to its
	// initial admit capacity. Registry.ResetAll calls it on every
	// algorithm.
	Reset()
}

// Registry holds one instance of every algorithm plus the atomically
// swappable "active" reference, mirroring the teacher's AlgorithmFactory
// pattern generalized across both algorithm families.
type Registry struct {
	limiters map[string]Limiter
	active   atomic.Pointer[activeRef]
}

type activeRef struct {
	name    string
	limiter Limiter
}

// NewRegistry builds a registry pre-populated with all five algorithms
// constructed from cfg, with activeName as the initially active limiter.
func NewRegistry(cfg Config, activeName string, c clock.Clock) (*Registry, error) {
	if c == nil {
		c = clock.Real{}
	}
	limiters := map[string]Limiter{
		"fixed_window":    newFixedWindow(cfg.FixedWindow, c),
		"sliding_log":     newSlidingLog(cfg.SlidingLog, c),
		"sliding_counter": newSlidingCounter(cfg.SlidingCounter, c),
		"token_bucket":    newTokenBucket(cfg.TokenBucket, c),
		"leaky_bucket":    newLeakyBucket(cfg.LeakyBucket, c),
	}
	r := &Registry{limiters: limiters}
	if err := r.SetActive(activeName); err != nil {
		return nil, err
	}
	return r, nil
}

// Names returns every registered algorithm name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.limiters))
	for n := range r.limiters {
		names = append(names, n)
	}
	return names
}

// Get returns a specific algorithm instance by name, for control-surface
// introspection that bypasses the active selector.
func (r *Registry) Get(name string) (Limiter, bool) {
	l, ok := r.limiters[name]
	return l, ok
}

// SetActive atomically swaps the active limiter. Returns an error if name
// is unregistered; never leaves the active reference in a half-updated
// state, satisfying the "changing them is atomic with respect to in-flight
// selection" invariant.
func (r *Registry) SetActive(name string) error {
	l, ok := r.limiters[name]
	if !ok {
		return errUnknownAlgorithm(name)
	}
	r.active.Store(&activeRef{name: name, limiter: l})
	return nil
}

// Active returns the currently active limiter and its name.
func (r *Registry) Active() (Limiter, string) {
	ref := r.active.Load()
	return ref.limiter, ref.name
}

// ResetAll clears per-key state in every registered algorithm.
func (r *Registry) ResetAll() {
	for _, l := range r.limiters {
		l.Reset()
	}
}

type unknownAlgorithmError string

func (e unknownAlgorithmError) Error() string {
	return "unknown rate limiter algorithm: " + string(e)
}

func errUnknownAlgorithm(name string) error {
	return unknownAlgorithmError(name)
}
