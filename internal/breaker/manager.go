package breaker

import (
	"fmt"
	"sync"

	"github.com/mir00r/gateway/internal/clock"
	"github.com/mir00r/gateway/internal/domain"
)

// Manager owns one Breaker per backend, created at startup and never
// destroyed.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewManager constructs one breaker per backend using cfg.
func NewManager(backends []*domain.Backend, cfg Config, c clock.Clock) *Manager {
	m := &Manager{breakers: make(map[string]*Breaker, len(backends))}
	for _, b := range backends {
		m.breakers[b.Name] = New(cfg, c)
	}
	return m
}

// For returns the breaker guarding the named backend.
func (m *Manager) For(backendName string) (*Breaker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[backendName]
	if !ok {
		return nil, fmt.Errorf("no circuit breaker for backend %q", backendName)
	}
	return b, nil
}

// All returns every backend name paired with its breaker's stats, for the
// /gateway/health snapshot.
func (m *Manager) All() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.Stats()
	}
	return out
}

// Reset forces the named backend's breaker back to CLOSED.
func (m *Manager) Reset(backendName string) error {
	b, err := m.For(backendName)
	if err != nil {
		return err
	}
	b.Reset()
	return nil
}
