// Package breaker implements the per-backend circuit breaker: a
// CLOSED/OPEN/HALF_OPEN state machine driven by a sliding log of recent
// failure timestamps, rather than the teacher's unconditional counter, so
// that failures outside the monitor window stop counting against the
// backend.
package breaker

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mir00r/gateway/internal/clock"
)

// State is one of CLOSED, OPEN, HALF_OPEN.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the state as its name rather than its ordinal, so
// the control surface reports "OPEN" instead of 1.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Config holds one breaker's tunables, matching spec.md §3/§6 defaults.
type Config struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	MonitorWindow    time.Duration
	HalfOpenMax      int
}

// DefaultConfig returns the illustrative defaults from spec.md §6.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		ResetTimeout:     15 * time.Second,
		MonitorWindow:    10 * time.Second,
		HalfOpenMax:      1,
	}
}

// Transition records one state change for observability.
type Transition struct {
	From State
	To   State
	At   time.Time
}

const maxTransitionHistory = 10

// Breaker is one backend's circuit breaker. All four mutators
// (CanRequest, OnSuccess, OnFailure, State) are serialised by mu, per
// SPEC_FULL.md §5: different breakers are fully independent.
type Breaker struct {
	cfg   Config
	clock clock.Clock

	mu               sync.Mutex
	state            State
	failures         []time.Time
	openedAt         time.Time
	halfOpenAttempts int
	transitions      []Transition
}

// New creates a breaker in the CLOSED state.
func New(cfg Config, c clock.Clock) *Breaker {
	if c == nil {
		c = clock.Real{}
	}
	return &Breaker{cfg: cfg, clock: c, state: Closed}
}

// CanRequest reports whether a request may proceed, per the state-machine
// rules in spec.md §4.3: CLOSED always admits; OPEN admits exactly the
// single probe that triggers the OPEN->HALF_OPEN transition and rejects
// otherwise; HALF_OPEN admits up to HalfOpenMax concurrent probes.
func (b *Breaker) CanRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.clock.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.transitionLocked(HalfOpen)
			b.halfOpenAttempts = 1
			return true
		}
		return false
	case HalfOpen:
		if b.halfOpenAttempts < b.cfg.HalfOpenMax {
			b.halfOpenAttempts++
			return true
		}
		return false
	default:
		return false
	}
}

// OnSuccess records a successful call. In HALF_OPEN this closes the
// breaker and clears the failure log; in CLOSED it resets the failure
// log (a success is evidence the backend has recovered from any
// transient failures already logged).
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.failures = nil
		b.transitionLocked(Closed)
	case Closed:
		b.failures = nil
	}
}

// OnFailure records a failed call. In CLOSED it prunes the failure log to
// the monitor window, appends this failure, and opens the breaker once
// the threshold is reached; in HALF_OPEN any failure reopens immediately.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()

	switch b.state {
	case HalfOpen:
		b.failures = nil
		b.openedAt = now
		b.transitionLocked(Open)
	case Closed:
		b.failures = pruneBefore(b.failures, now.Add(-b.cfg.MonitorWindow))
		b.failures = append(b.failures, now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.openedAt = now
			b.transitionLocked(Open)
		}
	}
}

// State returns the current state, triggering the OPEN->HALF_OPEN
// transition as a side effect if resetTimeout has elapsed (matching
// spec.md §4.3's "triggered by any call to canRequest or state").
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.clock.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.transitionLocked(HalfOpen)
		b.halfOpenAttempts = 0
	}
	return b.state
}

// Stats is a point-in-time snapshot for the control surface.
type Stats struct {
	State           State
	FailureCount    int
	OpenedAt        time.Time
	Transitions     []Transition
}

// Stats returns a snapshot of the breaker's current state.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:        b.state,
		FailureCount: len(b.failures),
		OpenedAt:     b.openedAt,
		Transitions:  append([]Transition(nil), b.transitions...),
	}
}

// Reset forces the breaker back to CLOSED and clears its failure log and
// half-open attempt counter, for the control surface's
// /gateway/circuit/{name}/reset endpoint.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = nil
	b.halfOpenAttempts = 0
	b.transitionLocked(Closed)
}

// transitionLocked records a state change; caller must hold mu.
func (b *Breaker) transitionLocked(to State) {
	if to == b.state {
		return
	}
	from := b.state
	b.state = to
	b.transitions = append(b.transitions, Transition{From: from, To: to, At: b.clock.Now()})
	if len(b.transitions) > maxTransitionHistory {
		b.transitions = b.transitions[len(b.transitions)-maxTransitionHistory:]
	}
}

// pruneBefore drops leading entries older than cutoff; entries is assumed
// sorted ascending since failures are always appended.
func pruneBefore(entries []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(entries) && entries[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	return append(entries[:0], entries[i:]...)
}
