package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/mir00r/gateway/internal/clock"
)

// fixedWindowState is the per-key state for the fixed-window algorithm: a
// counter for the current window and that window's expiry.
type fixedWindowState struct {
	windowIndex int64
	count       int
	expiry      time.Time
}

// fixedWindow implements the fixed-window algorithm described in
// spec.md §4.1. It preserves the documented boundary-burst weakness:
// a client can issue up to maxRequests right before a window boundary and
// another maxRequests right after, because admission only ever looks at
// the single window the current instant falls into.
type fixedWindow struct {
	cfg   FixedWindowConfig
	clock clock.Clock

	mu    sync.Mutex
	state map[string]*fixedWindowState
}

func newFixedWindow(cfg FixedWindowConfig, c clock.Clock) *fixedWindow {
	return &fixedWindow{cfg: cfg, clock: c, state: make(map[string]*fixedWindowState)}
}

func (f *fixedWindow) Name() string { return "fixed_window" }

func (f *fixedWindow) Consume(key string) Decision {
	now := f.clock.Now()
	w := f.cfg.Window
	index := now.UnixNano() / int64(w)

	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.state[key]
	if !ok || s.windowIndex != index {
		expiry := time.Unix(0, (index+1)*int64(w))
		s = &fixedWindowState{windowIndex: index, count: 0, expiry: expiry}
		f.state[key] = s
	}

	s.count++
	if s.count > f.cfg.MaxRequests {
		retryAfter := int(math.Ceil(s.expiry.Sub(now).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Decision{Allowed: false, Limit: f.cfg.MaxRequests, Remaining: 0, RetryAfter: retryAfter}
	}

	remaining := f.cfg.MaxRequests - s.count
	return Decision{Allowed: true, Limit: f.cfg.MaxRequests, Remaining: remaining}
}

func (f *fixedWindow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = make(map[string]*fixedWindowState)
}
