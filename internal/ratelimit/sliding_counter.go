package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/mir00r/gateway/internal/clock"
)

// slidingCounterState holds the two aligned windows the algorithm
// interpolates between.
type slidingCounterState struct {
	currentIndex int64
	currentCount int
	prevCount    int
}

// slidingCounter implements the sliding-counter algorithm described in
// spec.md §4.1: a weighted blend of the previous window's count and the
// current window's count, approximating a true sliding window in O(1)
// space per key.
type slidingCounter struct {
	cfg   SlidingCounterConfig
	clock clock.Clock

	mu    sync.Mutex
	state map[string]*slidingCounterState
}

func newSlidingCounter(cfg SlidingCounterConfig, c clock.Clock) *slidingCounter {
	return &slidingCounter{cfg: cfg, clock: c, state: make(map[string]*slidingCounterState)}
}

func (s *slidingCounter) Name() string { return "sliding_counter" }

func (s *slidingCounter) Consume(key string) Decision {
	now := s.clock.Now()
	w := s.cfg.Window
	index := now.UnixNano() / int64(w)
	currentStart := time.Unix(0, index*int64(w))

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[key]
	if !ok {
		st = &slidingCounterState{currentIndex: index}
		s.state[key] = st
	} else {
		switch delta := index - st.currentIndex; {
		case delta == 0:
			// same window, nothing to rotate
		case delta == 1:
			st.prevCount = st.currentCount
			st.currentCount = 0
			st.currentIndex = index
		default:
			// more than one window has elapsed since the last call; both
			// windows are stale
			st.prevCount = 0
			st.currentCount = 0
			st.currentIndex = index
		}
	}

	elapsed := now.Sub(currentStart)
	prevWeight := 1 - elapsed.Seconds()/w.Seconds()
	if prevWeight < 0 {
		prevWeight = 0
	}
	estimate := int(math.Floor(float64(st.prevCount)*prevWeight)) + st.currentCount

	if estimate >= s.cfg.MaxRequests {
		retryAfter := int(math.Ceil((w - elapsed).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Decision{Allowed: false, Limit: s.cfg.MaxRequests, Remaining: 0, RetryAfter: retryAfter}
	}

	st.currentCount++
	remaining := s.cfg.MaxRequests - estimate - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: s.cfg.MaxRequests, Remaining: remaining}
}

func (s *slidingCounter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = make(map[string]*slidingCounterState)
}
