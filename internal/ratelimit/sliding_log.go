package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/mir00r/gateway/internal/clock"
)

// slidingLog implements the sliding-log algorithm described in
// spec.md §4.1, grounded on the per-client mutex + ordered timestamp slice
// idiom of miraj90van-sdk_rate_limiter's sliding-window limiter. Memory is
// O(R) per key, where R is the request count retained within the window -
// the tradeoff the algorithm makes for exact admission accounting.
type slidingLog struct {
	cfg   SlidingLogConfig
	clock clock.Clock

	mu    sync.Mutex
	log   map[string][]time.Time
}

func newSlidingLog(cfg SlidingLogConfig, c clock.Clock) *slidingLog {
	return &slidingLog{cfg: cfg, clock: c, log: make(map[string][]time.Time)}
}

func (s *slidingLog) Name() string { return "sliding_log" }

func (s *slidingLog) Consume(key string) Decision {
	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.Window)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.log[key]
	entries = dropBefore(entries, cutoff)

	if len(entries) >= s.cfg.MaxRequests {
		oldest := entries[0]
		retryAfter := int(math.Ceil(oldest.Add(s.cfg.Window).Sub(now).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		s.log[key] = entries
		return Decision{Allowed: false, Limit: s.cfg.MaxRequests, Remaining: 0, RetryAfter: retryAfter}
	}

	entries = append(entries, now)
	s.log[key] = entries
	return Decision{
		Allowed:   true,
		Limit:     s.cfg.MaxRequests,
		Remaining: s.cfg.MaxRequests - len(entries),
	}
}

// dropBefore removes leading entries older than cutoff. entries is assumed
// sorted ascending, which holds because timestamps are always appended.
func dropBefore(entries []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(entries) && entries[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	return append(entries[:0], entries[i:]...)
}

func (s *slidingLog) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = make(map[string][]time.Time)
}
