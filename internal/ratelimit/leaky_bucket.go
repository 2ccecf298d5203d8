package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/mir00r/gateway/internal/clock"
)

// leakyBucketState is the per-key queue level and the last time it leaked.
type leakyBucketState struct {
	queueSize float64
	lastLeak  time.Time
}

// leakyBucket implements the leaky-bucket algorithm described in
// spec.md §4.1, grounded on the queue-level accounting idiom of
// miraj90van-sdk_rate_limiter's in-memory leaky-bucket limiter (minus its
// Redis/jitter machinery, which this gateway's in-memory-only limiters do
// not need). A fresh key starts with an empty queue, so up to Capacity
// requests are admitted at once; after that, admission follows the leak
// rate.
type leakyBucket struct {
	cfg   LeakyBucketConfig
	clock clock.Clock

	mu    sync.Mutex
	state map[string]*leakyBucketState
}

func newLeakyBucket(cfg LeakyBucketConfig, c clock.Clock) *leakyBucket {
	return &leakyBucket{cfg: cfg, clock: c, state: make(map[string]*leakyBucketState)}
}

func (l *leakyBucket) Name() string { return "leaky_bucket" }

func (l *leakyBucket) Consume(key string) Decision {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.state[key]
	if !ok {
		s = &leakyBucketState{queueSize: 0, lastLeak: now}
		l.state[key] = s
	} else {
		elapsed := now.Sub(s.lastLeak).Seconds()
		s.queueSize = math.Max(0, s.queueSize-elapsed*l.cfg.LeakRate)
		s.lastLeak = now
	}

	limit := int(l.cfg.Capacity)
	if s.queueSize >= l.cfg.Capacity {
		retryAfter := int(math.Ceil((s.queueSize - l.cfg.Capacity + 1) / l.cfg.LeakRate))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: retryAfter,
		}
	}

	s.queueSize++
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: int(math.Floor(l.cfg.Capacity - s.queueSize)),
	}
}

func (l *leakyBucket) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = make(map[string]*leakyBucketState)
}
