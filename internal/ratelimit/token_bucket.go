package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/mir00r/gateway/internal/clock"
)

// tokenBucketState is the per-key bucket: a floating token count and the
// last time it was refilled.
type tokenBucketState struct {
	tokens     float64
	lastRefill time.Time
}

// tokenBucket implements the token-bucket algorithm described in
// spec.md §4.1: a fresh or long-idle key starts (or refills back to) a
// full bucket, so up to Capacity requests may pass at once before
// admission follows the refill rate.
type tokenBucket struct {
	cfg   TokenBucketConfig
	clock clock.Clock

	mu    sync.Mutex
	state map[string]*tokenBucketState
}

func newTokenBucket(cfg TokenBucketConfig, c clock.Clock) *tokenBucket {
	return &tokenBucket{cfg: cfg, clock: c, state: make(map[string]*tokenBucketState)}
}

func (t *tokenBucket) Name() string { return "token_bucket" }

func (t *tokenBucket) Consume(key string) Decision {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.state[key]
	if !ok {
		s = &tokenBucketState{tokens: t.cfg.Capacity, lastRefill: now}
		t.state[key] = s
	} else {
		elapsed := now.Sub(s.lastRefill).Seconds()
		s.tokens = math.Min(t.cfg.Capacity, s.tokens+elapsed*t.cfg.RefillRate)
		s.lastRefill = now
	}

	limit := int(t.cfg.Capacity)
	if s.tokens < 1 {
		retryAfter := int(math.Ceil((1 - s.tokens) / t.cfg.RefillRate))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: retryAfter}
	}

	s.tokens--
	return Decision{Allowed: true, Limit: limit, Remaining: int(math.Floor(s.tokens))}
}

func (t *tokenBucket) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = make(map[string]*tokenBucketState)
}
