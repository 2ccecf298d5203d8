package stages

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	gwerrors "github.com/mir00r/gateway/internal/errors"
	"github.com/mir00r/gateway/internal/metrics"
	"github.com/mir00r/gateway/internal/middleware"
	"github.com/mir00r/gateway/internal/ratelimit"
	"github.com/mir00r/gateway/pkg/logger"
)

// RateLimit is the third pipeline stage: it consults the active limiter
// with the request's client key, always sets the X-RateLimit-* headers,
// and on denial sets Retry-After and ends with 429, per spec.md §4.4.
type RateLimit struct {
	registry *ratelimit.Registry
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewRateLimit constructs the rate-limit stage.
func NewRateLimit(reg *ratelimit.Registry, m *metrics.Metrics, log *logger.Logger) *RateLimit {
	return &RateLimit{registry: reg, metrics: m, log: log}
}

func (s *RateLimit) Name() string { return "rate-limit" }

func (s *RateLimit) Handle(ctx *middleware.Context, next middleware.Next) {
	key := clientKey(ctx.Request)
	ctx.ClientKey = key

	limiter, name := s.registry.Active()
	decision := limiter.Consume(key)

	h := ctx.Writer.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	h.Set("X-RateLimit-Algorithm", name)

	ctx.Set("rate_limit_algorithm", name)
	ctx.Set("rate_limited", !decision.Allowed)

	if !decision.Allowed {
		h.Set("Retry-After", strconv.Itoa(decision.RetryAfter))
		s.metrics.IncrementRateLimited()

		s.log.RateLimiterLogger(name).WithField("client_key", key).Warn("request denied by rate limiter")

		gwErr := gwerrors.NewRateLimitError(key, decision.Limit).WithMetadata("retry_after", decision.RetryAfter)

		ctx.MarkResponded()
		ctx.Writer.Header().Set("Content-Type", "application/json")
		ctx.Writer.WriteHeader(gwErr.HTTPStatusCode())
		_ = json.NewEncoder(ctx.Writer).Encode(gwErr)
		return
	}

	next()
}

// clientKey derives the opaque partition key spec.md §3 describes:
// normally the remote IP, optionally the first X-Forwarded-For entry.
// Grounded on ksuleyman1-Canary's ExtractClientIP fallback chain.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
