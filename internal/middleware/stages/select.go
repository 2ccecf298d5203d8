package stages

import (
	"encoding/json"
	"net/http"

	"github.com/mir00r/gateway/internal/breaker"
	gwerrors "github.com/mir00r/gateway/internal/errors"
	"github.com/mir00r/gateway/internal/loadbalancer"
	"github.com/mir00r/gateway/internal/metrics"
	"github.com/mir00r/gateway/internal/middleware"
	"github.com/mir00r/gateway/internal/registry"
	"github.com/mir00r/gateway/pkg/logger"
)

// Select is the fourth pipeline stage: it asks the active load balancer
// for a candidate, consults that candidate's breaker, and retries up to
// len(backends) times if refused, per spec.md §4.4. It resolves the Open
// Question in spec.md §9 by tracking backends already rejected in this
// request's own loop (`tried`): every attempt calls Select, and a
// candidate already in `tried` is skipped locally and still uses up one
// attempt. A stateless balancer like IP-hash or consistent-hash that keeps
// returning the same refused backend therefore ends the loop (with 503)
// instead of spinning; other backends are not reached in that case.
// Every candidate that is not admitted is handed back through the
// balancer's Completed hook, so each Select is paired with one Completed.
type Select struct {
	registry *registry.Registry
	balancer *loadbalancer.Registry
	breakers *breaker.Manager
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewSelect constructs the select stage.
func NewSelect(reg *registry.Registry, lb *loadbalancer.Registry, brk *breaker.Manager, m *metrics.Metrics, log *logger.Logger) *Select {
	return &Select{registry: reg, balancer: lb, breakers: brk, metrics: m, log: log}
}

func (s *Select) Name() string { return "select" }

func (s *Select) Handle(ctx *middleware.Context, next middleware.Next) {
	bal, balName := s.balancer.Active()
	ctx.Set("lb_algorithm", balName)

	total := s.registry.Count()
	if total == 0 {
		total = 1
	}
	tried := make(map[string]bool, total)
	var breakerStates map[string]string

	for attempt := 0; attempt < total; attempt++ {
		candidate, ok := bal.Select(ctx.ClientKey)
		if !ok {
			break
		}
		if tried[candidate.Name] {
			bal.Completed(candidate)
			continue
		}
		tried[candidate.Name] = true

		br, err := s.breakers.For(candidate.Name)
		if err != nil {
			bal.Completed(candidate)
			continue
		}
		if !br.CanRequest() {
			bal.Completed(candidate)
			if breakerStates == nil {
				breakerStates = make(map[string]string)
			}
			breakerStates[candidate.Name] = br.State().String()
			continue
		}

		ctx.Backend = candidate
		ctx.Breaker = br
		ctx.Balancer = bal
		ctx.Set("circuit_state", br.State().String())
		next()
		return
	}

	s.metrics.IncrementCircuitBroken()
	s.log.ControlLogger().WithField("attempts", len(tried)).Warn("no backend admitted the request")

	gwErr := gwerrors.NewAllBreakersOpenError(len(tried)).WithMetadata("breakers", breakerStates)

	ctx.MarkResponded()
	ctx.Writer.Header().Set("Content-Type", "application/json")
	ctx.Writer.WriteHeader(gwErr.HTTPStatusCode())
	_ = json.NewEncoder(ctx.Writer).Encode(gwErr)
}
