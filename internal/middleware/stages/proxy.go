package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	gwerrors "github.com/mir00r/gateway/internal/errors"
	"github.com/mir00r/gateway/internal/metrics"
	"github.com/mir00r/gateway/internal/middleware"
	"github.com/mir00r/gateway/pkg/logger"
)

// GatewayVersion is the value reported in the x-gateway diagnostic header.
const GatewayVersion = "gateway/1.0"

// Proxy is the fifth and final pipeline stage: it must find a backend and
// breaker already set by the select stage (otherwise it ends with 500),
// opens an upstream request copying method/path/query/headers while
// overwriting Host with the backend's authority, streams both bodies,
// sets the diagnostic headers spec.md §4.4 names, and maps the outcome
// to the breaker and the load balancer's completion hook. Grounded on the
// teacher's Director/ErrorHandler idiom in
// internal/handler/load_balancer.go, with the retry loop removed - upstream
// retries are an explicit spec.md non-goal.
type Proxy struct {
	client  *http.Client
	timeout time.Duration
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewProxy constructs the proxy stage with a fixed upstream timeout
// (5s per spec.md §6).
func NewProxy(timeout time.Duration, m *metrics.Metrics, log *logger.Logger) *Proxy {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Proxy{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout: timeout,
		metrics: m,
		log:     log,
	}
}

func (p *Proxy) Name() string { return "proxy" }

func (p *Proxy) Handle(ctx *middleware.Context, next middleware.Next) {
	p.metrics.IncrementTotal()

	if ctx.Backend == nil || ctx.Breaker == nil {
		p.respond(ctx, gwerrors.NewPipelineStageError("proxy", fmt.Errorf("no backend selected")))
		return
	}

	backend := ctx.Backend
	brk := ctx.Breaker
	balancer := ctx.Balancer

	completed := false
	complete := func() {
		if !completed {
			if balancer != nil {
				balancer.Completed(backend)
			}
			completed = true
		}
	}
	defer complete()

	upstreamURL := backend.URL() + ctx.Request.URL.RequestURI()
	timeoutCtx, cancel := context.WithTimeout(ctx.Request.Context(), p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, ctx.Request.Method, upstreamURL, ctx.Request.Body)
	if err != nil {
		p.respond(ctx, gwerrors.NewPipelineStageError("proxy", err))
		return
	}
	req.Header = ctx.Request.Header.Clone()
	req.Host = backend.Address()

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		complete()
		brk.OnFailure()
		p.metrics.IncrementErrors()

		var gwErr *gwerrors.LoadBalancerError
		if timeoutCtx.Err() != nil {
			gwErr = gwerrors.NewUpstreamTimeoutError(backend.Name, p.timeout)
		} else {
			gwErr = gwerrors.NewUpstreamTransportError(backend.Name, err)
		}
		p.log.PipelineLogger("proxy").WithField("backend", backend.Name).WithError(err).Warn(gwErr.Message)
		p.respond(ctx, gwErr)
		return
	}
	defer resp.Body.Close()

	backend.IncrementRequests()
	if resp.StatusCode >= 500 {
		brk.OnFailure()
	} else {
		brk.OnSuccess()
	}
	complete()
	p.metrics.IncrementProxied(backend.Name)

	h := ctx.Writer.Header()
	for k, values := range resp.Header {
		for _, v := range values {
			h.Add(k, v)
		}
	}
	h.Set("x-gateway", GatewayVersion)
	h.Set("x-backend", backend.Name)
	h.Set("x-backend-port", strconv.Itoa(backend.Port))
	h.Set("x-response-time", strconv.FormatInt(elapsed.Milliseconds(), 10)+"ms")
	if v, ok := ctx.Get("lb_algorithm"); ok {
		h.Set("x-lb-algorithm", fmt.Sprint(v))
	}
	h.Set("x-circuit-state", brk.State().String())

	ctx.Writer.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(ctx.Writer, resp.Body)
}

func (p *Proxy) respond(ctx *middleware.Context, gwErr *gwerrors.LoadBalancerError) {
	ctx.MarkResponded()
	ctx.Writer.Header().Set("Content-Type", "application/json")
	ctx.Writer.WriteHeader(gwErr.HTTPStatusCode())
	_ = json.NewEncoder(ctx.Writer).Encode(gwErr)
}
