package stages

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/gateway/internal/breaker"
	"github.com/mir00r/gateway/internal/clock"
	"github.com/mir00r/gateway/internal/domain"
	"github.com/mir00r/gateway/internal/loadbalancer"
	"github.com/mir00r/gateway/internal/metrics"
	"github.com/mir00r/gateway/internal/middleware"
	"github.com/mir00r/gateway/internal/ratelimit"
	"github.com/mir00r/gateway/internal/registry"
	"github.com/mir00r/gateway/pkg/logger"
)

func pipelineTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	return log
}

// backendFromServer builds a registry backend pointed at an
// httptest.Server, since domain.Backend derives its upstream URL from
// Host/Port rather than storing one directly.
func backendFromServer(t *testing.T, name string, srv *httptest.Server) *domain.Backend {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return domain.NewBackend(name, u.Hostname(), port, 1)
}

type testGateway struct {
	chain    *middleware.Chain
	reg      *registry.Registry
	breakers *breaker.Manager
	metrics  *metrics.Metrics
}

func newTestGateway(t *testing.T, backends []*domain.Backend, rlCfg ratelimit.Config, rlActive string) *testGateway {
	t.Helper()
	log := pipelineTestLogger(t)

	reg := registry.New()
	for _, b := range backends {
		reg.Add(b)
	}

	fc := clock.NewFake(time.Unix(0, 0))
	limiters, err := ratelimit.NewRegistry(rlCfg, rlActive, fc)
	require.NoError(t, err)

	balancers, err := loadbalancer.NewRegistry(reg, 150, "round_robin")
	require.NoError(t, err)

	breakerCfg := breaker.Config{FailureThreshold: 2, ResetTimeout: time.Minute, MonitorWindow: time.Minute, HalfOpenMax: 1}
	breakers := breaker.NewManager(reg.All(), breakerCfg, fc)
	reg.NotifyAll()

	m := metrics.New()
	chain := middleware.NewChain(
		NewLogger(log),
		NewCORS(),
		NewRateLimit(limiters, m, log),
		NewSelect(reg, balancers, breakers, m, log),
		NewProxy(time.Second, m, log),
	)

	return &testGateway{chain: chain, reg: reg, breakers: breakers, metrics: m}
}

func permissiveRateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		FixedWindow: ratelimit.FixedWindowConfig{MaxRequests: 1000, Window: time.Minute},
	}
}

func TestPipeline_HealthyBackendServesSuccessfully(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	gw := newTestGateway(t, []*domain.Backend{backendFromServer(t, "only", upstream)}, permissiveRateLimitConfig(), "fixed_window")

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	w := httptest.NewRecorder()
	gw.chain.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "only", w.Header().Get("x-backend"))
	assert.Equal(t, "CLOSED", w.Header().Get("x-circuit-state"))
}

func TestPipeline_CORSPreflightShortCircuits(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must never reach the upstream backend")
	}))
	defer upstream.Close()

	gw := newTestGateway(t, []*domain.Backend{backendFromServer(t, "only", upstream)}, permissiveRateLimitConfig(), "fixed_window")

	req := httptest.NewRequest(http.MethodOptions, "/anything", nil)
	w := httptest.NewRecorder()
	gw.chain.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPipeline_RateLimitDenialReturns429(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	tightCfg := ratelimit.Config{FixedWindow: ratelimit.FixedWindowConfig{MaxRequests: 1, Window: time.Minute}}
	gw := newTestGateway(t, []*domain.Backend{backendFromServer(t, "only", upstream)}, tightCfg, "fixed_window")

	req1 := httptest.NewRequest(http.MethodGet, "/x", nil)
	req1.RemoteAddr = "10.0.0.5:1234"
	w1 := httptest.NewRecorder()
	gw.chain.ServeHTTP(w1, req1)
	require.Equal(t, http.StatusOK, w1.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/x", nil)
	req2.RemoteAddr = "10.0.0.5:5678"
	w2 := httptest.NewRecorder()
	gw.chain.ServeHTTP(w2, req2)

	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.NotEmpty(t, w2.Header().Get("Retry-After"))
}

func TestPipeline_FailingBackendOpensBreakerThenRejectsAllBackendsOpen(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	gw := newTestGateway(t, []*domain.Backend{backendFromServer(t, "only", upstream)}, permissiveRateLimitConfig(), "fixed_window")

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		w := httptest.NewRecorder()
		gw.chain.ServeHTTP(w, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	}

	brk, err := gw.breakers.For("only")
	require.NoError(t, err)
	assert.Equal(t, breaker.Open, brk.State(), "two consecutive 5xx responses must cross FailureThreshold=2")

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	gw.chain.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "the only backend's breaker is open, so selection must exhaust its candidates")
}

func TestPipeline_UnhealthyBackendIsNeverSelected(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	b := backendFromServer(t, "only", upstream)
	b.SetHealthy(false)

	gw := newTestGateway(t, []*domain.Backend{b}, permissiveRateLimitConfig(), "fixed_window")

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	gw.chain.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "round-robin must never hand back a backend the registry marks unhealthy")
}

func TestPipeline_DiagnosticHeadersArePresentOnSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	gw := newTestGateway(t, []*domain.Backend{backendFromServer(t, "only", upstream)}, permissiveRateLimitConfig(), "fixed_window")

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	gw.chain.ServeHTTP(w, req)

	assert.Equal(t, GatewayVersion, w.Header().Get("x-gateway"))
	assert.Equal(t, "only", w.Header().Get("x-backend"))
	assert.NotEmpty(t, w.Header().Get("x-backend-port"))
	assert.NotEmpty(t, w.Header().Get("x-response-time"))
	assert.Equal(t, "round_robin", w.Header().Get("x-lb-algorithm"))
}
