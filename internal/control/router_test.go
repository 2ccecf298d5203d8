package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mir00r/gateway/internal/breaker"
	"github.com/mir00r/gateway/internal/clock"
	"github.com/mir00r/gateway/internal/config"
	"github.com/mir00r/gateway/internal/domain"
	"github.com/mir00r/gateway/internal/loadbalancer"
	"github.com/mir00r/gateway/internal/metrics"
	"github.com/mir00r/gateway/internal/middleware"
	"github.com/mir00r/gateway/internal/middleware/stages"
	"github.com/mir00r/gateway/internal/ratelimit"
	"github.com/mir00r/gateway/internal/registry"
	"github.com/mir00r/gateway/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stdout"})
	require.NoError(t, err)
	return log
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	cfg := config.DefaultConfig()
	log := testLogger(t)

	reg := registry.New()
	for _, bc := range cfg.Backends {
		reg.Add(domain.NewBackend(bc.Name, bc.Host, bc.Port, bc.Weight))
	}

	fc := clock.NewFake(time.Unix(0, 0))
	limiters, err := ratelimit.NewRegistry(cfg.ToRateLimitConfig(), cfg.RateLimiter.Active, fc)
	require.NoError(t, err)

	balancers, err := loadbalancer.NewRegistry(reg, cfg.LoadBalancer.VirtualNodes, cfg.LoadBalancer.Active)
	require.NoError(t, err)

	breakers := breaker.NewManager(reg.All(), cfg.ToBreakerConfig(), fc)
	reg.NotifyAll()

	m := metrics.New()
	chain := middleware.NewChain(
		stages.NewLogger(log),
		stages.NewCORS(),
		stages.NewRateLimit(limiters, m, log),
		stages.NewSelect(reg, balancers, breakers, m, log),
		stages.NewProxy(cfg.Server.UpstreamTimeout, m, log),
	)

	return New(reg, limiters, balancers, breakers, m, chain, log, cfg.Control.Path)
}

func TestRouter_Health(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/gateway/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["total_backends"])
	assert.Equal(t, float64(3), body["healthy_backends"])
}

func TestRouter_ListAndActivateRateLimiter(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/gateway/rate-limiter", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/gateway/rate-limiter/token_bucket", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	_, active := r.limiters.Active()
	assert.Equal(t, "token_bucket", active)
}

func TestRouter_ActivateUnknownRateLimiterReturnsBadRequest(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/gateway/rate-limiter/nonexistent", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_ListAndActivateLoadBalancer(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/gateway/load-balancer", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/gateway/load-balancer/least_connections", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	_, active := r.balancers.Active()
	assert.Equal(t, "least_connections", active)
}

func TestRouter_ListBackendsAndToggle(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/gateway/backend", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 3)

	req = httptest.NewRequest(http.MethodPost, "/gateway/backend/backend-a/toggle", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	b, err := r.registry.Get("backend-a")
	require.NoError(t, err)
	assert.False(t, b.IsHealthy(), "toggling a healthy backend must mark it unhealthy")
}

func TestRouter_ToggleUnknownBackendReturnsNotFound(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/gateway/backend/ghost/toggle", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_CircuitListAndReset(t *testing.T) {
	r := newTestRouter(t)

	brk, err := r.breakers.For("backend-a")
	require.NoError(t, err)
	brk.OnFailure()
	brk.OnFailure()
	brk.OnFailure()
	require.Equal(t, breaker.Open, brk.State())

	req := httptest.NewRequest(http.MethodGet, "/gateway/circuit", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/gateway/circuit/backend-a/reset", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, breaker.Closed, brk.State())
}

func TestRouter_MetricsAndReset(t *testing.T) {
	r := newTestRouter(t)
	r.metrics.IncrementTotal()

	req := httptest.NewRequest(http.MethodGet, "/gateway/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gateway_total_requests")

	req = httptest.NewRequest(http.MethodPost, "/gateway/metrics/reset", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_OpenAPIDocument(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/gateway/docs/openapi.json", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])
}
