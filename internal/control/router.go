// Package control implements the gateway's control surface: the
// operator-facing HTTP API for inspecting and steering a running
// gateway, routed with gorilla/mux the way the teacher's
// internal/handler/admin.go is, generalized from a single
// load-balancer-strategy admin API to the rate-limiter, load-balancer,
// breaker, and backend surfaces spec.md §5 names.
package control

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/mir00r/gateway/internal/breaker"
	"github.com/mir00r/gateway/internal/loadbalancer"
	"github.com/mir00r/gateway/internal/metrics"
	"github.com/mir00r/gateway/internal/middleware"
	"github.com/mir00r/gateway/internal/ratelimit"
	"github.com/mir00r/gateway/internal/registry"
	"github.com/mir00r/gateway/pkg/logger"
)

// Router builds and serves the control-surface API.
type Router struct {
	mux       *mux.Router
	registry  *registry.Registry
	limiters  *ratelimit.Registry
	balancers *loadbalancer.Registry
	breakers  *breaker.Manager
	metrics   *metrics.Metrics
	chain     *middleware.Chain
	log       *logger.Logger
	startTime time.Time
}

// New builds the control router, mounted under basePath (spec.md §6
// default "/gateway"), including the Swagger UI at {basePath}/docs/.
func New(
	reg *registry.Registry,
	limiters *ratelimit.Registry,
	balancers *loadbalancer.Registry,
	breakers *breaker.Manager,
	m *metrics.Metrics,
	chain *middleware.Chain,
	log *logger.Logger,
	basePath string,
) *Router {
	if basePath == "" {
		basePath = "/gateway"
	}
	r := &Router{
		mux:       mux.NewRouter(),
		registry:  reg,
		limiters:  limiters,
		balancers: balancers,
		breakers:  breakers,
		metrics:   m,
		chain:     chain,
		log:       log.ControlLogger(),
		startTime: time.Now(),
	}
	r.routes(basePath)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes(base string) {
	sub := r.mux.PathPrefix(base).Subrouter()

	sub.HandleFunc("/health", r.handleHealth).Methods(http.MethodGet)
	sub.HandleFunc("/metrics", r.handleMetrics).Methods(http.MethodGet)
	sub.HandleFunc("/metrics/reset", r.handleMetricsReset).Methods(http.MethodPost)

	sub.HandleFunc("/rate-limiter", r.handleListRateLimiters).Methods(http.MethodGet)
	sub.HandleFunc("/rate-limiter/{name}", r.handleActivateRateLimiter).Methods(http.MethodPost)

	sub.HandleFunc("/load-balancer", r.handleListLoadBalancers).Methods(http.MethodGet)
	sub.HandleFunc("/load-balancer/{name}", r.handleActivateLoadBalancer).Methods(http.MethodPost)

	sub.HandleFunc("/backend", r.handleListBackends).Methods(http.MethodGet)
	sub.HandleFunc("/backend/{name}/toggle", r.handleToggleBackend).Methods(http.MethodPost)

	sub.HandleFunc("/circuit", r.handleListBreakers).Methods(http.MethodGet)
	sub.HandleFunc("/circuit/{name}/reset", r.handleResetBreaker).Methods(http.MethodPost)

	sub.PathPrefix("/docs/").Handler(httpSwagger.Handler(
		httpSwagger.URL(base + "/docs/openapi.json"),
	))
	sub.HandleFunc("/docs/openapi.json", r.handleOpenAPI).Methods(http.MethodGet)
}

func (r *Router) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (r *Router) writeError(w http.ResponseWriter, status int, msg string) {
	r.writeJSON(w, status, map[string]interface{}{"error": msg})
}

// handleHealth reports the gateway's own health: uptime, pipeline stage
// order, per-backend status (with each backend's circuit state and
// active-connection count), breaker stats, and an aggregate metrics
// snapshot, per spec.md §6.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	all := r.registry.All()
	healthy := r.registry.Healthy()
	_, limiterName := r.limiters.Active()
	_, balancerName := r.balancers.Active()
	breakerStats := r.breakers.All()

	backends := make([]map[string]interface{}, 0, len(all))
	for _, b := range all {
		circuitState := "UNKNOWN"
		if st, ok := breakerStats[b.Name]; ok {
			circuitState = st.State.String()
		}
		backends = append(backends, map[string]interface{}{
			"name":         b.Name,
			"port":         b.Port,
			"weight":       b.Weight,
			"healthy":      b.IsHealthy(),
			"circuitState": circuitState,
			"count":        b.ActiveConnections(),
		})
	}

	r.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"uptime":           time.Since(r.startTime).String(),
		"total_backends":   len(all),
		"healthy_backends": len(healthy),
		"pipeline":         r.chain.StageNames(),
		"rate_limiter":     limiterName,
		"load_balancer":    balancerName,
		"backends":         backends,
		"breakers":         breakerStats,
		"metrics":          r.metrics.Snapshot(),
		"timestamp":        time.Now(),
	})
}

func (r *Router) handleMetrics(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(r.metrics.Prometheus()))
}

func (r *Router) handleMetricsReset(w http.ResponseWriter, req *http.Request) {
	r.metrics.Reset()
	r.log.Info("metrics reset via control surface")
	r.writeJSON(w, http.StatusOK, map[string]interface{}{"reset": true})
}

func (r *Router) handleListRateLimiters(w http.ResponseWriter, req *http.Request) {
	_, active := r.limiters.Active()
	r.writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":     active,
		"algorithms": r.limiters.Names(),
	})
}

func (r *Router) handleActivateRateLimiter(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	if err := r.limiters.SetActive(name); err != nil {
		r.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	r.log.WithField("algorithm", name).Info("rate limiter activated via control surface")
	r.writeJSON(w, http.StatusOK, map[string]interface{}{"active": name})
}

func (r *Router) handleListLoadBalancers(w http.ResponseWriter, req *http.Request) {
	_, active := r.balancers.Active()
	r.writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":     active,
		"algorithms": r.balancers.Names(),
	})
}

func (r *Router) handleActivateLoadBalancer(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	if err := r.balancers.SetActive(name); err != nil {
		r.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	r.log.WithField("algorithm", name).Info("load balancer activated via control surface")
	r.writeJSON(w, http.StatusOK, map[string]interface{}{"active": name})
}

func (r *Router) handleListBackends(w http.ResponseWriter, req *http.Request) {
	all := r.registry.All()
	out := make([]map[string]interface{}, 0, len(all))
	for _, b := range all {
		out = append(out, map[string]interface{}{
			"name":               b.Name,
			"address":            b.Address(),
			"weight":             b.Weight,
			"healthy":            b.IsHealthy(),
			"active_connections": b.ActiveConnections(),
			"total_requests":     b.TotalRequests(),
			"last_health_check":  b.LastHealthCheck(),
		})
	}
	r.writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleToggleBackend(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	b, err := r.registry.Get(name)
	if err != nil {
		r.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	next := !b.IsHealthy()
	if err := r.registry.SetHealthy(name, next); err != nil {
		r.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	r.log.WithField("backend", name).WithField("healthy", next).Info("backend toggled via control surface")
	r.writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "healthy": next})
}

func (r *Router) handleListBreakers(w http.ResponseWriter, req *http.Request) {
	r.writeJSON(w, http.StatusOK, r.breakers.All())
}

func (r *Router) handleResetBreaker(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	if err := r.breakers.Reset(name); err != nil {
		r.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	r.log.WithField("backend", name).Info("circuit breaker reset via control surface")
	r.writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "reset": true})
}

func (r *Router) handleOpenAPI(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(openAPIDocument))
}
