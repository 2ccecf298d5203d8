// Command gateway runs the reverse-proxy API gateway: the rate-limit,
// circuit-breaker, and load-balancer pipeline in front of a fixed pool
// of backends, plus its control surface and gRPC health service.
// Wiring order follows the teacher's cmd/server/main.go: config, then
// logger, then the domain registries, then the pipeline, then the HTTP
// servers, then signal-driven graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mir00r/gateway/internal/breaker"
	"github.com/mir00r/gateway/internal/clock"
	"github.com/mir00r/gateway/internal/config"
	"github.com/mir00r/gateway/internal/control"
	"github.com/mir00r/gateway/internal/domain"
	"github.com/mir00r/gateway/internal/grpchealth"
	"github.com/mir00r/gateway/internal/health"
	"github.com/mir00r/gateway/internal/loadbalancer"
	"github.com/mir00r/gateway/internal/metrics"
	"github.com/mir00r/gateway/internal/middleware"
	"github.com/mir00r/gateway/internal/middleware/stages"
	"github.com/mir00r/gateway/internal/ratelimit"
	"github.com/mir00r/gateway/internal/registry"
	"github.com/mir00r/gateway/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("starting gateway")

	reg := registry.New()
	for _, bc := range cfg.Backends {
		reg.Add(domain.NewBackend(bc.Name, bc.Host, bc.Port, bc.Weight))
	}
	log.Infof("loaded %d backends", reg.Count())

	realClock := clock.Real{}

	limiters, err := ratelimit.NewRegistry(cfg.ToRateLimitConfig(), cfg.RateLimiter.Active, realClock)
	if err != nil {
		log.WithError(err).Fatal("failed to build rate limiter registry")
	}

	balancers, err := loadbalancer.NewRegistry(reg, cfg.LoadBalancer.VirtualNodes, cfg.LoadBalancer.Active)
	if err != nil {
		log.WithError(err).Fatal("failed to build load balancer registry")
	}

	breakers := breaker.NewManager(reg.All(), cfg.ToBreakerConfig(), realClock)
	reg.NotifyAll()

	m := metrics.New()

	chain := middleware.NewChain(
		stages.NewLogger(log),
		stages.NewCORS(),
		stages.NewRateLimit(limiters, m, log),
		stages.NewSelect(reg, balancers, breakers, m, log),
		stages.NewProxy(cfg.Server.UpstreamTimeout, m, log),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker := health.NewChecker(cfg.ToHealthConfig(), reg, log)
	if err := checker.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start health checker")
	}

	var grpcHealthSrv *grpchealth.Server
	if cfg.GRPCHealth.Enabled {
		grpcHealthSrv = grpchealth.New(reg, log)
		go func() {
			if err := grpcHealthSrv.ListenAndServe(cfg.GRPCHealth.Addr); err != nil {
				log.WithError(err).Error("gRPC health service stopped")
			}
		}()
	}

	var handler http.Handler = chain
	if cfg.Control.Enabled {
		router := control.New(reg, limiters, balancers, breakers, m, chain, log, cfg.Control.Path)
		handler = &rootHandler{basePath: cfg.Control.Path, control: router, proxy: chain}
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("gateway server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	checker.Stop()
	if grpcHealthSrv != nil {
		grpcHealthSrv.Stop(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("error shutting down gateway server")
	}

	log.Info("gateway stopped gracefully")
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("GATEWAY_CONFIG_FILE"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return config.LoadFromFile(path)
		}
	}
	return config.LoadFromEnv(), nil
}

// rootHandler dispatches the gateway's single listener between the
// control surface and the proxy pipeline, per spec.md §2: one process,
// one HTTP port, with the control endpoints mounted under basePath
// alongside the proxied traffic.
type rootHandler struct {
	basePath string
	control  http.Handler
	proxy    http.Handler
}

func (h *rootHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, h.basePath) {
		h.control.ServeHTTP(w, r)
		return
	}
	h.proxy.ServeHTTP(w, r)
}
