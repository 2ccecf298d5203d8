// Package grpchealth exposes the gateway's backend health over the
// standard grpc.health.v1.Health service, so orchestrators (Kubernetes,
// service meshes) that probe gRPC health rather than HTTP can observe
// the gateway the same way. Narrowed from the teacher's
// internal/handler/grpc.go, which proxies arbitrary gRPC traffic to a
// selected backend - full gRPC reverse proxying is out of scope here,
// but the teacher's health.go SetServingStatus pattern and its use of
// google.golang.org/grpc/health carries over directly.
package grpchealth

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mir00r/gateway/internal/domain"
	"github.com/mir00r/gateway/internal/registry"
	"github.com/mir00r/gateway/pkg/logger"
)

// Server wraps a grpc.Server exposing the gateway's aggregate health.
// SERVING means at least one registered backend is healthy; NOT_SERVING
// means every backend is currently marked unhealthy.
type Server struct {
	grpcServer *grpc.Server
	healthSrv  *health.Server
	registry   *registry.Registry
	log        *logger.Logger
}

// New constructs the health server and subscribes it to reg, so Refresh
// runs on every registry change (Registry.SetHealthy, NotifyAll) without
// callers invoking it themselves.
func New(reg *registry.Registry, log *logger.Logger) *Server {
	healthSrv := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	s := &Server{
		grpcServer: grpcServer,
		healthSrv:  healthSrv,
		registry:   reg,
		log:        log.ControlLogger(),
	}
	reg.Subscribe(&observerAdapter{s: s})
	s.Refresh()
	return s
}

// Refresh recomputes the overall serving status from the registry's
// current healthy set.
func (s *Server) Refresh() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if len(s.registry.Healthy()) > 0 {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthSrv.SetServingStatus("", status)
	s.healthSrv.SetServingStatus("gateway", status)
}

// ListenAndServe starts the gRPC health service. Blocks until the
// listener errors or is closed.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.Infof("gRPC health service listening on %s", addr)
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

var _ registry.Observer = (*observerAdapter)(nil)

// observerAdapter lets a *Server be subscribed directly to a
// registry.Registry so Refresh runs automatically on every backend
// change, without requiring callers to wire it by hand.
type observerAdapter struct {
	s *Server
}

func (o *observerAdapter) UpdateBackends(_ []*domain.Backend) {
	o.s.Refresh()
}
