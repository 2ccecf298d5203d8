package grpchealth

import (
	"context"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mir00r/gateway/internal/domain"
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

func (s *Server) check(t *testing.T, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.healthSrv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestServer_NewReportsServingWhenABackendIsHealthy(t *testing.T) {
	reg := registry.New()
	reg.Add(domain.NewBackend("a", "127.0.0.1", 8081, 1))

	s := New(reg, testLogger(t))

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, s.check(t, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, s.check(t, "gateway"))
}

func TestServer_NewReportsNotServingWhenEveryBackendIsUnhealthy(t *testing.T) {
	reg := registry.New()
	b := domain.NewBackend("a", "127.0.0.1", 8081, 1)
	b.SetHealthy(false)
	reg.Add(b)

	s := New(reg, testLogger(t))

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.check(t, ""))
}

func TestServer_RefreshesAutomaticallyOnRegistryChange(t *testing.T) {
	reg := registry.New()
	a := domain.NewBackend("a", "127.0.0.1", 8081, 1)
	reg.Add(a)

	s := New(reg, testLogger(t))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, s.check(t, ""))

	require.NoError(t, reg.SetHealthy("a", false))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.check(t, ""),
		"the subscribed observerAdapter must call Refresh without any explicit call")

	require.NoError(t, reg.SetHealthy("a", true))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, s.check(t, ""))
}
