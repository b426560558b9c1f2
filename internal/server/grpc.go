package server

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lexiqai/audio-translator/internal/observability"
)

// HealthServer serves grpc.health.v1 with the same dependency checks as /ready
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	checks []observability.DependencyCheck
}

// NewHealthServer creates the gRPC health endpoint. It reports NOT_SERVING
// until the first Refresh.
func NewHealthServer(checks []observability.DependencyCheck) *HealthServer {
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{grpc: srv, health: hs, checks: checks}
}

// Refresh runs the checks once and publishes the overall status
func (h *HealthServer) Refresh(ctx context.Context) bool {
	deps, ok := observability.CheckDependencies(ctx, h.checks)

	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		logger := observability.GetLogger()
		for name, d := range deps {
			if d.Status == "unhealthy" {
				logger.Warn().Str("dependency", name).Str("message", d.Message).Msg("Dependency unhealthy")
			}
		}
	}
	h.health.SetServingStatus("", status)
	return ok
}

// Watch refreshes the status every interval until ctx is done
func (h *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		h.Refresh(checkCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Serve blocks serving lis
func (h *HealthServer) Serve(lis net.Listener) error {
	return h.grpc.Serve(lis)
}

// Stop marks the service as shutting down and drains in-flight calls
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}

// Check answers a health request in-process
func (h *HealthServer) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
