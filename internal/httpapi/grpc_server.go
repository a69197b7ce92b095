package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"norruva.org/internal/obs"
)

// HealthServer publishes readiness over the standard gRPC health protocol
// for both the overall server ("") and serviceName.
type HealthServer struct {
	*health.Server
	probe readinessChecker
}

func NewHealthServer(probe readinessChecker) *HealthServer {
	if probe == nil {
		probe = ReadyProbe{}
	}
	return &HealthServer{Server: health.NewServer(), probe: probe}
}

// Refresh runs the probe once and updates the serving status.
func (h *HealthServer) Refresh(ctx context.Context) error {
	err := h.probe.Check(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.SetServingStatus("", status)
	h.SetServingStatus(serviceName, status)
	obs.SetReady(err == nil)
	return err
}

// Run refreshes every interval until ctx ends, then reports NOT_SERVING.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := h.Refresh(ctx); err != nil && ctx.Err() == nil {
			obs.Warn("readiness probe failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

// NewGRPCServer returns a server with the health service registered.
func NewGRPCServer(h *HealthServer, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h.Server)
	return s
}
