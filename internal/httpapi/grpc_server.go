package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCServer builds a gRPC server exposing the standard health service,
// so orchestrators can probe readiness over gRPC as well as HTTP.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// SyncHealth mirrors the readiness probe into the gRPC health service until
// ctx is cancelled.
func SyncHealth(ctx context.Context, hs *health.Server, rp ReadyProbe, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			status := healthpb.HealthCheckResponse_SERVING
			if err := rp.Check(ctx); err != nil {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			hs.SetServingStatus(serviceName, status)
		}
	}
}
