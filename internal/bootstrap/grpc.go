package bootstrap

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthRefreshInterval = 15 * time.Second

// newGRPCServer serves grpc.health.v1 backed by the same checks as /healthz.
// The empty service name reports the overall status, each dependency is
// reported under its own name.
func newGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

func refreshHealth(ctx context.Context, hs *health.Server, checks map[string]Pinger) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	overall := healthpb.HealthCheckResponse_SERVING
	for name, p := range checks {
		status := healthpb.HealthCheckResponse_SERVING
		if err := p.Ping(ctx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
		}
		hs.SetServingStatus(name, status)
	}
	hs.SetServingStatus("", overall)
}

// watchHealth refreshes the statuses until ctx is done, then marks everything NOT_SERVING.
func watchHealth(ctx context.Context, hs *health.Server, checks map[string]Pinger, logger *logrus.Logger) {
	ticker := time.NewTicker(healthRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			logger.Debug("gRPC health marked not serving")
			return
		case <-ticker.C:
			refreshHealth(ctx, hs, checks)
		}
	}
}
