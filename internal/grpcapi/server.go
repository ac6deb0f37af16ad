// Package grpcapi exposes the standard gRPC health protocol for the identity
// service so that orchestrators and meshes can probe it without HTTP.
package grpcapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"campusbot.org/identity/internal/obs"
)

// ServiceName is the health entry reported for the identity service. The
// empty name tracks overall server health.
const ServiceName = "campusbot.identity.v1.Auth"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer mirrors readiness of the backing stores into a grpc health
// server.
type HealthServer struct {
	health    *health.Server
	readiness readinessChecker
	timeout   time.Duration
}

// NewHealthServer creates the health wrapper. Status starts NOT_SERVING
// until the first Refresh.
func NewHealthServer(r readinessChecker) *HealthServer {
	hs := &HealthServer{
		health:    health.NewServer(),
		readiness: r,
		timeout:   2 * time.Second,
	}
	hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Register attaches the health and reflection services to srv.
func (h *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.health)
	reflection.Register(srv)
}

// Refresh runs one readiness check and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.Logger().Warn("grpc_readiness_failed", "error", err.Error())
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Watch refreshes on every tick until ctx is done, then marks the server
// as shutting down so clients drain.
func (h *HealthServer) Watch(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Second
	}
	h.Refresh(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}
