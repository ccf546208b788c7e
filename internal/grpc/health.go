package grpc

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"mindcare-realtime/internal/observability"
)

// ServiceName is the health service name reported alongside the overall "" entry.
const ServiceName = "mindcare.realtime"

// HealthServer serves grpc.health.v1.Health for orchestrators and load balancers.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	log    *zap.Logger
}

func NewHealthServer(log *zap.Logger) *HealthServer {
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	h := &HealthServer{server: server, health: hs, log: log}
	h.SetServing(false)
	return h
}

// SetServing flips both the overall and the service status.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// Watch runs check every interval and reports its outcome until ctx ends.
func (h *HealthServer) Watch(ctx context.Context, interval time.Duration, check func(context.Context) error) {
	probe := func() {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		err := check(checkCtx)
		if err != nil {
			h.log.Warn("readiness check failed", zap.Error(err))
		}
		h.SetServing(err == nil)
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
	return h.server.Serve(lis)
}

// Stop marks the service down and drains in-flight calls.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
