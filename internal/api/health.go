package api

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"equity-terminal/internal/events"
)

// GatewayService is the health service name that tracks the gateway session.
// The empty service name reports process liveness and is always SERVING.
const GatewayService = "gateway"

// HealthServer exposes grpc.health.v1. The gateway service is SERVING only
// while the gateway session is logged in.
type HealthServer struct {
	health *health.Server
	bus    *events.Bus
	log    *zap.Logger
}

func NewHealthServer(bus *events.Bus, logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthServer{health: health.NewServer(), bus: bus, log: logger.Named("health")}
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(GatewayService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Check answers a health probe in-process.
func (h *HealthServer) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Follow flips the gateway status on session events until ctx ends. The
// subscriptions are in place when Follow returns.
func (h *HealthServer) Follow(ctx context.Context) {
	loginCh, unsubLogin := h.bus.Subscribe(events.EventLoginResult, 8)
	downCh, unsubDown := h.bus.Subscribe(events.EventDisconnected, 8)
	go func() {
		defer unsubLogin()
		defer unsubDown()
		for {
			select {
			case <-ctx.Done():
				h.health.Shutdown()
				return
			case v := <-loginCh:
				if r, ok := v.(events.LoginResult); ok {
					h.set(r.Success)
				}
			case <-downCh:
				h.set(false)
			}
		}
	}()
}

func (h *HealthServer) set(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(GatewayService, status)
	h.log.Info("gateway health", zap.Stringer("status", status))
}

// Serve listens on addr until ctx is cancelled.
func (h *HealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, h.health)
	reflection.Register(server)

	go func() {
		<-ctx.Done()
		server.GracefulStop()
	}()
	h.log.Info("grpc health listening", zap.String("addr", addr))
	return server.Serve(lis)
}
