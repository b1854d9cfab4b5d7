package grpc

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-checked service reported alongside the
// server-wide "" entry.
const ServiceName = "upak.auth"

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthServer exposes grpc.health.v1 backed by dependency pings.
type HealthServer struct {
	server *gogrpc.Server
	health *health.Server
	deps   map[string]Pinger
}

// NewHealthServer builds the gRPC server. deps are probed by CheckOnce; any
// failure reports NOT_SERVING.
func NewHealthServer(deps map[string]Pinger) *HealthServer {
	server := gogrpc.NewServer(
		gogrpc.ChainUnaryInterceptor(LoggingUnaryInterceptor()),
		gogrpc.ChainStreamInterceptor(LoggingStreamInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	return &HealthServer{server: server, health: hs, deps: deps}
}

func (s *HealthServer) CheckOnce(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, dep := range s.deps {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := dep.PingContext(pingCtx)
		cancel()
		if err != nil {
			logrus.WithError(err).WithField("dependency", name).Warn("Health check failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Watch re-probes dependencies every interval until ctx is done.
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	s.CheckOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckOnce(ctx)
		}
	}
}

func (s *HealthServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
