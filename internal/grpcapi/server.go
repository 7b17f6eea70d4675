// Package grpcapi exposes the standard gRPC health service so a process
// supervisor can probe the lane.
//
// The overall service ("") is SERVING while the process runs. The
// BackendService entry follows backend reachability.
package grpcapi

import (
	"context"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// BackendService is the health service name that tracks the backend.
const BackendService = "lane.backend"

type Server struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

func NewServer(addr string, log zerolog.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(BackendService, healthpb.HealthCheckResponse_UNKNOWN)

	return &Server{
		addr:   addr,
		grpc:   gs,
		health: hs,
		log:    log.With().Str("component", "grpc").Logger(),
	}
}

// SetBackendReachable matches the service.HealthMonitor OnChange callback.
func (s *Server) SetBackendReachable(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(BackendService, st)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("grpc health listening")
	return s.grpc.Serve(lis)
}

// Shutdown reports NOT_SERVING to watchers, then stops gracefully or
// hard when ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		return ctx.Err()
	}
}
