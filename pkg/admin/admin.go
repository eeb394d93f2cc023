// Package admin exposes the standard gRPC health service next to the file
// server so supervisors can probe it without speaking the file protocol.
package admin

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the file server.
const ServiceName = "fileshare.FileServer"

const DefaultProbeTimeout = 5 * time.Second

type Server struct {
	address  string
	health   *health.Server
	server   *grpc.Server
	listener net.Listener
	logger   *zap.Logger
}

func New(address string, logger *zap.Logger) *Server {
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		address: address,
		health:  hs,
		server:  gs,
		logger:  logger,
	}
}

// Start binds the admin address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil {
			s.logger.Error("Admin server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("Admin health endpoint listening", zap.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// SetServing flips the reported status for both the named and the overall
// service.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
	s.logger.Debug("Health status changed", zap.String("status", status.String()))
}

// Stop marks every service NOT_SERVING and stops the gRPC server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// Probe queries a health endpoint and returns the reported status.
func Probe(ctx context.Context, address, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus(), nil
}
