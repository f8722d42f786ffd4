package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HandleHealth reports the aggregate status, 503 when critical.
func (m *Monitor) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := m.CheckHealth(r.Context())

	response := map[string]string{"status": string(report.SystemStatus)}
	w.Header().Set("Content-Type", "application/json")

	if report.SystemStatus == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

// HandleDetailed reports every component.
func (m *Monitor) HandleDetailed(w http.ResponseWriter, r *http.Request) {
	report := m.CheckHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// GRPCServer serves the standard grpc.health.v1 service, refreshed from the
// monitor.
type GRPCServer struct {
	monitor  *Monitor
	port     int
	interval time.Duration
	server   *grpc.Server
	health   *grpchealth.Server
	logger   *slog.Logger
}

// NewGRPCServer creates a gRPC health server on port.
func NewGRPCServer(monitor *Monitor, port int, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = DefaultCacheTTL
	}
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCServer{
		monitor:  monitor,
		port:     port,
		interval: interval,
		server:   srv,
		health:   hs,
		logger:   slog.Default().With("component", "grpc-health"),
	}
}

// Refresh pushes the current monitor status into the health service.
func (s *GRPCServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.monitor.CheckHealth(ctx).SystemStatus == StatusCritical {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	return status
}

// Serve accepts connections on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	s.Refresh(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(lis) }()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.server.GracefulStop()
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Run listens on the configured port and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("grpc health listen: %w", err)
	}
	s.logger.Info("gRPC health server listening", "port", s.port)
	return s.Serve(ctx, lis)
}
