package api

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// AgentServiceName is the gRPC health service name reported for the agent endpoint.
const AgentServiceName = "agentchat.Agent"

// GRPCHealth serves the standard gRPC health protocol, driven by database pings.
type GRPCHealth struct {
	server   *grpc.Server
	health   *health.Server
	repo     Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGRPCHealth creates a gRPC server with the health and reflection services registered.
func NewGRPCHealth(repo Pinger, interval, timeout time.Duration, logger *slog.Logger) *GRPCHealth {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &GRPCHealth{
		server:   srv,
		health:   hs,
		repo:     repo,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Check pings the repository once and updates the reported status.
func (g *GRPCHealth) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := g.repo.Ping(ctx); err != nil {
		g.logger.Warn("gRPC health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(AgentServiceName, status)
	return status
}

// Serve checks health periodically and serves on lis until ctx is done.
func (g *GRPCHealth) Serve(ctx context.Context, lis net.Listener) error {
	g.Check(ctx)

	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.health.Shutdown()
				g.server.GracefulStop()
				return
			case <-ticker.C:
				g.Check(ctx)
			}
		}
	}()

	g.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop stops the server immediately.
func (g *GRPCHealth) Stop() {
	g.health.Shutdown()
	g.server.Stop()
}
