package server

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer wraps grpc/health's reference implementation, exposing the
// gRPC control surface cmd/cdc-streamer listens on; the one-shot
// cmd/cdc-domain and cmd/cdc-maintenance jobs do not start one. Grounded on
// internal/app/app.go's per-service grpc.NewServer()+health-handler pattern,
// generalized from a per-mode HTTP /health endpoint to one gRPC health
// service.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
}

// NewHealthServer listens on addr and registers the standard gRPC health
// service, starting in NOT_SERVING until SetServing(true) is called.
func NewHealthServer(addr string) (*HealthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, h)

	return &HealthServer{grpcServer: grpcServer, health: h, listener: lis}, nil
}

// Serve blocks, accepting connections. Call in its own goroutine.
func (h *HealthServer) Serve() error {
	return h.grpcServer.Serve(h.listener)
}

// SetServing flips the health service's overall status, for a cmd/ process
// to call once its collaborators have finished initializing.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
}

// Close stops the gRPC server, satisfying io.Closer for ShutdownManager.
func (h *HealthServer) Close() error {
	h.grpcServer.GracefulStop()
	return nil
}
