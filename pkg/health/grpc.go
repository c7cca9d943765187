package health

import (
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCServer returns a gRPC server exposing grpc.health.v1 whose serving
// status mirrors the checker. serviceName is reported alongside the empty
// (overall) service name.
func NewGRPCServer(checker *Checker, serviceName string) *grpc.Server {
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	set := func(healthy bool) {
		status := healthpb.HealthCheckResponse_SERVING
		if !healthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(serviceName, status)
	}

	set(checker.IsSystemHealthy())
	checker.OnChange(set)

	return srv
}
