package transport

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Dial returns a health client for a local server, for use by liveness
// probes.
func Dial(port int) (healthpb.HealthClient, error) {
	cc, err := grpc.NewClient(fmt.Sprintf("localhost:%d", port),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return healthpb.NewHealthClient(cc), nil
}

// ServiceName is the health service identifier probes should query.
func ServiceName() string { return serviceName }
