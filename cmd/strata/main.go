package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"strata/consumer"
	"strata/internal/config"
	"strata/internal/engine"
	"strata/internal/logging"
	"strata/internal/transport"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	logging.InitFromEnv()

	path := "strata.yml"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "check" {
		path = args[0]
		args = args[1:]
	}

	spec, consumerPath, err := config.LoadEngineSpec(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if len(args) > 0 && args[0] == "check" {
		os.Exit(check(spec.HealthPort))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	consumer.Register("sarama", consumer.NewSaramaBroker)

	e, err := engine.Bootstrap(ctx, engine.Config{
		MetricsPort: spec.MetricsPort,
		HealthPort:  spec.HealthPort,
		ConsumerYml: consumerPath,
		Handle: func(m consumer.Message) error {
			_, err := fmt.Printf("%s@%d %s\n", m.TP, m.Offset, m.Value)
			return err
		},
	})
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	if err := e.Run(ctx); err != nil {
		log.Fatalf("engine: %v", err)
	}
}

// check probes the local health endpoint; exit 0 means serving.
func check(port int) int {
	cl, err := transport.Dial(port)
	if err != nil {
		log.Printf("check: %v", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := cl.Check(ctx, &healthpb.HealthCheckRequest{Service: transport.ServiceName()})
	if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
		log.Printf("check: status not serving (%v)", err)
		return 1
	}
	return 0
}
