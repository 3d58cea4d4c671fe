package consumer

import (
	"context"
	"fmt"
	"time"
)

// Broker dials authenticated transport sessions. Implementations are a thin
// layer over a protocol library; retry and assignment policy live outside.
type Broker interface {
	Connect(ctx context.Context, cred Credential) (Conn, error)
}

// Conn is one authenticated session with the cluster. Fetch blocks up to wait
// for the next record at the given offset. A Conn serves a single poll loop;
// Fetch is not called concurrently.
type Conn interface {
	Partitions(topic string) ([]int32, error)
	OldestOffset(tp TopicPartition) (int64, error)
	NewestOffset(tp TopicPartition) (int64, error)
	Fetch(ctx context.Context, tp TopicPartition, offset int64, wait time.Duration) (Message, error)
	Close() error
}

// Factory builds a Broker from consumer configuration.
type Factory func(cfg Config) (Broker, error)

var registry = map[string]Factory{}

// Register is called from main for each linked driver.
func Register(name string, f Factory) {
	registry[name] = f
}

// NewBroker returns a driver by name ("sarama", ...).
func NewBroker(name string, cfg Config) (Broker, error) {
	if f, ok := registry[name]; ok {
		return f(cfg)
	}
	return nil, &FatalError{Op: "broker", Err: fmt.Errorf("unsupported driver %q", name)}
}
