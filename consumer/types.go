package consumer

import (
	"fmt"
	"sort"
	"time"
)

// TopicPartition identifies one partition of a topic. Comparable; used as a
// map key throughout the package.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s/%d", tp.Topic, tp.Partition)
}

// Message is one decoded record. Ownership passes to the caller on delivery.
type Message struct {
	TP        TopicPartition
	Offset    int64
	Key       []byte // nil when the record carries no key
	Value     []byte
	Timestamp time.Time
}

// Assignment is the set of partitions currently owned by this consumer
// instance. An Assignment is never mutated after publication; rebalances
// replace it wholesale.
type Assignment map[TopicPartition]struct{}

func (a Assignment) Contains(tp TopicPartition) bool {
	_, ok := a[tp]
	return ok
}

// Partitions returns the members in stable topic/partition order.
func (a Assignment) Partitions() []TopicPartition {
	out := make([]TopicPartition, 0, len(a))
	for tp := range a {
		out = append(out, tp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})
	return out
}

func (a Assignment) equal(b Assignment) bool {
	if len(a) != len(b) {
		return false
	}
	for tp := range a {
		if !b.Contains(tp) {
			return false
		}
	}
	return true
}
