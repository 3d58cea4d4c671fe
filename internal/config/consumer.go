package config

import (
	"strata/consumer"
)

// LoadConsumerConfig delegates to the consumer loader while centralizing
// loader entrypoints under internal/config.
func LoadConsumerConfig(path string) (consumer.Config, error) {
	return consumer.LoadConfig(path)
}
