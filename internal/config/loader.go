package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if FLUME_CONFIG is set
//  3. env (prefix FLUME_)
func Load(ctx context.Context) (*Config, error) {
	// Start with defaults
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("FLUME_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: FLUME_ADDR, FLUME_MAX_RETRIES, ...
	// Map env keys like FLUME_MAX_RETRIES -> max_retries (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("FLUME_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "flume_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate applies the basic sanity checks a misconfigured process
// should fail fast on.
func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("%w: consumer_group is required", ErrInvalidConfig)
	}
	if c.SourceTopic == "" || c.DeadLetterTopic == "" {
		return fmt.Errorf("%w: source_topic and dead_letter_topic must not be empty", ErrInvalidConfig)
	}
	if c.SourceTopic == c.DeadLetterTopic {
		return fmt.Errorf("%w: source_topic and dead_letter_topic must differ", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidConfig)
	}
	if c.JitterRatio < 0 || c.JitterRatio >= 1 {
		return fmt.Errorf("%w: jitter_ratio must be in [0, 1)", ErrInvalidConfig)
	}
	switch c.Transport {
	case "inmem":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("%w: kafka transport requires kafka_brokers", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	switch c.Enricher {
	case "none", "simulated":
	default:
		return fmt.Errorf("%w: unknown enricher %q", ErrInvalidConfig, c.Enricher)
	}
	switch c.IdempotencyStore {
	case "inmem", "redis":
	default:
		return fmt.Errorf("%w: unknown idempotency_store %q", ErrInvalidConfig, c.IdempotencyStore)
	}
	return nil
}
