// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keep fields unexported where possible and use functional options.
// - Provide New(...Option) initializer to build a Config with defaults.
// - External errors must be wrapped via this package's error helpers.
package config

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the operational HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// ConsumerGroup names the consumer group joining the source topic.
	// Required.
	ConsumerGroup string `koanf:"consumer_group"`

	// SourceTopic is the topic events are consumed from.
	SourceTopic string `koanf:"source_topic"`

	// DeadLetterTopic receives quarantined records.
	DeadLetterTopic string `koanf:"dead_letter_topic"`

	// DeadLetterJournal is the last-resort local journal file used
	// when the dead letter topic itself is unreachable.
	DeadLetterJournal string `koanf:"dead_letter_journal"`

	// PartitionCount configures the in-memory transport; ignored for
	// broker-backed transports, where the broker owns partitioning.
	PartitionCount int `koanf:"partition_count"`

	// MaxRetries bounds attempts for retryable faults.
	MaxRetries int `koanf:"max_retries"`

	// BaseBackoffMS and MaxBackoffMS bound the retry delay schedule.
	BaseBackoffMS int `koanf:"base_backoff_ms"`
	MaxBackoffMS  int `koanf:"max_backoff_ms"`

	// JitterRatio is the symmetric jitter applied to each delay.
	JitterRatio float64 `koanf:"jitter_ratio"`

	// CircuitFailureThreshold trips the breaker after this many
	// windowed failures.
	CircuitFailureThreshold int `koanf:"circuit_failure_threshold"`

	// CircuitResetTimeoutMS is the cooling-off period before probing.
	CircuitResetTimeoutMS int `koanf:"circuit_reset_timeout_ms"`

	// CircuitHalfOpenSuccesses closes the breaker after this many
	// consecutive probe successes.
	CircuitHalfOpenSuccesses int `koanf:"circuit_half_open_successes"`

	// IdempotencyTTLSeconds bounds idempotency record lifetime.
	IdempotencyTTLSeconds int `koanf:"idempotency_ttl_seconds"`

	// AttemptTimeoutMS bounds one processing attempt.
	AttemptTimeoutMS int `koanf:"attempt_timeout_ms"`

	// Transport selects the stream transport backend: inmem or kafka.
	Transport string `koanf:"transport"`

	// KafkaBrokers seeds the kafka transport.
	KafkaBrokers []string `koanf:"kafka_brokers"`

	// Enricher selects the enrichment dependency: none or simulated.
	Enricher string `koanf:"enricher"`

	// IdempotencyStore selects the store backend: inmem or redis.
	IdempotencyStore string `koanf:"idempotency_store"`

	// RedisAddr locates the redis idempotency store.
	RedisAddr string `koanf:"redis_addr"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:                 "info",
		Addr:                     ":9080",
		ConsumerGroup:            "",
		SourceTopic:              "flume.events",
		DeadLetterTopic:          "flume.dead-letter",
		DeadLetterJournal:        "flume-dead-letter.journal",
		PartitionCount:           4,
		MaxRetries:               5,
		BaseBackoffMS:            1000,
		MaxBackoffMS:             30000,
		JitterRatio:              0.2,
		CircuitFailureThreshold:  5,
		CircuitResetTimeoutMS:    30000,
		CircuitHalfOpenSuccesses: 3,
		IdempotencyTTLSeconds:    86400,
		AttemptTimeoutMS:         5000,
		Transport:                "inmem",
		KafkaBrokers:             nil,
		Enricher:                 "none",
		IdempotencyStore:         "inmem",
		RedisAddr:                "localhost:6379",
	}
}
