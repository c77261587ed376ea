// Package service wires the pipeline together and implements the
// dependencies required by the operational HTTP API.
package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/flume/internal/adapters/deadletter"
	"github.com/okian/flume/internal/adapters/idempotency"
	"github.com/okian/flume/internal/adapters/sink"
	"github.com/okian/flume/internal/adapters/transport"
	"github.com/okian/flume/internal/breaker"
	"github.com/okian/flume/internal/config"
	"github.com/okian/flume/internal/domain/retry"
	"github.com/okian/flume/internal/domain/schema"
	"github.com/okian/flume/internal/pipeline"
	"github.com/okian/flume/pkg/logger"
	"github.com/okian/flume/pkg/metrics"
)

// Service owns the consuming pipeline: transport subscription, the
// per-partition worker pool and the shared stores around it.
type Service struct {
	mu sync.RWMutex

	// Core components
	transport  transport.Transport
	store      idempotency.Store
	sink       sink.Sink
	deadLetter deadletter.Sink
	registry   *schema.Registry
	validator  *schema.Validator
	policy     retry.Policy
	brk        *breaker.Breaker
	pool       *pipeline.Pool

	// Optional stages
	transform pipeline.Transform
	enricher  sink.Enricher

	// Configuration
	sourceTopic     string
	consumerGroup   string
	deadLetterTopic string
	journalPath     string
	partitionCount  int
	idempotencyTTL  time.Duration
	attemptTimeout  time.Duration
	schemas         map[string]string
	resolver        schema.Resolver

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithTransport sets the stream transport. Defaults to the in-memory log.
func WithTransport(t transport.Transport) Option {
	return func(s *Service) {
		if t != nil {
			s.transport = t
		}
	}
}

// WithStore sets the idempotency store. Defaults to the in-memory store.
func WithStore(store idempotency.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithSink sets the downstream sink. Defaults to the in-memory sink.
func WithSink(dst sink.Sink) Option {
	return func(s *Service) {
		if dst != nil {
			s.sink = dst
		}
	}
}

// WithEnricher sets the optional enrichment dependency. Calls to it run
// through the circuit breaker.
func WithEnricher(e sink.Enricher) Option {
	return func(s *Service) {
		s.enricher = e
	}
}

// WithTransform sets the optional transform stage.
func WithTransform(t pipeline.Transform) Option {
	return func(s *Service) {
		s.transform = t
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithBreaker sets the circuit breaker guarding the enricher.
func WithBreaker(b *breaker.Breaker) Option {
	return func(s *Service) {
		if b != nil {
			s.brk = b
		}
	}
}

// WithTopics sets the source and dead letter topics.
func WithTopics(source, deadLetter string) Option {
	return func(s *Service) {
		if source != "" {
			s.sourceTopic = source
		}
		if deadLetter != "" {
			s.deadLetterTopic = deadLetter
		}
	}
}

// WithConsumerGroup names the consumer group joining the source topic.
func WithConsumerGroup(group string) Option {
	return func(s *Service) {
		if group != "" {
			s.consumerGroup = group
		}
	}
}

// WithJournalPath sets the last-resort dead letter journal file.
func WithJournalPath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.journalPath = path
		}
	}
}

// WithPartitionCount sets the in-memory transport's partition count.
func WithPartitionCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.partitionCount = n
		}
	}
}

// WithIdempotencyTTL bounds idempotency record lifetime.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.idempotencyTTL = ttl
		}
	}
}

// WithAttemptTimeout bounds a single processing attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.attemptTimeout = d
		}
	}
}

// WithSchema registers a contract document under a version before the
// pipeline starts.
func WithSchema(version, document string) Option {
	return func(s *Service) {
		s.schemas[version] = document
	}
}

// WithSchemaResolver sets a remote resolver backing registry misses.
func WithSchemaResolver(r schema.Resolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		sourceTopic:     "flume.events",
		consumerGroup:   "flume",
		deadLetterTopic: "flume.dead-letter",
		journalPath:     "flume-dead-letter.journal",
		partitionCount:  4,
		idempotencyTTL:  idempotency.DefaultTTL,
		attemptTimeout:  5 * time.Second,
		schemas:         make(map[string]string),
		policy:          retry.NewPolicy(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// OptionsFromConfig translates loaded configuration into service options.
// Backend selection (kafka transport, redis store) stays with the
// caller, which owns those clients' lifecycles.
func OptionsFromConfig(cfg *config.Config) []Option {
	return []Option{
		WithTopics(cfg.SourceTopic, cfg.DeadLetterTopic),
		WithConsumerGroup(cfg.ConsumerGroup),
		WithJournalPath(cfg.DeadLetterJournal),
		WithPartitionCount(cfg.PartitionCount),
		WithIdempotencyTTL(time.Duration(cfg.IdempotencyTTLSeconds) * time.Second),
		WithAttemptTimeout(time.Duration(cfg.AttemptTimeoutMS) * time.Millisecond),
		WithRetryPolicy(retry.NewPolicy(
			retry.WithMaxRetries(cfg.MaxRetries),
			retry.WithBackoffBounds(
				time.Duration(cfg.BaseBackoffMS)*time.Millisecond,
				time.Duration(cfg.MaxBackoffMS)*time.Millisecond,
			),
			retry.WithJitterRatio(cfg.JitterRatio),
		)),
		WithBreaker(breaker.New("enricher",
			breaker.WithFailureThreshold(cfg.CircuitFailureThreshold),
			breaker.WithResetTimeout(time.Duration(cfg.CircuitResetTimeoutMS)*time.Millisecond),
			breaker.WithHalfOpenSuccesses(cfg.CircuitHalfOpenSuccesses),
		)),
	}
}

// Start initializes and starts the pipeline components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting pipeline service...")

	if s.transport == nil {
		s.transport = transport.NewLog(transport.WithPartitionCount(s.partitionCount))
		s.logger.Info(ctx, "using in-memory transport",
			logger.Int("partitions", s.partitionCount),
		)
	}
	if s.store == nil {
		s.store = idempotency.NewMemoryStore(idempotency.WithTTL(s.idempotencyTTL))
		s.logger.Info(ctx, "using in-memory idempotency store")
	}
	if s.sink == nil {
		s.sink = sink.NewMemorySink()
	}
	if s.brk == nil && s.enricher != nil {
		s.brk = breaker.New("enricher")
	}

	registryOpts := []schema.RegistryOption{}
	if s.resolver != nil {
		registryOpts = append(registryOpts, schema.WithResolver(s.resolver))
	}
	s.registry = schema.NewRegistry(registryOpts...)
	for version, document := range s.schemas {
		if err := s.registry.Register(version, document); err != nil {
			return fmt.Errorf("register schema: %w", err)
		}
	}
	s.validator = schema.NewValidator(s.registry)

	s.deadLetter = deadletter.New(s.transport,
		deadletter.WithTopic(s.deadLetterTopic),
		deadletter.WithJournalPath(s.journalPath),
		deadletter.WithLogger(s.logger),
	)

	s.pool = pipeline.NewPool(s.transport, s.sourceTopic, s.consumerGroup, pipeline.Deps{
		Validator:      s.validator,
		Store:          s.store,
		Sink:           s.sink,
		DeadLine:       s.deadLetter,
		Policy:         s.policy,
		Transform:      s.transform,
		Enricher:       s.enricher,
		Breaker:        s.brk,
		AttemptTimeout: s.attemptTimeout,
		Logger:         s.logger,
	})
	if err := s.pool.Start(ctx); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}

	s.started = true
	s.logger.Info(ctx, "pipeline service started",
		logger.String("sourceTopic", s.sourceTopic),
		logger.String("group", s.consumerGroup),
		logger.String("deadLetterTopic", s.deadLetterTopic),
	)

	return nil
}

// Stop gracefully shuts down the pipeline. The caller cancels the Start
// context first so workers stop pulling deliveries.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping pipeline service...")

	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "pool shutdown incomplete", logger.Error(err))
		}
	}

	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.logger.Warn(ctx, "transport close failed", logger.Error(err))
		}
	}

	if closer, ok := s.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn(ctx, "idempotency store close failed", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "pipeline service stopped")
}

// Publish writes a raw event envelope to the source topic. The ingest
// HTTP endpoint and test tooling both feed the pipeline through this.
func (s *Service) Publish(ctx context.Context, key string, raw []byte) error {
	s.mu.RLock()
	t := s.transport
	topic := s.sourceTopic
	s.mu.RUnlock()

	if t == nil {
		return fmt.Errorf("publish: %w", ErrNotStarted)
	}
	if err := t.Publish(ctx, topic, key, raw); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	// The transport records published_total; counting here as well
	// would double it.
	return nil
}

// RegisterSchema adds or replaces a contract document at runtime.
func (s *Service) RegisterSchema(version, document string) error {
	s.mu.RLock()
	reg := s.registry
	s.mu.RUnlock()

	if reg == nil {
		s.mu.Lock()
		s.schemas[version] = document
		s.mu.Unlock()
		return nil
	}
	return reg.Register(version, document)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":       s.started,
		"sourceTopic":   s.sourceTopic,
		"consumerGroup": s.consumerGroup,
	}

	if !s.started {
		return stats
	}

	stats["workers"] = s.pool.WorkerCount()
	stats["deadLetterDepth"] = s.deadLetter.Depth()
	if s.brk != nil {
		stats["breakerState"] = s.brk.State().String()
	}
	if sized, ok := s.store.(interface {
		Size(ctx context.Context) (int64, error)
	}); ok {
		if n, err := sized.Size(context.Background()); err == nil {
			stats["idempotencyRecords"] = n
		}
	}
	if depther, ok := s.transport.(interface{ Depth(topic string) int64 }); ok {
		stats["sourceDepth"] = depther.Depth(s.sourceTopic)
	}
	if lagger, ok := s.transport.(interface {
		GroupLag(topic, group string) map[int32]int64
	}); ok {
		for p, lag := range lagger.GroupLag(s.sourceTopic, s.consumerGroup) {
			metrics.UpdatePartitionLag(strconv.Itoa(int(p)), lag)
		}
	}

	metrics.UpdateDeadLetterDepth(int(s.deadLetter.Depth()))
	return stats
}
