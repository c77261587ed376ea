// Package kafka adapts a Kafka-compatible broker to the pipeline's
// transport contract using franz-go. Auto-commit is disabled: offsets
// advance only when a worker commits them after a terminal outcome.
package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/okian/flume/internal/adapters/transport"
	"github.com/okian/flume/pkg/logger"
	"github.com/okian/flume/pkg/metrics"
)

// Default adapter configuration constants.
const (
	defaultReaderBuffer = 256
)

// Transport is a Kafka-backed transport. One Transport supports one
// consumer group subscription plus any number of publishes.
type Transport struct {
	brokers  []string
	clientID string

	mu       sync.Mutex
	producer *kgo.Client
	consumer *kgo.Client
	readers  map[int32]*reader
	readerCh chan transport.Reader
	closed   bool

	readerBuffer int
	logger       logger.Logger
}

// Option applies a configuration option to the Transport.
type Option func(*Transport)

// WithClientID sets the client id reported to the broker.
func WithClientID(id string) Option {
	return func(t *Transport) {
		if id != "" {
			t.clientID = id
		}
	}
}

// WithReaderBuffer sets the per-partition delivery buffer.
func WithReaderBuffer(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.readerBuffer = n
		}
	}
}

// WithLogger sets a custom logger for the adapter.
func WithLogger(l logger.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a Kafka transport for the given seed brokers.
func New(brokers []string, opts ...Option) (*Transport, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka transport: no seed brokers")
	}

	t := &Transport{
		brokers:      brokers,
		clientID:     "flume",
		readers:      make(map[int32]*reader),
		readerBuffer: defaultReaderBuffer,
		logger:       logger.Get().Named("kafka"),
	}
	for _, opt := range opts {
		opt(t)
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(t.brokers...),
		kgo.ClientID(t.clientID),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka transport: create producer: %w", err)
	}
	t.producer = producer
	return t, nil
}

// Publish produces one record synchronously. The partition key carries
// the event's partition affinity.
func (t *Transport) Publish(ctx context.Context, topic, key string, value []byte) error {
	rec := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	if err := t.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	metrics.RecordPublish(topic)
	return nil
}

// Subscribe joins the consumer group and starts the poll loop. Readers
// are announced as the broker assigns partitions; the channel closes
// when ctx ends or the transport closes.
func (t *Transport) Subscribe(ctx context.Context, topic, group string) (<-chan transport.Reader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, transport.ErrClosed
	}
	if t.consumer != nil {
		return nil, fmt.Errorf("kafka transport: already subscribed")
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(t.brokers...),
		kgo.ClientID(t.clientID),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka transport: create consumer: %w", err)
	}

	t.consumer = consumer
	t.readerCh = make(chan transport.Reader)

	go t.pollLoop(ctx, topic)

	return t.readerCh, nil
}

// pollLoop fetches records and routes them to per-partition readers,
// announcing a reader the first time a partition is seen. Dispatch
// blocks on a full partition buffer, which backpressures the fetch.
func (t *Transport) pollLoop(ctx context.Context, topic string) {
	defer func() {
		t.mu.Lock()
		for _, r := range t.readers {
			close(r.deliveries)
		}
		t.readers = make(map[int32]*reader)
		close(t.readerCh)
		t.mu.Unlock()
	}()

	for {
		fetches := t.consumer.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		for _, ferr := range fetches.Errors() {
			t.logger.Error(ctx, "kafka fetch error",
				logger.String("topic", ferr.Topic),
				logger.Int("partition", int(ferr.Partition)),
				logger.Error(ferr.Err),
			)
		}

		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			r := t.readerFor(topic, p.Partition)
			for _, rec := range p.Records {
				d := transport.Delivery{
					Key: string(rec.Key),
					Raw: rec.Value,
					Offset: transport.Offset{
						Topic:     rec.Topic,
						Partition: rec.Partition,
						Index:     rec.Offset,
					},
				}
				select {
				case r.deliveries <- d:
				case <-ctx.Done():
					return
				}
			}
		})
	}
}

// readerFor returns the reader for a partition, announcing it on first
// sight.
func (t *Transport) readerFor(topic string, partition int32) *reader {
	t.mu.Lock()
	r, ok := t.readers[partition]
	if !ok {
		r = &reader{
			transport:  t,
			topic:      topic,
			partition:  partition,
			deliveries: make(chan transport.Delivery, t.readerBuffer),
		}
		t.readers[partition] = r
	}
	t.mu.Unlock()

	if !ok {
		t.readerCh <- r
	}
	return r
}

// Close shuts down both clients.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	consumer := t.consumer
	t.mu.Unlock()

	if consumer != nil {
		consumer.Close()
	}
	t.producer.Close()
	return nil
}

// reader drains one assigned partition.
type reader struct {
	transport  *Transport
	topic      string
	partition  int32
	deliveries chan transport.Delivery
}

// Next blocks for the next delivery on this partition.
func (r *reader) Next(ctx context.Context) (transport.Delivery, error) {
	select {
	case d, ok := <-r.deliveries:
		if !ok {
			return transport.Delivery{}, transport.ErrClosed
		}
		return d, nil
	case <-ctx.Done():
		return transport.Delivery{}, ctx.Err()
	}
}

// Partition identifies the assigned partition.
func (r *reader) Partition() int32 { return r.partition }

// Commit synchronously commits the record at the given offset, which
// in Kafka terms marks everything up to and including it as processed.
func (r *reader) Commit(ctx context.Context, off transport.Offset) error {
	rec := &kgo.Record{Topic: off.Topic, Partition: off.Partition, Offset: off.Index}
	if err := r.transport.consumer.CommitRecords(ctx, rec); err != nil {
		return fmt.Errorf("kafka commit %s[%d]@%d: %w", off.Topic, off.Partition, off.Index, err)
	}
	metrics.RecordCommit()
	return nil
}
