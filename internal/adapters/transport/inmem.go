package transport

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/okian/flume/pkg/metrics"
)

// Default in-memory log configuration constants.
const (
	defaultPartitionCount = 4
)

// record is one appended entry.
type record struct {
	key   string
	value []byte
}

// partition is an append-only slice with per-group committed cursors.
type partition struct {
	mu        sync.Mutex
	records   []record
	committed map[string]int64 // group -> index of next undelivered record
	waiters   []chan struct{}
}

// append adds a record and wakes blocked readers.
func (p *partition) append(r record) {
	p.mu.Lock()
	p.records = append(p.records, r)
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Log is an in-memory Transport with a fixed partition count. It backs
// tests and single-process deployments; a broker-backed implementation
// provides the same contract for everything else.
type Log struct {
	mu             sync.RWMutex
	partitionCount int32
	topics         map[string][]*partition
	closed         bool
}

// LogOption applies a configuration option to the Log.
type LogOption func(*Log)

// WithPartitionCount sets the number of partitions per topic.
func WithPartitionCount(n int) LogOption {
	return func(l *Log) {
		if n > 0 {
			l.partitionCount = int32(n)
		}
	}
}

// NewLog creates an in-memory partitioned log.
func NewLog(opts ...LogOption) *Log {
	l := &Log{
		partitionCount: defaultPartitionCount,
		topics:         make(map[string][]*partition),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// topic returns the partition set for a topic, creating it on demand.
func (l *Log) topic(name string) []*partition {
	l.mu.Lock()
	defer l.mu.Unlock()

	parts, ok := l.topics[name]
	if !ok {
		parts = make([]*partition, l.partitionCount)
		for i := range parts {
			parts[i] = &partition{committed: make(map[string]int64)}
		}
		l.topics[name] = parts
	}
	return parts
}

// partitionFor hashes a key onto a partition index with FNV-1a. An
// empty key maps to partition 0 rather than being spread randomly, so
// keyless publishes still have a deterministic home.
func (l *Log) partitionFor(key string) int32 {
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int32(h.Sum32() % uint32(l.partitionCount))
}

// Publish appends a record to the partition owning its key.
func (l *Log) Publish(ctx context.Context, topic, key string, value []byte) error {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	parts := l.topic(topic)
	parts[l.partitionFor(key)].append(record{key: key, value: append([]byte(nil), value...)})
	metrics.RecordPublish(topic)
	return nil
}

// Subscribe announces one reader per partition, starting each at the
// group's committed offset. Assignment is static, so the channel is
// closed after the initial announcement.
func (l *Log) Subscribe(ctx context.Context, topic, group string) (<-chan Reader, error) {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	parts := l.topic(topic)
	ch := make(chan Reader, len(parts))
	for i, p := range parts {
		p.mu.Lock()
		cursor := p.committed[group]
		p.mu.Unlock()

		ch <- &logReader{
			log:       l,
			topic:     topic,
			group:     group,
			partition: p,
			index:     int32(i),
			cursor:    cursor,
		}
	}
	close(ch)
	return ch, nil
}

// commitGroup advances one group's cursor. Commits only move forward;
// a stale commit is a no-op.
func (l *Log) commitGroup(off Offset, group string) error {
	l.mu.RLock()
	parts, ok := l.topics[off.Topic]
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !ok || off.Partition < 0 || int(off.Partition) >= len(parts) {
		return ErrUnknownOffset
	}

	p := parts[off.Partition]
	p.mu.Lock()
	defer p.mu.Unlock()
	if next := off.Index + 1; next > p.committed[group] {
		p.committed[group] = next
	}
	metrics.RecordCommit()
	return nil
}

// Depth returns the number of records in a topic, across partitions.
func (l *Log) Depth(topic string) int64 {
	l.mu.RLock()
	parts, ok := l.topics[topic]
	l.mu.RUnlock()
	if !ok {
		return 0
	}
	var total int64
	for _, p := range parts {
		p.mu.Lock()
		total += int64(len(p.records))
		p.mu.Unlock()
	}
	return total
}

// GroupLag returns the number of records a consumer group has not yet
// committed, per partition.
func (l *Log) GroupLag(topic, group string) map[int32]int64 {
	l.mu.RLock()
	parts, ok := l.topics[topic]
	l.mu.RUnlock()
	if !ok {
		return nil
	}
	lag := make(map[int32]int64, len(parts))
	for i, p := range parts {
		p.mu.Lock()
		lag[int32(i)] = int64(len(p.records)) - p.committed[group]
		p.mu.Unlock()
	}
	return lag
}

// Close stops the log. Blocked readers return ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	topics := l.topics
	l.mu.Unlock()

	for _, parts := range topics {
		for _, p := range parts {
			p.mu.Lock()
			waiters := p.waiters
			p.waiters = nil
			p.mu.Unlock()
			for _, w := range waiters {
				close(w)
			}
		}
	}
	return nil
}

// logReader drains a single partition for one consumer group.
type logReader struct {
	log       *Log
	topic     string
	group     string
	partition *partition
	index     int32
	cursor    int64
}

// Next returns the next record at or after the reader's cursor. The
// cursor is delivery progress only; redelivery restarts from the
// committed offset, never the cursor.
func (r *logReader) Next(ctx context.Context) (Delivery, error) {
	for {
		r.log.mu.RLock()
		closed := r.log.closed
		r.log.mu.RUnlock()
		if closed {
			return Delivery{}, ErrClosed
		}

		r.partition.mu.Lock()
		if r.cursor < int64(len(r.partition.records)) {
			rec := r.partition.records[r.cursor]
			off := Offset{Topic: r.topic, Partition: r.index, Index: r.cursor}
			r.cursor++
			r.partition.mu.Unlock()
			return Delivery{Key: rec.key, Raw: rec.value, Offset: off}, nil
		}
		wait := make(chan struct{})
		r.partition.waiters = append(r.partition.waiters, wait)
		r.partition.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		}
	}
}

// Partition identifies the partition this reader drains.
func (r *logReader) Partition() int32 { return r.index }

// Commit advances the reader's group cursor past the given offset.
func (r *logReader) Commit(ctx context.Context, off Offset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.log.commitGroup(off, r.group)
}
