// Package deadletter quarantines events that cannot be processed.
// Quarantining is terminal for the pipeline: no automatic replay.
package deadletter

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/flume/internal/adapters/transport"
	"github.com/okian/flume/internal/domain/faults"
	"github.com/okian/flume/internal/domain/model"
	"github.com/okian/flume/pkg/logger"
	"github.com/okian/flume/pkg/metrics"
)

// Default sink configuration constants.
const (
	defaultTopic       = "flume.dead-letter"
	defaultJournalPath = "flume-dead-letter.journal"
	journalFileMode    = 0o644
)

// Sink quarantines failed events.
type Sink interface {
	// Quarantine durably persists a dead letter record. It must not
	// fail the hot path: when the durable write fails, the record is
	// appended to a last-resort local journal and a critical alert is
	// raised. An error is returned only when both paths fail, which is
	// the one loss-risk condition that must stay visible.
	Quarantine(ctx context.Context, e model.Event, history []*faults.ProcessingError, attempts int, firstFailedAt time.Time, offset int64) error

	// Depth returns the number of records quarantined by this sink.
	Depth() int64
}

// TransportSink publishes dead letter records to a quarantine topic,
// falling back to a local append-only journal.
type TransportSink struct {
	transport transport.Transport
	topic     string

	journalPath string
	journalMu   sync.Mutex

	depth int64
	clock func() time.Time
	log   logger.Logger
}

// Option applies a configuration option to the TransportSink.
type Option func(*TransportSink)

// WithTopic sets the quarantine topic.
func WithTopic(topic string) Option {
	return func(s *TransportSink) {
		if topic != "" {
			s.topic = topic
		}
	}
}

// WithJournalPath sets the last-resort journal file.
func WithJournalPath(path string) Option {
	return func(s *TransportSink) {
		if path != "" {
			s.journalPath = path
		}
	}
}

// WithLogger sets a custom logger for the sink.
func WithLogger(l logger.Logger) Option {
	return func(s *TransportSink) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a transport-backed dead letter sink.
func New(t transport.Transport, opts ...Option) *TransportSink {
	s := &TransportSink{
		transport:   t,
		topic:       defaultTopic,
		journalPath: defaultJournalPath,
		clock:       time.Now,
		log:         logger.Get().Named("deadletter"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Quarantine builds the record and persists it, preferring the topic
// and falling back to the journal.
func (s *TransportSink) Quarantine(ctx context.Context, e model.Event, history []*faults.ProcessingError, attempts int, firstFailedAt time.Time, offset int64) error {
	rec := model.DeadLetterRecord{
		OriginalEvent:         e,
		Errors:                toEntries(history),
		AttemptCount:          attempts,
		FirstFailedAt:         firstFailedAt,
		LastFailedAt:          s.clock(),
		OriginPartitionOffset: offset,
	}

	raw, err := model.EncodeDeadLetterRecord(rec)
	if err != nil {
		// Encoding a record we built ourselves should not fail; treat
		// it like a durable-write failure rather than dropping data.
		return s.fallback(ctx, e, fmt.Appendf(nil, "unencodable dead letter record for %s: %v", e.ID, err), err)
	}

	if err := s.transport.Publish(ctx, s.topic, e.PartitionKey, raw); err != nil {
		return s.fallback(ctx, e, raw, err)
	}

	atomic.AddInt64(&s.depth, 1)
	if len(history) > 0 {
		metrics.RecordQuarantine(history[len(history)-1].Kind.String())
	}
	return nil
}

// fallback appends the record to the local journal and raises a
// critical alert. Silent loss here would mean a message failed its
// primary path and its quarantine path.
func (s *TransportSink) fallback(ctx context.Context, e model.Event, raw []byte, cause error) error {
	metrics.RecordCriticalAlert("dead_letter_write_failed")
	s.log.Error(ctx, "dead letter write failed, falling back to local journal",
		logger.String("eventID", e.ID),
		logger.String("journal", s.journalPath),
		logger.Error(cause),
	)

	if err := s.appendJournal(raw); err != nil {
		metrics.RecordCriticalAlert("dead_letter_journal_failed")
		s.log.Error(ctx, "dead letter journal write failed, data at risk",
			logger.String("eventID", e.ID),
			logger.Error(err),
		)
		return fmt.Errorf("quarantine %s: durable write: %w; journal: %v", e.ID, cause, err)
	}

	metrics.RecordJournalFallback()
	atomic.AddInt64(&s.depth, 1)
	return nil
}

// appendJournal writes one record per line to the journal file.
func (s *TransportSink) appendJournal(raw []byte) error {
	s.journalMu.Lock()
	defer s.journalMu.Unlock()

	f, err := os.OpenFile(s.journalPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, journalFileMode)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return f.Sync()
}

// Depth returns the number of records quarantined by this sink.
func (s *TransportSink) Depth() int64 {
	return atomic.LoadInt64(&s.depth)
}

// toEntries converts the attempt history to wire entries.
func toEntries(history []*faults.ProcessingError) []model.ErrorEntry {
	entries := make([]model.ErrorEntry, len(history))
	for i, perr := range history {
		entries[i] = model.ErrorEntry{
			Kind:    perr.Kind.String(),
			Message: perr.Error(),
			Field:   perr.Field,
		}
	}
	return entries
}
