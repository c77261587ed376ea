// Package sink declares the downstream contracts the pipeline writes
// to. Real warehouses and OLTP stores are external collaborators; the
// in-memory implementation backs tests and local runs.
package sink

import (
	"context"
	"sync"

	"github.com/okian/flume/internal/domain/model"
)

// Sink accepts validated, transformed events. A call returns a
// definitive success or failure; there is no partial-success contract.
type Sink interface {
	Write(ctx context.Context, e model.Event) error
}

// Enricher augments an event by calling a downstream dependency. The
// pipeline guards enrichment with a circuit breaker.
type Enricher interface {
	Enrich(ctx context.Context, e model.Event) (model.Event, error)
}

// WriteFunc adapts a function to the Sink interface.
type WriteFunc func(ctx context.Context, e model.Event) error

// Write calls the wrapped function.
func (f WriteFunc) Write(ctx context.Context, e model.Event) error { return f(ctx, e) }

// EnrichFunc adapts a function to the Enricher interface.
type EnrichFunc func(ctx context.Context, e model.Event) (model.Event, error)

// Enrich calls the wrapped function.
func (f EnrichFunc) Enrich(ctx context.Context, e model.Event) (model.Event, error) {
	return f(ctx, e)
}

// MemorySink records writes in order. A write hook, when set, runs
// before the write is recorded and can inject failures.
type MemorySink struct {
	mu     sync.Mutex
	writes []model.Event
	hook   WriteFunc
}

// MemoryOption applies a configuration option to the MemorySink.
type MemoryOption func(*MemorySink)

// WithWriteHook sets a hook invoked before each write is recorded; a
// non-nil return fails the write without recording it.
func WithWriteHook(hook WriteFunc) MemoryOption {
	return func(s *MemorySink) {
		s.hook = hook
	}
}

// NewMemorySink creates an in-memory recording sink.
func NewMemorySink(opts ...MemoryOption) *MemorySink {
	s := &MemorySink{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write records the event, or fails if the hook rejects it.
func (s *MemorySink) Write(ctx context.Context, e model.Event) error {
	if s.hook != nil {
		if err := s.hook(ctx, e); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.writes = append(s.writes, e)
	s.mu.Unlock()
	return nil
}

// Writes returns a copy of the recorded events in write order.
func (s *MemorySink) Writes() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.writes))
	copy(out, s.writes)
	return out
}
