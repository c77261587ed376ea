package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default in-memory store configuration constants.
const (
	defaultSweepInterval = 1 * time.Minute
)

// memEntry pairs a record with its expiry.
type memEntry struct {
	rec       Record
	expiresAt time.Time
}

// MemoryStore implements Store with a mutex-guarded map and lazy plus
// periodic expiry. It backs tests and single-process deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry

	ttl           time.Duration
	sweepInterval time.Duration
	clock         clockwork.Clock
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// MemoryOption applies a configuration option to the MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTTL sets the record lifetime.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSweepInterval sets how often expired records are swept.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithClock sets the clock. Tests inject a clockwork.FakeClock.
func WithClock(clock clockwork.Clock) MemoryOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewMemoryStore creates an in-memory idempotency store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:       make(map[string]memEntry),
		ttl:           DefaultTTL,
		sweepInterval: defaultSweepInterval,
		clock:         clockwork.NewRealClock(),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.sweepLoop()
	return s
}

// live reports whether an entry exists and has not expired, reaping it
// when it has. Must hold s.mu.
func (s *MemoryStore) live(id string, now time.Time) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	if now.After(e.expiresAt) {
		delete(s.entries, id)
		return false
	}
	return true
}

// Seen reports whether id has a live record.
func (s *MemoryStore) Seen(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(id, s.clock.Now()), nil
}

// PutIfAbsent records id unless a live record exists.
func (s *MemoryStore) PutIfAbsent(ctx context.Context, id string, rec Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.live(id, now) {
		return false, nil
	}
	s.entries[id] = memEntry{rec: rec, expiresAt: now.Add(s.ttl)}
	return true, nil
}

// Forget drops the record for id.
func (s *MemoryStore) Forget(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Size returns the number of live records.
func (s *MemoryStore) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var n int64
	for id := range s.entries {
		if s.live(id, now) {
			n++
		}
	}
	return n, nil
}

// Close stops the background sweeper.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// sweepLoop reaps expired entries so the map does not grow with dead
// records between reads.
func (s *MemoryStore) sweepLoop() {
	ticker := s.clock.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.Chan():
			s.mu.Lock()
			now := s.clock.Now()
			for id, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
