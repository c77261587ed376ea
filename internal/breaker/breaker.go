// Package breaker guards calls to a failing downstream dependency with
// a CLOSED -> OPEN -> HALF_OPEN state machine. One Breaker instance is
// shared by every worker calling the same dependency, so all state
// transitions happen behind a single mutex.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/flume/pkg/metrics"
)

// Default breaker configuration constants.
const (
	defaultFailureThreshold  = 5
	defaultResetTimeout      = 30 * time.Second
	defaultHalfOpenSuccesses = 3
	defaultFailureWindow     = 60 * time.Second
)

// State is the breaker's position in its lifecycle.
type State uint8

const (
	// Closed passes calls through while counting failures.
	Closed State = iota
	// Open rejects calls without touching the dependency.
	Open
	// HalfOpen lets a limited number of probe calls through.
	HalfOpen
)

// String returns the metric-facing name of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker is a shared, mutex-guarded circuit breaker.
type Breaker struct {
	name string

	mu               sync.Mutex
	state            State
	failures         []time.Time // sliding window of failure timestamps
	lastTransition   time.Time
	halfOpenSuccess  int
	halfOpenInFlight int

	failureThreshold  int
	resetTimeout      time.Duration
	halfOpenSuccesses int
	failureWindow     time.Duration
	clock             clockwork.Clock
	fallback          func(ctx context.Context) error
}

// Option applies a configuration option to the Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many windowed failures trip the breaker.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithResetTimeout sets the cooling-off period before probing resumes.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithHalfOpenSuccesses sets how many probe successes close the circuit.
func WithHalfOpenSuccesses(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.halfOpenSuccesses = n
		}
	}
}

// WithFailureWindow sets the sliding window over which failures count.
func WithFailureWindow(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.failureWindow = d
		}
	}
}

// WithClock sets the clock. Production uses the real clock; tests
// inject a clockwork.FakeClock.
func WithClock(clock clockwork.Clock) Option {
	return func(b *Breaker) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithFallback sets a function invoked instead of returning ErrOpen
// while the circuit is open.
func WithFallback(fn func(ctx context.Context) error) Option {
	return func(b *Breaker) {
		b.fallback = fn
	}
}

// New creates a Breaker for a named dependency.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:              name,
		state:             Closed,
		failureThreshold:  defaultFailureThreshold,
		resetTimeout:      defaultResetTimeout,
		halfOpenSuccesses: defaultHalfOpenSuccesses,
		failureWindow:     defaultFailureWindow,
		clock:             clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastTransition = b.clock.Now()
	metrics.UpdateBreakerState(b.name, int(b.state))
	return b
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// Do runs fn under the breaker. While the circuit is open, fn is not
// invoked: the configured fallback runs instead, or ErrOpen is
// returned. A failure of fn counts against the sliding window.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		metrics.RecordBreakerRejected(b.name)
		if b.fallback != nil {
			return b.fallback(ctx)
		}
		return err
	}

	// A panic in fn must still settle the call, or a half-open probe
	// slot would leak and wedge the breaker in HALF_OPEN.
	settled := false
	defer func() {
		if !settled {
			b.recordFailure()
		}
	}()

	err := fn(ctx)
	settled = true
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// allow decides whether a call may proceed, transitioning OPEN ->
// HALF_OPEN once the reset timeout has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refreshLocked()

	switch b.state {
	case Closed:
		return nil
	case Open:
		return ErrOpen
	case HalfOpen:
		// Bound in-flight probes to the successes still needed.
		if b.halfOpenInFlight >= b.halfOpenSuccesses-b.halfOpenSuccess {
			return ErrOpen
		}
		b.halfOpenInFlight++
		return nil
	default:
		return ErrOpen
	}
}

// refreshLocked applies time-driven transitions. Must hold b.mu.
func (b *Breaker) refreshLocked() {
	if b.state == Open && b.clock.Since(b.lastTransition) >= b.resetTimeout {
		b.transitionLocked(HalfOpen)
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != HalfOpen {
		return
	}
	b.halfOpenInFlight--
	b.halfOpenSuccess++
	if b.halfOpenSuccess >= b.halfOpenSuccesses {
		b.failures = nil
		b.transitionLocked(Closed)
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()

	switch b.state {
	case Closed:
		b.failures = append(b.failures, now)
		b.pruneLocked(now)
		if len(b.failures) >= b.failureThreshold {
			b.transitionLocked(Open)
		}
	case HalfOpen:
		// A single probe failure reopens the circuit immediately.
		b.halfOpenInFlight--
		b.transitionLocked(Open)
	case Open:
		// Nothing to count; calls are not reaching the dependency.
	}
}

// pruneLocked drops failures older than the sliding window. Must hold b.mu.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.failureWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// transitionLocked moves to a new state and records it. Must hold b.mu.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastTransition = b.clock.Now()
	if to == HalfOpen {
		b.halfOpenSuccess = 0
		b.halfOpenInFlight = 0
	}
	metrics.UpdateBreakerState(b.name, int(to))
	metrics.RecordBreakerTransition(b.name, from.String(), to.String())
}
