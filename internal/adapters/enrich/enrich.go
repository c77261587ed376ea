// Package enrich provides the downstream enrichment dependency. The
// simulated implementation models an external service with latency and
// configurable failures, which is what the circuit breaker guards.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/okian/flume/internal/domain/faults"
	"github.com/okian/flume/internal/domain/model"
)

// Default enrichment configuration constants.
const (
	defaultMinLatency = 5 * time.Millisecond
	defaultMaxLatency = 20 * time.Millisecond
	defaultRandomSeed = 42
	defaultRegion     = "unassigned"
)

// Option applies a configuration option to the SimulatedEnricher.
type Option func(*SimulatedEnricher)

// WithLatencyRange sets the simulated latency range.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(e *SimulatedEnricher) {
		if minLatency > 0 && maxLatency > minLatency {
			e.minLatency = minLatency
			e.maxLatency = maxLatency
		}
	}
}

// WithFailureRatio sets the fraction of calls that fail as unavailable.
func WithFailureRatio(ratio float64) Option {
	return func(e *SimulatedEnricher) {
		if ratio >= 0 && ratio <= 1 {
			e.failureRatio = ratio
		}
	}
}

// WithRegion sets the region annotation stamped on enriched events.
func WithRegion(region string) Option {
	return func(e *SimulatedEnricher) {
		if region != "" {
			e.region = region
		}
	}
}

// WithClock sets the time source used for the enrichment timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *SimulatedEnricher) {
		if now != nil {
			e.now = now
		}
	}
}

// SimulatedEnricher annotates payloads the way a remote profile service
// would, with simulated latency and failures.
type SimulatedEnricher struct {
	minLatency   time.Duration
	maxLatency   time.Duration
	failureRatio float64
	region       string
	now          func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a simulated enricher with configuration options.
func New(opts ...Option) *SimulatedEnricher {
	e := &SimulatedEnricher{
		minLatency:   defaultMinLatency,
		maxLatency:   defaultMaxLatency,
		failureRatio: 0,
		region:       defaultRegion,
		now:          time.Now,
		rng:          rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic seed for reproducible testing
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Enrich annotates the payload with enrichment metadata. The payload
// must be a JSON object, which validation upstream guarantees.
func (e *SimulatedEnricher) Enrich(ctx context.Context, ev model.Event) (model.Event, error) {
	latency, fail := e.roll()

	select {
	case <-ctx.Done():
		return ev, fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-time.After(latency):
	}

	if fail {
		return ev, fmt.Errorf("enrichment service: %w", faults.ErrUnavailable)
	}

	var doc map[string]any
	if err := json.Unmarshal(ev.Payload, &doc); err != nil {
		return ev, fmt.Errorf("enrich payload: %w", err)
	}
	doc["enrichment"] = map[string]any{
		"region":     e.region,
		"enrichedAt": e.now().UTC().Format(time.RFC3339),
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return ev, fmt.Errorf("encode enriched payload: %w", err)
	}
	return ev.WithPayload(raw), nil
}

// roll draws the latency and failure outcome for one call.
func (e *SimulatedEnricher) roll() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	latency := e.minLatency
	if span := int64(e.maxLatency - e.minLatency); span > 0 {
		latency += time.Duration(e.rng.Int63n(span))
	}
	fail := e.failureRatio > 0 && e.rng.Float64() < e.failureRatio
	return latency, fail
}
