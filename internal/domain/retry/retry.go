// Package retry computes bounded, jittered backoff schedules for
// failed processing attempts.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/flume/internal/domain/faults"
)

// Default policy values, matching the recognized configuration surface.
const (
	DefaultMaxRetries         = 5
	DefaultBaseBackoff        = 1 * time.Second
	DefaultMaxBackoff         = 30 * time.Second
	DefaultJitterRatio        = 0.2
	defaultResourceMultiplier = 3.0
	transientMultiplier       = 2.0
)

// Policy bounds retry attempts and produces delay schedules.
//
// The schedule follows min(base * m^attempt, max) * (1 ± jitter), with
// m = 2 for TRANSIENT faults and a larger multiplier for RESOURCE
// faults so local exhaustion gets room to recover.
type Policy struct {
	MaxRetries         int
	Base               time.Duration
	Max                time.Duration
	JitterRatio        float64
	ResourceMultiplier float64
}

// Option applies a configuration option to the Policy.
type Option func(*Policy)

// WithMaxRetries bounds retry attempts for retryable kinds.
func WithMaxRetries(n int) Option {
	return func(p *Policy) {
		if n >= 0 {
			p.MaxRetries = n
		}
	}
}

// WithBackoffBounds sets the base and cap of the delay schedule.
func WithBackoffBounds(base, max time.Duration) Option {
	return func(p *Policy) {
		if base > 0 {
			p.Base = base
		}
		if max > 0 {
			p.Max = max
		}
	}
}

// WithJitterRatio sets the symmetric jitter applied to each delay.
func WithJitterRatio(ratio float64) Option {
	return func(p *Policy) {
		if ratio >= 0 && ratio < 1 {
			p.JitterRatio = ratio
		}
	}
}

// NewPolicy creates a Policy with defaults.
func NewPolicy(opts ...Option) Policy {
	p := Policy{
		MaxRetries:         DefaultMaxRetries,
		Base:               DefaultBaseBackoff,
		Max:                DefaultMaxBackoff,
		JitterRatio:        DefaultJitterRatio,
		ResourceMultiplier: defaultResourceMultiplier,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Allows reports whether another attempt is permitted after `attempts`
// completed attempts failed with the given kind.
//
// PERMANENT faults never retry. TRANSIENT and RESOURCE faults retry up
// to MaxRetries. UNKNOWN faults retry exactly once: novel failure modes
// must not spin indefinitely.
func (p Policy) Allows(kind faults.Kind, attempts int) bool {
	switch kind {
	case faults.KindPermanent:
		return false
	case faults.KindTransient, faults.KindResource:
		return attempts <= p.MaxRetries
	case faults.KindUnknown:
		return attempts <= 1
	default:
		return false
	}
}

// Schedule returns a fresh backoff sequence for one event's retry loop.
// The caller draws one delay per failed attempt via NextBackOff.
func (p Policy) Schedule(kind faults.Kind) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Base
	eb.MaxInterval = p.Max
	eb.RandomizationFactor = p.JitterRatio
	eb.Multiplier = transientMultiplier
	if kind == faults.KindResource {
		eb.Multiplier = p.ResourceMultiplier
	}
	// Attempt bounds are enforced by Allows, not by elapsed time.
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}
