// Package idempotency records which event ids have been fully
// processed, closing the duplicate-effect gap left by at-least-once
// delivery. Presence of a record means the event must not be
// reprocessed; absence proves nothing.
package idempotency

import (
	"context"
	"time"
)

// DefaultTTL bounds record lifetime; replay windows beyond it are
// assumed closed.
const DefaultTTL = 24 * time.Hour

// Record is the value stored per processed event id.
type Record struct {
	ProcessedAt   time.Time `json:"processedAt"`
	OutcomeDigest string    `json:"outcomeDigest"`
}

// Store is a TTL-bounded key-value store of processed event ids. It is
// shared by all workers, so implementations must be safe for
// concurrent use.
type Store interface {
	// Seen reports whether id has a live record.
	Seen(ctx context.Context, id string) (bool, error)

	// PutIfAbsent records id atomically. It reports false when a live
	// record already existed, in which case the stored record wins.
	PutIfAbsent(ctx context.Context, id string, rec Record) (bool, error)

	// Forget drops the record for id, permitting reprocessing. Used
	// only by operational replay tooling.
	Forget(ctx context.Context, id string) error

	// Size returns the number of live records.
	Size(ctx context.Context) (int64, error)
}
