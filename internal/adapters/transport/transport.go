// Package transport abstracts a partitioned, offset-addressable log.
// Implementations must deliver at least once, preserve publish order
// within a partition, and never advance offsets before Commit.
package transport

import (
	"context"
)

// Offset addresses one record in one partition of one topic. It is the
// handle workers commit after a terminal outcome.
type Offset struct {
	Topic     string
	Partition int32
	Index     int64
}

// Delivery is one claimed record plus the offset to commit for it. The
// transport carries opaque bytes; envelope decoding belongs to the
// consumer, since the dead letter topic carries a different record
// shape than the source topic.
type Delivery struct {
	Key    string
	Raw    []byte
	Offset Offset
}

// Reader yields deliveries from exactly one partition, in order, and
// commits offsets on behalf of its consumer group.
type Reader interface {
	// Next blocks until a record is available or ctx is done.
	Next(ctx context.Context) (Delivery, error)

	// Partition identifies the partition this reader drains.
	Partition() int32

	// Commit durably marks an offset processed for the reader's group.
	// Records at or before a committed offset are not redelivered to
	// that group. Offsets advance only on explicit commit.
	Commit(ctx context.Context, off Offset) error
}

// Transport is the pipeline's view of the partitioned log.
type Transport interface {
	// Publish appends a record; records sharing a key land in the same
	// partition and are delivered in publish order.
	Publish(ctx context.Context, topic, key string, value []byte) error

	// Subscribe joins a consumer group on a topic. Partition readers
	// are announced on the returned channel as they are assigned; the
	// channel closes once no further assignments will be made.
	Subscribe(ctx context.Context, topic, group string) (<-chan Reader, error)

	// Close releases transport resources.
	Close() error
}
