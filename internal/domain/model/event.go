// Package model contains domain models passed between layers.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Event is the unit of work flowing through the pipeline. Fields mirror
// the JSON envelope published by producing collaborators. An Event is
// immutable once published; transformations return new values.
type Event struct {
	// ID is an opaque unique identifier, used as the idempotency key.
	ID string `json:"id"`

	// SchemaVersion selects the contract the payload must satisfy.
	SchemaVersion string `json:"schemaVersion"`

	// Payload is an arbitrary JSON value, kept raw until validation.
	Payload json.RawMessage `json:"payload"`

	// ProducedAt is the producer-side timestamp.
	ProducedAt time.Time `json:"producedAt"`

	// PartitionKey determines partition affinity; events sharing a key
	// are processed in publish order.
	PartitionKey string `json:"partitionKey"`

	// SourceTopic records where the event was consumed from. Not part
	// of the wire envelope; set by the transport on delivery.
	SourceTopic string `json:"-"`
}

// WithPayload returns a copy of the event carrying a new payload.
func (e Event) WithPayload(payload json.RawMessage) Event {
	e.Payload = payload
	return e
}

// OutcomeDigest returns a stable digest of the event payload, recorded
// alongside the idempotency key so a replayed event can be told apart
// from an id collision.
func (e Event) OutcomeDigest() string {
	sum := sha256.Sum256(e.Payload)
	return hex.EncodeToString(sum[:8])
}

// EncodeEvent marshals an event into its wire envelope.
func EncodeEvent(e Event) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return raw, nil
}

// DecodeEvent unmarshals a wire envelope into an Event. An envelope
// without an id is rejected; everything else is left to the schema
// validator.
func DecodeEvent(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("decode event envelope: %w", err)
	}
	if e.ID == "" {
		return Event{}, fmt.Errorf("decode event envelope: missing id")
	}
	return e, nil
}
