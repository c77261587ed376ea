package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// ErrorEntry is one classified failure in a dead letter record's
// history, ordered by attempt.
type ErrorEntry struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// DeadLetterRecord is persisted when an event cannot be processed.
// Created exactly once per permanently failed event and never mutated
// afterwards; replay is an external, manually triggered operation.
type DeadLetterRecord struct {
	OriginalEvent Event `json:"originalEvent"`

	// RawPayload carries the payload bytes base64-encoded when they are
	// not valid JSON and cannot be embedded in the envelope verbatim. A
	// payload that never parsed is still data to preserve.
	RawPayload string `json:"rawPayload,omitempty"`

	Errors                []ErrorEntry `json:"errors"`
	AttemptCount          int          `json:"attemptCount"`
	FirstFailedAt         time.Time    `json:"firstFailedAt"`
	LastFailedAt          time.Time    `json:"lastFailedAt"`
	OriginPartitionOffset int64        `json:"originPartitionOffset"`
}

// EncodeDeadLetterRecord marshals a record into its wire form. A
// payload that is not valid JSON is moved into RawPayload so the
// record always serializes without losing the original bytes.
func EncodeDeadLetterRecord(r DeadLetterRecord) ([]byte, error) {
	if len(r.OriginalEvent.Payload) > 0 && !json.Valid(r.OriginalEvent.Payload) {
		r.RawPayload = base64.StdEncoding.EncodeToString(r.OriginalEvent.Payload)
		r.OriginalEvent.Payload = nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode dead letter record %s: %w", r.OriginalEvent.ID, err)
	}
	return raw, nil
}

// DecodeDeadLetterRecord unmarshals a wire record, restoring a payload
// preserved through RawPayload.
func DecodeDeadLetterRecord(raw []byte) (DeadLetterRecord, error) {
	var r DeadLetterRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return DeadLetterRecord{}, fmt.Errorf("decode dead letter record: %w", err)
	}
	if r.RawPayload != "" {
		payload, err := base64.StdEncoding.DecodeString(r.RawPayload)
		if err != nil {
			return DeadLetterRecord{}, fmt.Errorf("decode dead letter record: raw payload: %w", err)
		}
		r.OriginalEvent.Payload = payload
		r.RawPayload = ""
	}
	return r, nil
}
