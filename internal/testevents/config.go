package testevents

import (
	"encoding/json"
	"time"
)

// Config holds configuration for the pipeline load test.
type Config struct {
	BaseURL        string        // Base URL of the service
	NumEvents      int           // Number of events to generate
	InvalidRatio   float64       // Fraction of events violating the contract
	DuplicateRatio float64       // Fraction of events resubmitted with a seen id
	Workers        int           // Number of concurrent workers
	Timeout        time.Duration // HTTP request timeout
	OutputFile     string        // Output file for events
	LogFile        string        // Log file for test output
	Verbose        bool          // Enable verbose logging
}

// Event is the wire envelope submitted to POST /events.
type Event struct {
	ID            string          `json:"id"`
	SchemaVersion string          `json:"schemaVersion"`
	Payload       json.RawMessage `json:"payload"`
	ProducedAt    string          `json:"producedAt"`
	PartitionKey  string          `json:"partitionKey"`

	// Invalid marks envelopes generated to violate the contract; it is
	// bookkeeping for verification, not part of the wire shape.
	Invalid bool `json:"-"`
	// Duplicate marks envelopes that reuse an already-submitted id.
	Duplicate bool `json:"-"`
}

// AckResponse represents the response from event submission.
type AckResponse struct {
	Status string `json:"status"`
}

// ServiceStats mirrors the subset of GET /stats the test verifies.
type ServiceStats struct {
	Started            bool   `json:"started"`
	Workers            int    `json:"workers"`
	DeadLetterDepth    int64  `json:"deadLetterDepth"`
	IdempotencyRecords int64  `json:"idempotencyRecords"`
	BreakerState       string `json:"breakerState"`
}

// Stats holds test statistics.
type Stats struct {
	EventsGenerated int
	EventsSubmitted int
	EventsAccepted  int
	EventsRejected  int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
