package testevents

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/okian/flume/pkg/logger"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
	actionTypeDivisor  = 3
	invalidKindDivisor = 3
)

// Constants for invalid payload cases.
const (
	caseMissingRequired = 0
	caseWrongType       = 1
	caseExtraProperty   = 2
)

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// generateEvents creates the configured mix of valid, invalid and
// duplicate envelopes. Duplicates reuse the id of an earlier valid
// event so the pipeline's idempotency path is exercised.
func generateEvents(ctx context.Context, config *Config, stats *Stats) ([]Event, error) {
	logger.Get().Info(ctx, "generating events",
		logger.Int("numEvents", config.NumEvents),
		logger.Float64("invalidRatio", config.InvalidRatio),
		logger.Float64("duplicateRatio", config.DuplicateRatio),
	)

	events := make([]Event, 0, config.NumEvents)
	var validIDs []string

	for i := 0; i < config.NumEvents; i++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during event generation: %w", ctx.Err())
		default:
		}

		roll := getRandomFloat()
		switch {
		case roll < config.DuplicateRatio && len(validIDs) > 0:
			pick, _ := rand.Int(rand.Reader, big.NewInt(int64(len(validIDs))))
			dup := generateValidEvent()
			dup.ID = validIDs[pick.Int64()]
			dup.Duplicate = true
			events = append(events, dup)
		case roll < config.DuplicateRatio+config.InvalidRatio:
			events = append(events, generateInvalidEvent())
		default:
			e := generateValidEvent()
			validIDs = append(validIDs, e.ID)
			events = append(events, e)
		}
	}

	stats.EventsGenerated = len(events)
	logger.Get().Info(ctx, "generated events successfully", logger.Int("count", len(events)))

	return events, nil
}

// generateValidEvent creates an envelope whose payload satisfies the
// contract.
func generateValidEvent() Event {
	userID := uuid.New().String()
	payload := fmt.Sprintf(`{"userID":%q,"action":%q,"amount":%.2f,"email":"%s@example.com"}`,
		userID, randomAction(), getRandomFloat()*100, userID[:8])

	return Event{
		ID:            uuid.New().String(),
		SchemaVersion: SchemaVersion,
		Payload:       []byte(payload),
		ProducedAt:    time.Now().UTC().Format(time.RFC3339),
		PartitionKey:  userID,
	}
}

// generateInvalidEvent creates an envelope whose payload violates the
// contract in one of several ways.
func generateInvalidEvent() Event {
	userID := uuid.New().String()
	kind, _ := rand.Int(rand.Reader, big.NewInt(invalidKindDivisor))

	var payload string
	switch kind.Int64() {
	case caseMissingRequired:
		payload = fmt.Sprintf(`{"userID":%q,"action":%q}`, userID, randomAction())
	case caseWrongType:
		payload = fmt.Sprintf(`{"userID":%q,"action":%q,"amount":"a lot"}`, userID, randomAction())
	case caseExtraProperty:
		payload = fmt.Sprintf(`{"userID":%q,"action":%q,"amount":1.5,"debug":true}`, userID, randomAction())
	default:
		payload = `{}`
	}

	return Event{
		ID:            uuid.New().String(),
		SchemaVersion: SchemaVersion,
		Payload:       []byte(payload),
		ProducedAt:    time.Now().UTC().Format(time.RFC3339),
		PartitionKey:  userID,
		Invalid:       true,
	}
}

// randomAction picks one of the contract's allowed actions.
func randomAction() string {
	n, _ := rand.Int(rand.Reader, big.NewInt(actionTypeDivisor))
	switch n.Int64() {
	case 0:
		return "signup"
	case 1:
		return "purchase"
	default:
		return "refund"
	}
}
