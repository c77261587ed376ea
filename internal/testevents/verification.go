package testevents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/okian/flume/pkg/logger"
)

// verifyResults fetches /stats and checks pipeline outcomes against the
// generated mix. The checks are coarse on purpose: exact counters live
// in Prometheus, and the service may be carrying state from earlier
// runs.
func verifyResults(ctx context.Context, config *Config, events []Event, stats *Stats) error {
	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/stats"

	resp, err := client.Get(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to fetch stats: %w", err)
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	if resp.StatusCode != StatusOK {
		return fmt.Errorf("stats fetch failed with status: %d", resp.StatusCode)
	}

	var svc ServiceStats
	if err := json.Unmarshal(body, &svc); err != nil {
		return fmt.Errorf("failed to parse stats: %w", err)
	}

	var invalid, duplicates, valid int
	for _, e := range events {
		switch {
		case e.Invalid:
			invalid++
		case e.Duplicate:
			duplicates++
		default:
			valid++
		}
	}

	logger.Get().Info(ctx, "pipeline outcomes",
		logger.Int("validSubmitted", valid),
		logger.Int("invalidSubmitted", invalid),
		logger.Int("duplicatesSubmitted", duplicates),
		logger.Int64("deadLetterDepth", svc.DeadLetterDepth),
		logger.Int64("idempotencyRecords", svc.IdempotencyRecords),
		logger.String("breakerState", svc.BreakerState),
	)

	if !svc.Started {
		return fmt.Errorf("service reports not started")
	}
	if svc.DeadLetterDepth < int64(invalid) {
		return fmt.Errorf("dead letter depth %d below invalid count %d; pipeline may still be draining",
			svc.DeadLetterDepth, invalid)
	}
	if svc.IdempotencyRecords < int64(valid) {
		return fmt.Errorf("idempotency records %d below valid count %d; pipeline may still be draining",
			svc.IdempotencyRecords, valid)
	}

	logger.Get().Info(ctx, "verification passed")
	return nil
}

// marshalEvent serializes one envelope for the output file.
func marshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
