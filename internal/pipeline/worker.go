// Package pipeline orchestrates event processing: each worker drains
// one partition, applying validation, the idempotency check, transform,
// breaker-guarded enrichment and the sink write before committing its
// offset. Failures route through classification into retry or the dead
// letter sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/okian/flume/internal/adapters/deadletter"
	"github.com/okian/flume/internal/adapters/idempotency"
	"github.com/okian/flume/internal/adapters/sink"
	"github.com/okian/flume/internal/adapters/transport"
	"github.com/okian/flume/internal/breaker"
	"github.com/okian/flume/internal/domain/faults"
	"github.com/okian/flume/internal/domain/model"
	"github.com/okian/flume/internal/domain/retry"
	"github.com/okian/flume/internal/domain/schema"
	"github.com/okian/flume/pkg/logger"
	"github.com/okian/flume/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultAttemptTimeout = 5 * time.Second
)

// Transform produces a new event value from a validated one. The input
// is never mutated in place.
type Transform func(ctx context.Context, e model.Event) (model.Event, error)

// Outcome is the terminal result of handling one delivery.
type Outcome uint8

const (
	// OutcomeProcessed means the sink observed the event.
	OutcomeProcessed Outcome = iota
	// OutcomeSkipped means the idempotency store already had the id.
	OutcomeSkipped
	// OutcomeQuarantined means the event went to the dead letter sink.
	OutcomeQuarantined
)

// Deps bundles the collaborators shared by all workers in a pool. The
// idempotency store and breaker are the only pieces of state shared
// across workers; everything else is per-event.
type Deps struct {
	Validator *schema.Validator
	Store     idempotency.Store
	Sink      sink.Sink
	DeadLine  deadletter.Sink
	Policy    retry.Policy

	// Optional stages.
	Transform Transform
	Enricher  sink.Enricher
	Breaker   *breaker.Breaker

	Clock          clockwork.Clock
	AttemptTimeout time.Duration
	Logger         logger.Logger
}

// Worker processes one partition sequentially, preserving publish
// order for events sharing a partition key.
type Worker struct {
	reader transport.Reader
	deps   Deps
	log    logger.Logger
	done   chan struct{}
}

// NewWorker creates a worker for one partition reader.
func NewWorker(reader transport.Reader, deps Deps) *Worker {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.AttemptTimeout <= 0 {
		deps.AttemptTimeout = defaultAttemptTimeout
	}
	log := deps.Logger
	if log == nil {
		log = logger.Get()
	}
	return &Worker{
		reader: reader,
		deps:   deps,
		log:    log.Named(fmt.Sprintf("worker-%d", reader.Partition())),
		done:   make(chan struct{}),
	}
}

// Run drains the partition until ctx is canceled or the transport
// closes. No failure inside a delivery ever stops the loop.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		d, err := w.reader.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, transport.ErrClosed) {
				w.log.Error(ctx, "reader stopped", logger.Error(err))
			}
			return
		}
		w.Handle(ctx, d)
	}
}

// Done is closed when the worker's loop has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Handle runs one delivery to a terminal outcome and commits its
// offset. The offset is committed only after the event is fully
// processed, skipped as a duplicate, or durably quarantined; a crash
// mid-processing therefore causes redelivery, never loss.
func (w *Worker) Handle(ctx context.Context, d transport.Delivery) (Outcome, error) {
	e, err := model.DecodeEvent(d.Raw)
	if err != nil {
		// The envelope itself is unusable; quarantine what we have.
		perr := faults.Permanent(fmt.Errorf("%w: %v", faults.ErrMalformedPayload, err))
		e = model.Event{Payload: d.Raw, PartitionKey: d.Key}
		return w.quarantine(ctx, e, d, []*faults.ProcessingError{perr}, 1, w.deps.Clock.Now())
	}
	e.SourceTopic = d.Offset.Topic

	normalized, failures := w.validate(ctx, e)
	if len(failures) > 0 {
		// Validation failures never leave the worker: PERMANENT, one
		// attempt, no sink call.
		return w.quarantine(ctx, e, d, failures, 1, w.deps.Clock.Now())
	}

	return w.process(ctx, normalized, d)
}

// validate applies the schema contract. On success it returns the
// event carrying the normalized payload; on failure it returns the
// PERMANENT fault history.
func (w *Worker) validate(ctx context.Context, e model.Event) (model.Event, []*faults.ProcessingError) {
	start := w.deps.Clock.Now()
	outcome, err := w.deps.Validator.Validate(ctx, e.Payload, e.SchemaVersion)
	metrics.RecordStageLatency("validate", float64(w.deps.Clock.Since(start).Milliseconds()))

	if err != nil {
		// Unknown or unresolvable schema version: the contract cannot
		// be satisfied, which is a data problem, not an infrastructure
		// one.
		return e, []*faults.ProcessingError{faults.Permanent(err)}
	}
	if !outcome.Valid {
		errs := make([]*faults.ProcessingError, 0, len(outcome.Errors))
		for _, fe := range outcome.Errors {
			perr := faults.Permanent(fmt.Errorf("%w: %s", faults.ErrSchemaViolation, fe.Message))
			if fe.Field != "" {
				perr = perr.WithField(fe.Field)
			}
			errs = append(errs, perr)
		}
		return e, errs
	}

	return e.WithPayload(outcome.Normalized), nil
}

// process drives the retry loop around attemptOnce until a terminal
// outcome is reached.
func (w *Worker) process(ctx context.Context, e model.Event, d transport.Delivery) (Outcome, error) {
	var (
		history       []*faults.ProcessingError
		firstFailedAt time.Time
		sched         backoff.BackOff
		schedKind     faults.Kind
		attempts      int
	)

	for {
		attempts++
		skipped, err := w.attemptOnce(ctx, e)
		if err == nil {
			if cerr := w.commit(ctx, d); cerr != nil {
				return 0, cerr
			}
			w.recordSuccess(e, skipped)
			if skipped {
				return OutcomeSkipped, nil
			}
			return OutcomeProcessed, nil
		}

		perr := w.classify(err)
		history = append(history, perr)
		if firstFailedAt.IsZero() {
			firstFailedAt = w.deps.Clock.Now()
		}
		metrics.RecordEventFailed(perr.Kind.String())
		w.log.Warn(ctx, "processing attempt failed",
			logger.String("eventID", e.ID),
			logger.Int("attempt", attempts),
			logger.String("kind", perr.Kind.String()),
			logger.Error(perr),
		)

		if !w.deps.Policy.Allows(perr.Kind, attempts) {
			return w.quarantine(ctx, e, d, history, attempts, firstFailedAt)
		}

		if sched == nil || schedKind != perr.Kind {
			sched = w.deps.Policy.Schedule(perr.Kind)
			schedKind = perr.Kind
		}
		metrics.RecordRetry(perr.Kind.String())
		if !w.sleep(ctx, sched.NextBackOff()) {
			// Shutdown mid-backoff: leave the offset uncommitted so the
			// event is redelivered.
			return 0, ctx.Err()
		}
	}
}

// attemptOnce runs a single bounded processing attempt: idempotency
// check, transform, breaker-guarded enrichment, sink write and the
// idempotency record. A panic anywhere inside is caught and surfaces
// as an UNKNOWN fault.
func (w *Worker) attemptOnce(ctx context.Context, e model.Event) (skipped bool, err error) {
	actx, cancel := context.WithTimeout(ctx, w.deps.AttemptTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = faults.New(faults.KindUnknown, fmt.Errorf("panic during processing: %v", r))
		}
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.RecordAttemptTimeout()
		}
	}()

	seen, err := w.stageSeen(actx, e)
	if err != nil {
		return false, err
	}
	if seen {
		return true, nil
	}

	if w.deps.Transform != nil {
		start := w.deps.Clock.Now()
		e, err = w.deps.Transform(actx, e)
		metrics.RecordStageLatency("transform", float64(w.deps.Clock.Since(start).Milliseconds()))
		if err != nil {
			return false, err
		}
	}

	if w.deps.Enricher != nil {
		if e, err = w.stageEnrich(actx, e); err != nil {
			return false, err
		}
	}

	start := w.deps.Clock.Now()
	err = w.deps.Sink.Write(actx, e)
	metrics.RecordStageLatency("sink", float64(w.deps.Clock.Since(start).Milliseconds()))
	if err != nil {
		return false, err
	}

	// The sink write succeeded; record the id before acknowledging. A
	// crash between these two steps causes a duplicate-but-idempotent
	// reprocessing on redelivery, not a double effect.
	start = w.deps.Clock.Now()
	_, err = w.deps.Store.PutIfAbsent(actx, e.ID, idempotency.Record{
		ProcessedAt:   w.deps.Clock.Now(),
		OutcomeDigest: e.OutcomeDigest(),
	})
	metrics.RecordStageLatency("record", float64(w.deps.Clock.Since(start).Milliseconds()))
	if err != nil {
		return false, err
	}
	return false, nil
}

// stageSeen consults the idempotency store.
func (w *Worker) stageSeen(ctx context.Context, e model.Event) (bool, error) {
	start := w.deps.Clock.Now()
	seen, err := w.deps.Store.Seen(ctx, e.ID)
	metrics.RecordStageLatency("idempotency", float64(w.deps.Clock.Since(start).Milliseconds()))
	if err != nil {
		return false, faults.Transient(fmt.Errorf("idempotency check: %w", err))
	}
	return seen, nil
}

// stageEnrich calls the downstream enricher through the breaker.
func (w *Worker) stageEnrich(ctx context.Context, e model.Event) (model.Event, error) {
	start := w.deps.Clock.Now()
	defer func() {
		metrics.RecordStageLatency("enrich", float64(w.deps.Clock.Since(start).Milliseconds()))
	}()

	call := func(ctx context.Context) error {
		enriched, err := w.deps.Enricher.Enrich(ctx, e)
		if err != nil {
			return err
		}
		e = enriched
		return nil
	}

	var err error
	if w.deps.Breaker != nil {
		err = w.deps.Breaker.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if errors.Is(err, breaker.ErrOpen) {
		// A tripped breaker is a temporarily unavailable dependency.
		return e, faults.Transient(err)
	}
	if err != nil {
		return e, err
	}
	return e, nil
}

// quarantine hands the event to the dead letter sink and commits on
// success. A failed quarantine leaves the offset uncommitted so the
// event is redelivered rather than lost.
func (w *Worker) quarantine(ctx context.Context, e model.Event, d transport.Delivery, history []*faults.ProcessingError, attempts int, firstFailedAt time.Time) (Outcome, error) {
	start := w.deps.Clock.Now()
	err := w.deps.DeadLine.Quarantine(ctx, e, history, attempts, firstFailedAt, d.Offset.Index)
	metrics.RecordStageLatency("quarantine", float64(w.deps.Clock.Since(start).Milliseconds()))
	if err != nil {
		w.log.Error(ctx, "quarantine failed, leaving offset uncommitted",
			logger.String("eventID", e.ID),
			logger.Error(err),
		)
		return 0, err
	}

	if cerr := w.commit(ctx, d); cerr != nil {
		return 0, cerr
	}
	w.log.Info(ctx, "event quarantined",
		logger.String("eventID", e.ID),
		logger.Int("attempts", attempts),
	)
	return OutcomeQuarantined, nil
}

// commit advances the group offset past this delivery.
func (w *Worker) commit(ctx context.Context, d transport.Delivery) error {
	start := w.deps.Clock.Now()
	err := w.reader.Commit(ctx, d.Offset)
	metrics.RecordStageLatency("commit", float64(w.deps.Clock.Since(start).Milliseconds()))
	if err != nil {
		w.log.Error(ctx, "offset commit failed",
			logger.Int64("offset", d.Offset.Index),
			logger.Error(err),
		)
		return fmt.Errorf("commit offset %d: %w", d.Offset.Index, err)
	}
	return nil
}

// classify wraps an attempt error in its taxonomy kind.
func (w *Worker) classify(err error) *faults.ProcessingError {
	return faults.Wrap(err)
}

// recordSuccess emits terminal-success metrics.
func (w *Worker) recordSuccess(e model.Event, skipped bool) {
	if skipped {
		metrics.RecordEventSkipped()
		return
	}
	metrics.RecordEventProcessed()
	if !e.ProducedAt.IsZero() {
		metrics.RecordEndToEndLatency(float64(w.deps.Clock.Since(e.ProducedAt).Milliseconds()))
	}
}

// sleep waits for the backoff delay, honoring cancellation. It reports
// false when ctx ended first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := w.deps.Clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}
