// Package faults defines the closed error taxonomy used to decide
// retry eligibility, and the classifier mapping raised faults onto it.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Kind is the closed set of processing error classes. Classification is
// a pure function of error identity, never of retry count.
type Kind uint8

const (
	// KindUnknown covers unrecognized faults; retried once
	// conservatively, then quarantined.
	KindUnknown Kind = iota

	// KindPermanent covers malformed input, schema violations and
	// unrecoverable business rejections; never retried.
	KindPermanent

	// KindTransient covers network faults, timeouts and temporary
	// unavailability; retried with backoff.
	KindTransient

	// KindResource covers local exhaustion (memory, disk, handles);
	// retried with a larger backoff multiplier.
	KindResource
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPermanent:
		return "PERMANENT"
	case KindTransient:
		return "TRANSIENT"
	case KindResource:
		return "RESOURCE"
	case KindUnknown:
		return "UNKNOWN"
	default:
		return "UNKNOWN"
	}
}

// ProcessingError tags an underlying fault with its class and an
// optional field path pointing at the offending payload location.
type ProcessingError struct {
	Kind  Kind
	Field string
	cause error
}

// New wraps err with an explicit kind.
func New(kind Kind, err error) *ProcessingError {
	return &ProcessingError{Kind: kind, cause: err}
}

// Permanent wraps err as a PERMANENT fault.
func Permanent(err error) *ProcessingError { return New(KindPermanent, err) }

// Transient wraps err as a TRANSIENT fault.
func Transient(err error) *ProcessingError { return New(KindTransient, err) }

// Resource wraps err as a RESOURCE fault.
func Resource(err error) *ProcessingError { return New(KindResource, err) }

// Permanentf builds a PERMANENT fault from a format string.
func Permanentf(format string, args ...any) *ProcessingError {
	return Permanent(fmt.Errorf(format, args...))
}

// WithField returns a copy carrying the offending field path.
func (e *ProcessingError) WithField(field string) *ProcessingError {
	c := *e
	c.Field = field
	return &c
}

func (e *ProcessingError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Field, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *ProcessingError) Unwrap() error { return e.cause }

// Sentinel faults raised by pipeline stages and collaborators. Keeping
// these here gives Classify a single identity table to match against.
var (
	// ErrMalformedPayload marks input that could not even be parsed.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrSchemaViolation marks a payload rejected by its contract.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrRejected marks an unrecoverable business-rule rejection from
	// the sink.
	ErrRejected = errors.New("rejected by sink")

	// ErrUnavailable marks a temporarily unreachable collaborator.
	ErrUnavailable = errors.New("dependency unavailable")

	// ErrExhausted marks local resource exhaustion.
	ErrExhausted = errors.New("resource exhausted")
)

// Classify maps a raised fault onto the taxonomy. Already-classified
// errors keep their kind; anything unmatched is UNKNOWN so novel
// failure modes are handled conservatively rather than spun on.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var perr *ProcessingError
	if errors.As(err, &perr) {
		return perr.Kind
	}

	switch {
	case errors.Is(err, ErrMalformedPayload),
		errors.Is(err, ErrSchemaViolation),
		errors.Is(err, ErrRejected):
		return KindPermanent

	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, os.ErrDeadlineExceeded):
		return KindTransient

	case errors.Is(err, ErrExhausted),
		errors.Is(err, syscall.ENOMEM),
		errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENFILE):
		return KindResource
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTransient
	}

	return KindUnknown
}

// Wrap classifies err and tags it in one step. Errors that already
// carry a kind pass through unchanged.
func Wrap(err error) *ProcessingError {
	var perr *ProcessingError
	if errors.As(err, &perr) {
		return perr
	}
	return New(Classify(err), err)
}
