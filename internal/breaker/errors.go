package breaker

import "errors"

// Sentinel kinds for breaker errors.
var (
	// ErrOpen is returned synthetically while the circuit is open,
	// without touching the downstream dependency.
	ErrOpen = errors.New("circuit open")
)
