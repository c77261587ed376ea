package transport

import "errors"

// Sentinel kinds for transport errors.
var (
	ErrClosed        = errors.New("transport closed")
	ErrUnknownOffset = errors.New("unknown offset")
)
