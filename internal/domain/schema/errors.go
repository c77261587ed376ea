package schema

import "errors"

// Sentinel kinds for schema errors.
var (
	ErrUnknownVersion = errors.New("unknown schema version")
)
