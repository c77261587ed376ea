package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrPublish          = errors.New("publish failed")
	ErrBadSchemaVersion = errors.New("bad schema version")
)
