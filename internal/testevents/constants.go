package testevents

import "time"

// Timing and verification constants.
const (
	StatusOK             = 200
	StatusAccepted       = 202
	ProcessingDelay      = 3 * time.Second
	PercentageMultiplier = 100.0
)
