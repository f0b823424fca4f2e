package repository

import "errors"

var (
	// ErrRunNotFound means no harvest run has the requested ID
	ErrRunNotFound = errors.New("harvest run not found")

	// ErrInvalidTransition means a run is not in the status an update requires
	ErrInvalidTransition = errors.New("invalid harvest run status transition")
)
