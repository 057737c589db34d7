package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted          = errors.New("service not started")
	ErrResyncInProgress    = errors.New("resync already in progress")
	ErrUnknownBufferPolicy = errors.New("unknown resync buffer policy")
)
