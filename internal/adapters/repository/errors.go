package repository

import "errors"

// Sentinel kinds for counter store errors.
var (
	ErrPersist        = errors.New("counter state not persisted")
	ErrInvalidRecord  = errors.New("invalid counter record")
	ErrCorruptState   = errors.New("stored counter state is corrupt")
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrClosed         = errors.New("counter store closed")
)
