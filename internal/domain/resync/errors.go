package resync

import "errors"

// Sentinel kinds for resync errors.
var (
	ErrHistory       = errors.New("history fetch failed")
	ErrStalledCursor = errors.New("history cursor did not advance")
)
