package store

import "errors"

var (
	ErrNotFound = errors.New("record not found")

	// ErrCorruptData is returned when a persisted record fails to decode.
	// Callers treat it as absence and rebuild, never as a crash.
	ErrCorruptData = errors.New("corrupt persisted data")
)
