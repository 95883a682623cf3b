package shared

import "errors"

var (
	// ErrInvalidInput indicates a request failed validation. Jobs drop the
	// task instead of retrying it.
	ErrInvalidInput = errors.New("invalid input")
	// ErrIdempotencyConflict indicates the key was already processed.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
)
