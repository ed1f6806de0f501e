package slate

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("slate: no store configured")
	ErrStoreClosed = errors.New("slate: store closed")

	// Not found errors.
	ErrRunNotFound  = errors.New("slate: run not found")
	ErrItemNotFound = errors.New("slate: item not found")
	ErrStepNotFound = errors.New("slate: step record not found")

	// Conflict errors.
	ErrAlreadyPublished = errors.New("slate: item already published")
	ErrItemConflict     = errors.New("slate: item publish conflict")
	ErrRunExists        = errors.New("slate: run already exists")

	// Credential errors.
	ErrNotConnected = errors.New("slate: publishing account not connected")

	// State errors.
	ErrInvalidState      = errors.New("slate: invalid run state transition")
	ErrRunTerminal       = errors.New("slate: run is in a terminal state")
	ErrAttemptsExhausted = errors.New("slate: publish attempts exhausted")

	// Validation errors.
	ErrContentTooShort = errors.New("slate: content below minimum length")
	ErrNoSchedule      = errors.New("slate: no schedule time and not marked share-now")
)
