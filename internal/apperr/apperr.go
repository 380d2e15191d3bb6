package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for infrastructure facts. Repositories return these
// (optionally wrapped) and handlers translate them into HTTP statuses.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrValidation   = errors.New("validation failed")
)

// ErasurePendingError is returned when an erasure request already exists.
// It matches ErrConflict.
type ErasurePendingError struct {
	EntryID    string
	PurgeAfter time.Time
}

func (e *ErasurePendingError) Error() string {
	return fmt.Sprintf("erasure already pending until %s", e.PurgeAfter.Format(time.RFC3339))
}

func (e *ErasurePendingError) Is(target error) bool {
	return target == ErrConflict
}

// Validation wraps a message so it matches ErrValidation.
func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
