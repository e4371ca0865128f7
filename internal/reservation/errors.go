package reservation

import (
	"errors"
	"fmt"

	"courtslot/internal/reconcile"
)

var (
	// ErrInFlight rejects a second submit while a hold request is pending.
	ErrInFlight = errors.New("reservation already in progress")
	// ErrCheckFailed means the last-mile availability check could not run.
	ErrCheckFailed = errors.New("availability check failed")
	// ErrHoldDenied covers an explicit backend refusal and transport errors of the hold call.
	ErrHoldDenied = errors.New("hold request failed")
)

// ValidationError is returned before any network call for incomplete attempts.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ConflictError carries the conflict view of an aborted attempt.
type ConflictError struct {
	View reconcile.View
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%d selected slot(s) no longer available", len(e.View.Conflicts))
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
