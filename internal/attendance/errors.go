package attendance

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrAlreadyClockedIn    = errors.New("already clocked in today")
	ErrAlreadyCompleted    = errors.New("shift already completed today")
	ErrNotClockedIn        = errors.New("not clocked in")
	ErrNotWorking          = errors.New("not currently working")
	ErrNotPaused           = errors.New("not currently paused")
	ErrInvalidMode         = errors.New("invalid attendance mode")
	ErrReasonRequired      = errors.New("a reason is required for remote attendance")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrOutsideGeofence     = errors.New("outside the office geofence")
	ErrStoreUnavailable    = errors.New("attendance store unavailable")
	ErrConflict            = errors.New("attendance record changed concurrently")
	ErrNotRemote           = errors.New("only remote attendance needs approval")
	ErrInvalidDecision     = errors.New("invalid approval decision")

	// Store contract errors.
	ErrRecordNotFound  = errors.New("attendance record not found")
	ErrDuplicateRecord = errors.New("attendance record already exists for work date")
)

// GeofenceError is returned when an onsite clock-in is outside the office
// radius.
type GeofenceError struct {
	Distance float64
	Radius   float64
}

func (e *GeofenceError) Error() string {
	return fmt.Sprintf("%v: %.0fm from office, allowed radius %.0fm", ErrOutsideGeofence, e.Distance, e.Radius)
}

func (e *GeofenceError) Is(target error) bool {
	return target == ErrOutsideGeofence
}

// StoreError wraps a failed ledger call. Its effects are assumed not to have
// happened.
type StoreError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *StoreError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func storeError(op string, err error) error {
	return &StoreError{
		Op:      op,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}

// UserMessage turns an engine error into text that can be shown to a worker.
func UserMessage(err error) string {
	var geoErr *GeofenceError
	var storeErr *StoreError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &geoErr):
		return fmt.Sprintf("You are %.0fm from your office. Onsite clock-in is only allowed within %.0fm.", geoErr.Distance, geoErr.Radius)
	case errors.Is(err, ErrLocationUnavailable):
		return "Your location could not be determined. Onsite clock-in needs a position."
	case errors.As(err, &storeErr) && storeErr.Timeout:
		return "The attendance service did not respond in time. Please try again."
	case errors.Is(err, ErrStoreUnavailable):
		return "The attendance service is unavailable. Please try again."
	case errors.Is(err, ErrConflict):
		return "Your attendance changed on another device. Status refreshed, please try again."
	case errors.Is(err, ErrAlreadyClockedIn):
		return "You are already clocked in today."
	case errors.Is(err, ErrAlreadyCompleted):
		return "Your shift for today is already completed."
	case errors.Is(err, ErrNotClockedIn):
		return "You are not clocked in."
	case errors.Is(err, ErrNotWorking):
		return "You can only pause while working."
	case errors.Is(err, ErrNotPaused):
		return "You are not on a break."
	case errors.Is(err, ErrReasonRequired):
		return "Please give a reason for working remotely."
	default:
		return err.Error()
	}
}
