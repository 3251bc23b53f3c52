package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/localtime"
	"github.com/example/resource-reservations/internal/persistence"
	"github.com/example/resource-reservations/internal/scheduler"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = field + ": " + v.FieldErrors[field]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error. The first message per field wins.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	if _, exists := v.FieldErrors[field]; exists {
		return
	}
	v.FieldErrors[field] = message
}

func newValidationError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.add(field, message)
	return v
}

// ConflictError reports that the requested window is taken. It is a normal
// outcome: callers get the blocking reservations, nearby free windows and
// the option to join the waitlist.
type ConflictError struct {
	ResourceID        string
	Requested         scheduler.Window
	Conflicts         []persistence.Reservation
	Alternatives      []scheduler.Window
	WaitlistAvailable bool
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("application: %s is not available for %s - %s (%d conflicting reservations)",
		e.ResourceID,
		e.Requested.Start.Format(time.RFC3339),
		e.Requested.End.Format(time.RFC3339),
		len(e.Conflicts))
}

// ContentionError is returned after bounded retries failed to obtain the
// resource lock. It is transient.
type ContentionError struct {
	ResourceID string
	Attempts   int
	Err        error
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("application: resource %s is busy after %d attempts", e.ResourceID, e.Attempts)
}

func (e *ContentionError) Unwrap() error {
	return e.Err
}

// Is makes every ContentionError match persistence.ErrContention.
func (e *ContentionError) Is(target error) bool {
	return target == persistence.ErrContention
}

// TimeZoneAnomalyError reports a local time that does not exist or is
// ambiguous in the resource's zone. Suggestions are ordered chronologically.
type TimeZoneAnomalyError struct {
	Field       string
	Kind        localtime.Kind
	Local       string
	Zone        string
	Suggestions []time.Time
}

func (e *TimeZoneAnomalyError) Error() string {
	return fmt.Sprintf("application: %s %s is %s in %s", e.Field, e.Local, e.Kind, e.Zone)
}

// mapStoreError normalises storage errors that escaped a transaction.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return newValidationError("id", "a record with this identity already exists")
	case errors.Is(err, persistence.ErrForeignKeyViolation):
		return newValidationError("resource_id", "referenced resource does not exist")
	case errors.Is(err, persistence.ErrConstraintViolation):
		return newValidationError("reservation", "the record violates a storage constraint")
	}
	return err
}

// isDomainError reports errors that are already part of the public taxonomy.
func isDomainError(err error) bool {
	var (
		vErr *ValidationError
		cErr *ConflictError
		kErr *ContentionError
		tErr *TimeZoneAnomalyError
	)
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) ||
		errors.As(err, &vErr) || errors.As(err, &cErr) || errors.As(err, &kErr) || errors.As(err, &tErr)
}

// lifecycleError converts state machine and timing rejections into validation errors.
func lifecycleError(err error) error {
	var tErr *lifecycle.TransitionError
	switch {
	case errors.As(err, &tErr):
		return newValidationError("status", fmt.Sprintf("cannot %s a reservation in status %s", strings.ReplaceAll(tErr.Event, "_", " "), tErr.From))
	case errors.Is(err, lifecycle.ErrModificationDeadline):
		return newValidationError("start", "changes are closed this close to the start time")
	case errors.Is(err, lifecycle.ErrCheckInTooEarly):
		return newValidationError("check_in", "check-in is not open yet")
	case errors.Is(err, lifecycle.ErrCheckInClosed):
		return newValidationError("check_in", "the reservation has already ended")
	}
	return err
}

// finish normalises an error leaving a service method.
func finish(err error) error {
	if err == nil || isDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return mapStoreError(err)
}
