// Package lifecycle holds the reservation and waitlist state machines and the
// timing rules that gate time-based transitions.
package lifecycle

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusNoShow    Status = "NO_SHOW"
	StatusCancelled Status = "CANCELLED"
)

// Blocking reports whether reservations in this status take part in conflict detection.
func (s Status) Blocking() bool {
	return s == StatusConfirmed || s == StatusActive
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusNoShow, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusActive, StatusCompleted, StatusNoShow, StatusCancelled:
		return true
	}
	return false
}

// BlockingStatuses lists the statuses that participate in conflict detection.
func BlockingStatuses() []Status {
	return []Status{StatusConfirmed, StatusActive}
}

// Event triggers a reservation transition.
type Event string

const (
	EventApprove       Event = "approve"
	EventReject        Event = "reject"
	EventCancel        Event = "cancel"
	EventCheckIn       Event = "check_in"
	EventCheckOut      Event = "check_out"
	EventComplete      Event = "complete"
	EventMarkNoShow    Event = "mark_no_show"
	EventExpirePending Event = "expire_pending"
)

// ErrInvalidTransition is matched by every TransitionError.
var ErrInvalidTransition = errors.New("lifecycle: invalid transition")

// TransitionError describes a rejected transition.
type TransitionError struct {
	From  string
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("lifecycle: cannot %s from %s", e.Event, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

var reservationTransitions = map[Status]map[Event]Status{
	StatusPending: {
		EventApprove:       StatusConfirmed,
		EventReject:        StatusCancelled,
		EventCancel:        StatusCancelled,
		EventExpirePending: StatusCancelled,
	},
	StatusConfirmed: {
		EventCancel:     StatusCancelled,
		EventCheckIn:    StatusActive,
		EventMarkNoShow: StatusNoShow,
	},
	StatusActive: {
		EventCheckOut: StatusCompleted,
		EventComplete: StatusCompleted,
	},
}

// Next returns the status reached by applying ev to from.
func Next(from Status, ev Event) (Status, error) {
	if to, ok := reservationTransitions[from][ev]; ok {
		return to, nil
	}
	return "", &TransitionError{From: string(from), Event: string(ev)}
}

// Modifiable reports whether the reservation's window and details may still change.
func Modifiable(s Status) bool {
	return s == StatusPending || s == StatusConfirmed
}
