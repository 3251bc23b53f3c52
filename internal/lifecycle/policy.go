package lifecycle

import (
	"errors"
	"time"
)

var (
	// ErrModificationDeadline is returned when a change is requested too close to the start.
	ErrModificationDeadline = errors.New("lifecycle: modification deadline has passed")
	// ErrCheckInTooEarly is returned when check-in happens before the allowed lead time.
	ErrCheckInTooEarly = errors.New("lifecycle: check-in window has not opened")
	// ErrCheckInClosed is returned when check-in happens after the reservation ended.
	ErrCheckInClosed = errors.New("lifecycle: reservation has already ended")
)

// Policy carries the timing rules for time-gated transitions.
type Policy struct {
	ModificationDeadline time.Duration
	CheckInLead          time.Duration
	NoShowGrace          time.Duration
	NotifyWindow         time.Duration
}

// DefaultPolicy returns the standard timing rules.
func DefaultPolicy() Policy {
	return Policy{
		ModificationDeadline: 24 * time.Hour,
		CheckInLead:          15 * time.Minute,
		NoShowGrace:          30 * time.Minute,
		NotifyWindow:         2 * time.Hour,
	}
}

// CanModify checks status and the modification deadline relative to the current start.
func (p Policy) CanModify(status Status, start, now time.Time) error {
	if !Modifiable(status) {
		return &TransitionError{From: string(status), Event: "modify"}
	}
	if !now.Add(p.ModificationDeadline).Before(start) {
		return ErrModificationDeadline
	}
	return nil
}

// CanCheckIn checks status and that now lies in [start-CheckInLead, end).
func (p Policy) CanCheckIn(status Status, start, end, now time.Time) error {
	if _, err := Next(status, EventCheckIn); err != nil {
		return err
	}
	if now.Before(start.Add(-p.CheckInLead)) {
		return ErrCheckInTooEarly
	}
	if !now.Before(end) {
		return ErrCheckInClosed
	}
	return nil
}

// NoShowCutoff returns the start time before which an unattended confirmed
// reservation counts as a no-show.
func (p Policy) NoShowCutoff(now time.Time) time.Time {
	return now.Add(-p.NoShowGrace)
}

// NoShowDue reports whether a reservation should be swept to NO_SHOW.
func (p Policy) NoShowDue(status Status, start time.Time, checkedIn bool, now time.Time) bool {
	return status == StatusConfirmed && !checkedIn && start.Before(p.NoShowCutoff(now))
}
