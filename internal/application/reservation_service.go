package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/resource-reservations/internal/events"
	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
	"github.com/example/resource-reservations/internal/scheduler"
)

const maxCalendarRange = 31 * 24 * time.Hour

// ReservationService is the entry point for every booking operation.
type ReservationService struct {
	store     persistence.Store
	waitlist  *WaitlistManager
	cache     CalendarCache
	opts      Options
	validator *inputValidator
	recorder  recorder
	logger    *slog.Logger
}

// NewReservationService wires the service. cache may be nil.
func NewReservationService(store persistence.Store, waitlist *WaitlistManager, cache CalendarCache, opts Options) *ReservationService {
	opts = opts.withDefaults()
	if waitlist == nil {
		waitlist = NewWaitlistManager(store, opts)
	}
	return &ReservationService{
		store:     store,
		waitlist:  waitlist,
		cache:     cache,
		opts:      opts,
		validator: newInputValidator(),
		recorder:  recorder{opts: opts},
		logger:    opts.Logger,
	}
}

// PriorityBookResult reports the priority reservation and the reservations it displaced.
type PriorityBookResult struct {
	Reservation persistence.Reservation
	Displaced   []persistence.Reservation
}

func (s *ReservationService) now() time.Time {
	return normalize(s.opts.Now())
}

// CreateReservation books a window if nothing blocking overlaps it. The
// check and the insert happen in one resource transaction.
func (s *ReservationService) CreateReservation(ctx context.Context, params CreateReservationParams) (reservation persistence.Reservation, err error) {
	if s == nil {
		return persistence.Reservation{}, fmt.Errorf("ReservationService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "ReservationService", "CreateReservation",
		"principal_id", params.Principal.UserID, "resource_id", params.ResourceID)
	defer func() { logOutcome(ctx, logger, err, "reservation_id", reservation.ID) }()

	if params.Principal.UserID == "" {
		return persistence.Reservation{}, ErrUnauthorized
	}
	resource, start, end, err := s.prepareBooking(ctx, params.ResourceID, params.Start, params.End, params.Purpose, params.SpecialRequirements)
	if err != nil {
		return persistence.Reservation{}, err
	}

	status := lifecycle.StatusConfirmed
	topic := events.TopicReservationConfirmed
	if s.opts.RequireApproval && !params.Principal.IsAdmin() {
		status = lifecycle.StatusPending
		topic = events.TopicReservationPending
	}

	err = withRetry(ctx, s.opts.Retry, resource.ID, func() error {
		return s.store.WithResourceLock(ctx, resource.ID, func(ctx context.Context, tx persistence.Tx) error {
			now := s.now()
			window := scheduler.NewWindow(start, end)
			conflicts, err := tx.ListBlocking(ctx, resource.ID, start, end, "")
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				return s.conflictTx(ctx, tx, resource, window, conflicts, "", now, true)
			}

			reservation = persistence.Reservation{
				ID:                  s.opts.NewID(),
				ResourceID:          resource.ID,
				RequesterID:         params.Principal.UserID,
				Start:               start,
				End:                 end,
				Status:              status,
				Purpose:             strings.TrimSpace(params.Purpose),
				SpecialRequirements: params.SpecialRequirements,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if err := tx.InsertReservation(ctx, reservation); err != nil {
				return err
			}
			if err := s.recorder.record(ctx, tx, topic, reservation, "", params.Principal.UserID, "created", now); err != nil {
				return err
			}
			if status.Blocking() {
				return s.waitlist.markBookedTx(ctx, tx, reservation, now)
			}
			return nil
		})
	})
	if err != nil {
		return persistence.Reservation{}, finish(err)
	}
	invalidateCalendar(ctx, s.cache, resource.ID)
	return reservation, nil
}

// ModifyReservation changes the window or details of a PENDING or CONFIRMED
// reservation before the modification deadline. A new window is checked
// against every other blocking reservation; the parts of the old window it no
// longer covers are offered to the waitlist.
func (s *ReservationService) ModifyReservation(ctx context.Context, params ModifyReservationParams) (reservation persistence.Reservation, err error) {
	if s == nil {
		return persistence.Reservation{}, fmt.Errorf("ReservationService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "ReservationService", "ModifyReservation",
		"principal_id", params.Principal.UserID, "reservation_id", params.ReservationID)
	defer func() { logOutcome(ctx, logger, err) }()

	existing, err := s.store.GetReservation(ctx, params.ReservationID)
	if err != nil {
		return persistence.Reservation{}, finish(err)
	}
	if existing.RequesterID != params.Principal.UserID && !params.Principal.IsAdmin() {
		return persistence.Reservation{}, ErrUnauthorized
	}
	resource, err := s.store.GetResource(ctx, existing.ResourceID)
	if err != nil {
		return persistence.Reservation{}, finish(err)
	}

	start, end := existing.Start, existing.End
	if params.Start != nil {
		if start, err = resolveTime("start", *params.Start, resource.TimeZone); err != nil {
			return persistence.Reservation{}, err
		}
	}
	if params.End != nil {
		if end, err = resolveTime("end", *params.End, resource.TimeZone); err != nil {
			return persistence.Reservation{}, err
		}
	}
	purpose := existing.Purpose
	if params.Purpose != nil {
		purpose = strings.TrimSpace(*params.Purpose)
	}
	special := existing.SpecialRequirements
	if params.SpecialRequirements != nil {
		special = params.SpecialRequirements
	}

	vErr := &ValidationError{}
	s.validator.check(reservationInput{ResourceID: resource.ID, Purpose: purpose, SpecialRequirements: special}, vErr)
	windowChanged := !start.Equal(existing.Start) || !end.Equal(existing.End)
	if windowChanged {
		s.opts.checkWindow(resource, start, end, s.now(), vErr)
	}
	if vErr.HasErrors() {
		return persistence.Reservation{}, vErr
	}

	err = withRetry(ctx, s.opts.Retry, resource.ID, func() error {
		return s.store.WithResourceLock(ctx, resource.ID, func(ctx context.Context, tx persistence.Tx) error {
			now := s.now()
			current, err := tx.GetReservation(ctx, existing.ID)
			if err != nil {
				return err
			}
			if err := s.opts.Policy.CanModify(current.Status, current.Start, now); err != nil {
				return lifecycleError(err)
			}

			window := scheduler.NewWindow(start, end)
			if windowChanged {
				conflicts, err := tx.ListBlocking(ctx, resource.ID, start, end, current.ID)
				if err != nil {
					return err
				}
				if len(conflicts) > 0 {
					return s.conflictTx(ctx, tx, resource, window, conflicts, current.ID, now, true)
				}
			}

			reservation = current
			reservation.Start = start
			reservation.End = end
			reservation.Purpose = purpose
			reservation.SpecialRequirements = special
			reservation.UpdatedAt = now
			claimed, err := tx.UpdateReservation(ctx, reservation, current.Status)
			if err != nil {
				return err
			}
			if !claimed {
				return fmt.Errorf("reservation %s changed inside the resource lock", current.ID)
			}
			if err := s.recorder.record(ctx, tx, events.TopicReservationModified, reservation, current.Status, params.Principal.UserID, "modified", now); err != nil {
				return err
			}
			if !current.Status.Blocking() || !windowChanged {
				return nil
			}
			if err := s.waitlist.markBookedTx(ctx, tx, reservation, now); err != nil {
				return err
			}
			for _, freed := range windowOf(current).Subtract(window) {
				if _, err := s.waitlist.onSlotFreedTx(ctx, tx, resource.ID, remaining(freed, now), now); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return persistence.Reservation{}, finish(err)
	}
	invalidateCalendar(ctx, s.cache, resource.ID)
	return reservation, nil
}

// CancelReservation cancels a PENDING or CONFIRMED reservation. Checked-in
// reservations must be checked out instead.
func (s *ReservationService) CancelReservation(ctx context.Context, principal Principal, reservationID, reason string) (reservation persistence.Reservation, err error) {
	if s == nil {
		return persistence.Reservation{}, fmt.Errorf("ReservationService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "ReservationService", "CancelReservation",
		"principal_id", principal.UserID, "reservation_id", reservationID)
	defer func() { logOutcome(ctx, logger, err) }()

	existing, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return persistence.Reservation{}, finish(err)
	}
	if existing.RequesterID != principal.UserID && !principal.IsAdmin() {
		return persistence.Reservation{}, ErrUnauthorized
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled by requester"
		if existing.RequesterID != principal.UserID {
			reason = "cancelled by administrator"
		}
	}

	reservation, err = s.transition(ctx, existing, lifecycle.EventCancel, principal.UserID, reason, events.TopicReservationCancelled, nil)
	return reservation, err
}

// CheckIn starts a CONFIRMED reservation. Owners, administrators and check-in
// devices may signal arrival from CheckInLead before the start until the end.
func (s *ReservationService) CheckIn(ctx context.Context, principal Principal, reservationID string) (reservation persistence.Reservation, err error) {
	if s == nil {
		return persistence.Reservation{}, fmt.Errorf("ReservationService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "ReservationService", "CheckIn",
		"principal_id", principal.UserID, "reservation_id", reservationID)
	defer func() { logOutcome(ctx, logger, err) }()

	existing, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return persistence.Reservation{}, finish(err)
	}
	if !canSignal(principal, existing) {
		return persistence.Reservation{}, ErrUnauthorized
	}
	return s.transition(ctx, existing, lifecycle.EventCheckIn, principal.UserID, "checked in", events.TopicReservationCheckedIn,
		func(current persistence.Reservation, now time.Time) error {
			return lifecycleError(s.opts.Policy.CanCheckIn(current.Status, current.Start, current.End, now))
		})
}

// CheckOut completes an ACTIVE reservation. Leaving early hands the rest of
// the window to the waitlist.
func (s *ReservationService) CheckOut(ctx context.Context, principal Principal, reservationID string) (reservation persistence.Reservation, err error) {
	if s == nil {
		return persistence.Reservation{}, fmt.Errorf("ReservationService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "ReservationService", "CheckOut",
		"principal_id", principal.UserID, "reservation_id", reservationID)
	defer func() { logOutcome(ctx, logger, err) }()

	existing, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return persistence.Reservation{}, finish(err)
	}
	if !canSignal(principal, existing) {
		return persistence.Reservation{}, ErrUnauthorized
	}
	return s.transition(ctx, existing, lifecycle.EventCheckOut, principal.UserID, "checked out", events.TopicReservationCompleted, nil)
}

// ApproveReservation confirms a PENDING reservation. PENDING reservations do
// not block, so the window is checked again before confirming.
func (s *ReservationService) ApproveReservation(ctx context.Context, principal Principal, reservationID string) (reservation persistence.Reservation, err error) {
	if s == nil {
		return persistence.Reservation{}, fmt.Errorf("ReservationService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "ReservationService", "ApproveReservation",
		"principal_id", principal.UserID, "reservation_id", reservationID)
	defer func() { logOutcome(ctx, logger, err) }()

	if !principal.IsAdmin() {
		return persistence.Reservation{}, ErrUnauthorized
	}
	existing, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return persistence.Reservation{}, finish(err)
	}
	return s.transition(ctx, existing, lifecycle.EventApprove, principal.UserID, "approved", events.TopicReservationConfirmed, nil)
}

// RejectReservation cancels a PENDING reservation.
func (s *ReservationService) RejectReservation(ctx context.Context, principal Principal, reservationID, reason string) (reservation persistence.Reservation, err error) {
	if s == nil {
		return persistence.Reservation{}, fmt.Errorf("ReservationService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "ReservationService", "RejectReservation",
		"principal_id", principal.UserID, "reservation_id", reservationID)
	defer func() { logOutcome(ctx, logger, err) }()

	if !principal.IsAdmin() {
		return persistence.Reservation{}, ErrUnauthorized
	}
	existing, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return persistence.Reservation{}, finish(err)
	}
	if strings.TrimSpace(reason) == "" {
		reason = "rejected"
	}
	return s.transition(ctx, existing, lifecycle.EventReject, principal.UserID, reason, events.TopicReservationCancelled, nil)
}

// transition applies ev to the reservation under its resource lock, records
// the audit row and event, and runs the follow-up the new status implies.
func (s *ReservationService) transition(ctx context.Context, existing persistence.Reservation, ev lifecycle.Event, actorID, reason string, topic events.Topic, guard func(persistence.Reservation, time.Time) error) (persistence.Reservation, error) {
	var reservation persistence.Reservation
	err := withRetry(ctx, s.opts.Retry, existing.ResourceID, func() error {
		return s.store.WithResourceLock(ctx, existing.ResourceID, func(ctx context.Context, tx persistence.Tx) error {
			now := s.now()
			current, err := tx.GetReservation(ctx, existing.ID)
			if err != nil {
				return err
			}
			next, err := lifecycle.Next(current.Status, ev)
			if err != nil {
				if ev == lifecycle.EventCancel && current.Status == lifecycle.StatusActive {
					return newValidationError("status", "checked-in reservations must be checked out, not cancelled")
				}
				return lifecycleError(err)
			}
			if guard != nil {
				if err := guard(current, now); err != nil {
					return err
				}
			}

			switch ev {
			case lifecycle.EventApprove:
				if !current.Start.After(now) {
					return newValidationError("start", "the reservation has already started")
				}
				conflicts, err := tx.ListBlocking(ctx, current.ResourceID, current.Start, current.End, current.ID)
				if err != nil {
					return err
				}
				if len(conflicts) > 0 {
					resource, err := tx.GetResource(ctx, current.ResourceID)
					if err != nil {
						return err
					}
					return s.conflictTx(ctx, tx, resource, windowOf(current), conflicts, current.ID, now, false)
				}
			}

			reservation = current
			reservation.Status = next
			reservation.UpdatedAt = now
			switch ev {
			case lifecycle.EventCheckIn:
				reservation.CheckedInAt = &now
			case lifecycle.EventCheckOut:
				reservation.CheckedOutAt = &now
			}
			claimed, err := tx.UpdateReservation(ctx, reservation, current.Status)
			if err != nil {
				return err
			}
			if !claimed {
				return fmt.Errorf("reservation %s changed inside the resource lock", current.ID)
			}
			if err := s.recorder.record(ctx, tx, topic, reservation, current.Status, actorID, reason, now); err != nil {
				return err
			}

			switch {
			case ev == lifecycle.EventApprove:
				return s.waitlist.markBookedTx(ctx, tx, reservation, now)
			case current.Status.Blocking() && !reservation.Status.Blocking():
				freed := remaining(windowOf(current), now)
				_, err := s.waitlist.onSlotFreedTx(ctx, tx, current.ResourceID, freed, now)
				return err
			}
			return nil
		})
	})
	if err != nil {
		return persistence.Reservation{}, finish(err)
	}
	invalidateCalendar(ctx, s.cache, existing.ResourceID)
	return reservation, nil
}

// PriorityBook books a window for an administrator, cancelling every
// CONFIRMED reservation in the way first. Each displaced holder gets an audit
// row and a cancellation event, and the parts of their windows the priority
// booking leaves free are offered to the waitlist. Checked-in reservations
// are never displaced; they are reported as a conflict.
func (s *ReservationService) PriorityBook(ctx context.Context, params PriorityBookParams) (result PriorityBookResult, err error) {
	if s == nil {
		return PriorityBookResult{}, fmt.Errorf("ReservationService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "ReservationService", "PriorityBook",
		"principal_id", params.Principal.UserID, "resource_id", params.ResourceID)
	defer func() {
		logOutcome(ctx, logger, err, "reservation_id", result.Reservation.ID, "displaced", len(result.Displaced))
	}()

	if !params.Principal.IsAdmin() {
		return PriorityBookResult{}, ErrUnauthorized
	}
	resource, start, end, err := s.prepareBooking(ctx, params.ResourceID, params.Start, params.End, params.Purpose, params.SpecialRequirements)
	if err != nil {
		return PriorityBookResult{}, err
	}

	err = withRetry(ctx, s.opts.Retry, resource.ID, func() error {
		result = PriorityBookResult{}
		return s.store.WithResourceLock(ctx, resource.ID, func(ctx context.Context, tx persistence.Tx) error {
			now := s.now()
			window := scheduler.NewWindow(start, end)
			blocking, err := tx.ListBlocking(ctx, resource.ID, start, end, "")
			if err != nil {
				return err
			}
			var active []persistence.Reservation
			for _, r := range blocking {
				if r.Status == lifecycle.StatusActive {
					active = append(active, r)
				}
			}
			if len(active) > 0 {
				return s.conflictTx(ctx, tx, resource, window, active, "", now, false)
			}

			for _, displaced := range blocking {
				next, err := lifecycle.Next(displaced.Status, lifecycle.EventCancel)
				if err != nil {
					return err
				}
				cancelled := displaced
				cancelled.Status = next
				cancelled.UpdatedAt = now
				claimed, err := tx.UpdateReservation(ctx, cancelled, displaced.Status)
				if err != nil {
					return err
				}
				if !claimed {
					return fmt.Errorf("reservation %s changed inside the resource lock", displaced.ID)
				}
				if err := s.recorder.record(ctx, tx, events.TopicReservationCancelled, cancelled, displaced.Status,
					params.Principal.UserID, "displaced by priority reservation", now); err != nil {
					return err
				}
				result.Displaced = append(result.Displaced, cancelled)
			}

			reservation := persistence.Reservation{
				ID:                  s.opts.NewID(),
				ResourceID:          resource.ID,
				RequesterID:         params.Principal.UserID,
				Start:               start,
				End:                 end,
				Status:              lifecycle.StatusConfirmed,
				Purpose:             strings.TrimSpace(params.Purpose),
				SpecialRequirements: params.SpecialRequirements,
				Priority:            true,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if err := tx.InsertReservation(ctx, reservation); err != nil {
				return err
			}
			if err := s.recorder.record(ctx, tx, events.TopicReservationConfirmed, reservation, "",
				params.Principal.UserID, "priority booking", now); err != nil {
				return err
			}
			if err := s.waitlist.markBookedTx(ctx, tx, reservation, now); err != nil {
				return err
			}
			result.Reservation = reservation

			for _, displaced := range result.Displaced {
				for _, freed := range windowOf(displaced).Subtract(window) {
					if _, err := s.waitlist.onSlotFreedTx(ctx, tx, resource.ID, remaining(freed, now), now); err != nil {
						return err
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return PriorityBookResult{}, finish(err)
	}
	invalidateCalendar(ctx, s.cache, resource.ID)
	return result, nil
}

// CheckConflicts reports the blocking reservations overlapping a window and
// nearby alternatives. It reads outside the resource lock and is advisory.
func (s *ReservationService) CheckConflicts(ctx context.Context, principal Principal, resourceID string, startIn, endIn TimeInput, excludeID string) (ConflictReport, error) {
	if s == nil {
		return ConflictReport{}, fmt.Errorf("ReservationService is nil")
	}
	if principal.UserID == "" {
		return ConflictReport{}, ErrUnauthorized
	}
	resource, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return ConflictReport{}, finish(err)
	}
	start, end, err := resolveWindow(startIn, endIn, resource.TimeZone)
	if err != nil {
		return ConflictReport{}, err
	}
	if !start.Before(end) {
		return ConflictReport{}, newValidationError("end", "must be after start")
	}

	now := s.now()
	window := scheduler.NewWindow(start, end)
	bounds := s.searchBounds(resource, window, now)
	from, to := earliest(bounds.Start, start), latest(bounds.End, end)
	existing, err := s.store.ListReservations(ctx, persistence.ReservationFilter{
		ResourceID: resource.ID,
		Statuses:   lifecycle.BlockingStatuses(),
		From:       &from,
		To:         &to,
	})
	if err != nil {
		return ConflictReport{}, finish(err)
	}

	byID := make(map[string]persistence.Reservation, len(existing))
	others := make([]persistence.Reservation, 0, len(existing))
	for _, r := range existing {
		byID[r.ID] = r
		if r.ID != excludeID {
			others = append(others, r)
		}
	}
	bookings := bookingsOf(others)

	report := ConflictReport{ResourceID: resource.ID, Requested: window, Available: true}
	for _, booking := range scheduler.FindConflicts(bookings, window, "") {
		report.Conflicts = append(report.Conflicts, byID[booking.ID])
	}
	if len(report.Conflicts) > 0 {
		report.Available = false
		report.Alternatives = scheduler.SuggestAlternatives(bookings, window, bounds, s.opts.AlternativeCount)
	}
	return report, nil
}

// CheckAvailability answers whether a window can be booked right now.
func (s *ReservationService) CheckAvailability(ctx context.Context, principal Principal, resourceID string, start, end TimeInput) (ConflictReport, error) {
	return s.CheckConflicts(ctx, principal, resourceID, start, end, "")
}

// GetCalendar lists the busy and free windows of a resource over a range of
// at most 31 days. Results may come from the calendar cache.
func (s *ReservationService) GetCalendar(ctx context.Context, principal Principal, resourceID string, fromIn, toIn TimeInput) (Calendar, error) {
	if s == nil {
		return Calendar{}, fmt.Errorf("ReservationService is nil")
	}
	if principal.UserID == "" {
		return Calendar{}, ErrUnauthorized
	}
	resource, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return Calendar{}, finish(err)
	}
	from, err := resolveTime("from", fromIn, resource.TimeZone)
	if err != nil {
		return Calendar{}, err
	}
	to, err := resolveTime("to", toIn, resource.TimeZone)
	if err != nil {
		return Calendar{}, err
	}
	switch {
	case !from.Before(to):
		return Calendar{}, newValidationError("to", "must be after from")
	case to.Sub(from) > maxCalendarRange:
		return Calendar{}, newValidationError("to", "range must not exceed 31 days")
	}

	var slot string
	if s.cache != nil {
		calendar, resolved, ok := s.cache.Get(ctx, CalendarKey{ResourceID: resource.ID, From: from, To: to})
		if ok {
			return calendar, nil
		}
		slot = resolved
	}

	busy, err := s.store.ListReservations(ctx, persistence.ReservationFilter{
		ResourceID: resource.ID,
		Statuses:   lifecycle.BlockingStatuses(),
		From:       &from,
		To:         &to,
	})
	if err != nil {
		return Calendar{}, finish(err)
	}
	calendar := Calendar{
		ResourceID: resource.ID,
		TimeZone:   resource.TimeZone,
		Range:      scheduler.NewWindow(from, to),
	}
	for _, r := range busy {
		calendar.Busy = append(calendar.Busy, BusySlot{
			ReservationID: r.ID,
			Window:        windowOf(r),
			Status:        r.Status,
			Priority:      r.Priority,
		})
	}
	calendar.Free = scheduler.FreeGaps(bookingsOf(busy), calendar.Range)

	if s.cache != nil {
		s.cache.Set(ctx, slot, calendar)
	}
	return calendar, nil
}

// GetReservation returns a reservation visible to the caller.
func (s *ReservationService) GetReservation(ctx context.Context, principal Principal, reservationID string) (persistence.Reservation, error) {
	if s == nil {
		return persistence.Reservation{}, fmt.Errorf("ReservationService is nil")
	}
	reservation, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return persistence.Reservation{}, finish(err)
	}
	if !canSignal(principal, reservation) {
		return persistence.Reservation{}, ErrUnauthorized
	}
	return reservation, nil
}

// ListMyReservations returns the caller's reservations ordered by start.
func (s *ReservationService) ListMyReservations(ctx context.Context, params ListReservationsParams) ([]persistence.Reservation, error) {
	if s == nil {
		return nil, fmt.Errorf("ReservationService is nil")
	}
	if params.Principal.UserID == "" {
		return nil, ErrUnauthorized
	}
	for _, status := range params.Statuses {
		if !status.Valid() {
			return nil, newValidationError("status", fmt.Sprintf("unknown status %q", status))
		}
	}
	if params.From != nil && params.To != nil && !params.From.Before(*params.To) {
		return nil, newValidationError("to", "must be after from")
	}
	reservations, err := s.store.ListReservations(ctx, persistence.ReservationFilter{
		RequesterID: params.Principal.UserID,
		Statuses:    params.Statuses,
		From:        params.From,
		To:          params.To,
		Limit:       params.Limit,
	})
	if err != nil {
		return nil, finish(err)
	}
	return reservations, nil
}

// ListTransitions returns the audit trail of a reservation, oldest first.
func (s *ReservationService) ListTransitions(ctx context.Context, principal Principal, reservationID string) ([]persistence.Transition, error) {
	if _, err := s.GetReservation(ctx, principal, reservationID); err != nil {
		return nil, err
	}
	transitions, err := s.store.ListTransitions(ctx, reservationID)
	if err != nil {
		return nil, finish(err)
	}
	return transitions, nil
}

// ListResources returns the resource catalog.
func (s *ReservationService) ListResources(ctx context.Context) ([]persistence.Resource, error) {
	if s == nil {
		return nil, fmt.Errorf("ReservationService is nil")
	}
	resources, err := s.store.ListResources(ctx)
	if err != nil {
		return nil, finish(err)
	}
	return resources, nil
}

// prepareBooking loads the resource and validates a new booking's input.
func (s *ReservationService) prepareBooking(ctx context.Context, resourceID string, startIn, endIn TimeInput, purpose string, special *string) (persistence.Resource, time.Time, time.Time, error) {
	vErr := &ValidationError{}
	s.validator.check(reservationInput{
		ResourceID:          resourceID,
		Purpose:             strings.TrimSpace(purpose),
		SpecialRequirements: special,
	}, vErr)
	if _, ok := vErr.FieldErrors["resource_id"]; ok {
		return persistence.Resource{}, time.Time{}, time.Time{}, vErr
	}

	resource, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return persistence.Resource{}, time.Time{}, time.Time{}, finish(err)
	}
	if !resource.Bookable {
		vErr.add("resource_id", "resource is not bookable")
		return persistence.Resource{}, time.Time{}, time.Time{}, vErr
	}

	start, end, err := resolveWindow(startIn, endIn, resource.TimeZone)
	if err != nil {
		return persistence.Resource{}, time.Time{}, time.Time{}, err
	}
	s.opts.checkWindow(resource, start, end, s.now(), vErr)
	if vErr.HasErrors() {
		return persistence.Resource{}, time.Time{}, time.Time{}, vErr
	}
	return resource, start, end, nil
}

// conflictTx builds the ConflictError for a rejected window, with
// alternatives computed from the same transaction's view of the timeline.
func (s *ReservationService) conflictTx(ctx context.Context, tx persistence.Tx, resource persistence.Resource, window scheduler.Window, conflicts []persistence.Reservation, excludeID string, now time.Time, waitlist bool) error {
	bounds := s.searchBounds(resource, window, now)
	var alternatives []scheduler.Window
	if bounds.Valid() {
		existing, err := tx.ListBlocking(ctx, resource.ID, bounds.Start, bounds.End, excludeID)
		if err != nil {
			return err
		}
		alternatives = scheduler.SuggestAlternatives(bookingsOf(existing), window, bounds, s.opts.AlternativeCount)
	}
	return &ConflictError{
		ResourceID:        resource.ID,
		Requested:         window,
		Conflicts:         conflicts,
		Alternatives:      alternatives,
		WaitlistAvailable: waitlist && window.Start.After(now),
	}
}

// searchBounds is the range alternatives are proposed from: the requested
// window widened by AlternativeHorizon on both sides, starting no earlier than
// the next whole minute and ending where the latest bookable start allows.
func (s *ReservationService) searchBounds(resource persistence.Resource, window scheduler.Window, now time.Time) scheduler.Window {
	maxAdvance, _, _ := s.opts.bounds(resource)
	lower := window.Start.Add(-s.opts.AlternativeHorizon)
	if floor := now.Truncate(time.Minute).Add(time.Minute); lower.Before(floor) {
		lower = floor
	}
	upper := window.End.Add(s.opts.AlternativeHorizon)
	if ceiling := now.Add(maxAdvance).Add(window.Duration()); upper.After(ceiling) {
		upper = ceiling
	}
	return scheduler.NewWindow(lower, upper)
}

func resolveWindow(startIn, endIn TimeInput, zone string) (time.Time, time.Time, error) {
	start, err := resolveTime("start", startIn, zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := resolveTime("end", endIn, zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// canSignal reports whether the principal may see or drive the reservation.
func canSignal(principal Principal, reservation persistence.Reservation) bool {
	if principal.UserID == "" {
		return false
	}
	return principal.IsAdmin() || principal.IsDevice() || reservation.RequesterID == principal.UserID
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
