package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/example/resource-reservations/internal/events"
	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
	"github.com/example/resource-reservations/internal/scheduler"
)

// WaitlistManager keeps the per-resource FIFO queues of requests for
// unavailable windows.
type WaitlistManager struct {
	store    persistence.Store
	opts     Options
	recorder recorder
	logger   *slog.Logger
}

// WaitlistSweepReport summarises one SweepExpired pass.
type WaitlistSweepReport struct {
	Expired  int
	Notified int
	Failed   int
}

// NewWaitlistManager wires the queue manager to the store.
func NewWaitlistManager(store persistence.Store, opts Options) *WaitlistManager {
	opts = opts.withDefaults()
	return &WaitlistManager{
		store:    store,
		opts:     opts,
		recorder: recorder{opts: opts},
		logger:   opts.Logger,
	}
}

func (m *WaitlistManager) now() time.Time {
	return normalize(m.opts.Now())
}

// Join queues the caller for a window that is currently taken. The entry
// receives the next position on the resource.
func (m *WaitlistManager) Join(ctx context.Context, params JoinWaitlistParams) (entry persistence.WaitlistEntry, err error) {
	if m == nil {
		return persistence.WaitlistEntry{}, fmt.Errorf("WaitlistManager is nil")
	}
	logger := serviceLogger(ctx, m.logger, "WaitlistManager", "Join",
		"principal_id", params.Principal.UserID, "resource_id", params.ResourceID)
	defer func() { logOutcome(ctx, logger, err, "entry_id", entry.ID, "position", entry.Position) }()

	if params.Principal.UserID == "" {
		return persistence.WaitlistEntry{}, ErrUnauthorized
	}
	resource, err := m.store.GetResource(ctx, params.ResourceID)
	if err != nil {
		return persistence.WaitlistEntry{}, finish(err)
	}
	if !resource.Bookable {
		return persistence.WaitlistEntry{}, newValidationError("resource_id", "resource is not bookable")
	}

	start, end, err := resolveWindow(params.Start, params.End, resource.TimeZone)
	if err != nil {
		return persistence.WaitlistEntry{}, err
	}
	now := m.now()
	vErr := &ValidationError{}
	m.opts.checkWaitlistWindow(resource, start, end, now, vErr)
	if vErr.HasErrors() {
		return persistence.WaitlistEntry{}, vErr
	}
	requested := scheduler.NewWindow(start, end)

	err = withRetry(ctx, m.opts.Retry, resource.ID, func() error {
		return m.store.WithResourceLock(ctx, resource.ID, func(ctx context.Context, tx persistence.Tx) error {
			blocking, err := tx.ListBlocking(ctx, resource.ID, start, end, "")
			if err != nil {
				return err
			}
			if len(blocking) == 0 {
				return newValidationError("start", "the requested window is available and can be booked directly")
			}

			active, err := tx.ListActiveWaitlist(ctx, resource.ID)
			if err != nil {
				return err
			}
			maxPosition := 0
			for _, other := range active {
				if other.Position > maxPosition {
					maxPosition = other.Position
				}
				if other.RequesterID == params.Principal.UserID && requested.Overlaps(requestedWindow(other)) {
					return newValidationError("start", "you are already waiting for an overlapping window")
				}
			}

			entry = persistence.WaitlistEntry{
				ID:             m.opts.NewID(),
				ResourceID:     resource.ID,
				RequesterID:    params.Principal.UserID,
				RequestedStart: start,
				RequestedEnd:   end,
				Position:       maxPosition + 1,
				Status:         lifecycle.WaitlistWaiting,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			return tx.InsertWaitlistEntry(ctx, entry)
		})
	})
	if err != nil {
		return persistence.WaitlistEntry{}, finish(err)
	}
	return entry, nil
}

// Leave cancels a WAITING entry and closes the gap in the queue.
func (m *WaitlistManager) Leave(ctx context.Context, principal Principal, entryID string) (err error) {
	if m == nil {
		return fmt.Errorf("WaitlistManager is nil")
	}
	logger := serviceLogger(ctx, m.logger, "WaitlistManager", "Leave",
		"principal_id", principal.UserID, "entry_id", entryID)
	defer func() { logOutcome(ctx, logger, err) }()

	stored, err := m.store.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		return finish(err)
	}
	if stored.RequesterID != principal.UserID && !principal.IsAdmin() {
		return ErrUnauthorized
	}

	err = withRetry(ctx, m.opts.Retry, stored.ResourceID, func() error {
		return m.store.WithResourceLock(ctx, stored.ResourceID, func(ctx context.Context, tx persistence.Tx) error {
			now := m.now()
			current, ok, err := findActive(ctx, tx, stored.ResourceID, entryID)
			if err != nil {
				return err
			}
			if !ok {
				current = stored
			}
			next, err := lifecycle.NextWaitlist(current.Status, lifecycle.WaitlistEventLeave)
			if err != nil {
				return newValidationError("status", fmt.Sprintf("entries in status %s cannot leave the waitlist", current.Status))
			}
			current.Status = next
			current.UpdatedAt = now
			claimed, err := tx.UpdateWaitlistEntry(ctx, current, lifecycle.WaitlistWaiting)
			if err != nil {
				return err
			}
			if !claimed {
				return newValidationError("status", "the entry changed concurrently")
			}
			return m.renumberTx(ctx, tx, stored.ResourceID, now)
		})
	})
	return finish(err)
}

// MyPositions lists the caller's WAITING and NOTIFIED entries.
func (m *WaitlistManager) MyPositions(ctx context.Context, principal Principal) ([]persistence.WaitlistEntry, error) {
	if m == nil {
		return nil, fmt.Errorf("WaitlistManager is nil")
	}
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}
	entries, err := m.store.ListWaitlist(ctx, persistence.WaitlistFilter{
		RequesterID: principal.UserID,
		Statuses:    []lifecycle.WaitlistStatus{lifecycle.WaitlistWaiting, lifecycle.WaitlistNotified},
	})
	if err != nil {
		return nil, finish(err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ResourceID == entries[j].ResourceID {
			return entries[i].Position < entries[j].Position
		}
		return entries[i].ResourceID < entries[j].ResourceID
	})
	return entries, nil
}

// onSlotFreedTx offers a freed window to the head of the queue. The first
// WAITING entry, by position, whose requested window overlaps freed, has not
// started and is entirely free of blocking reservations is notified. At most
// one entry is notified per call.
func (m *WaitlistManager) onSlotFreedTx(ctx context.Context, tx persistence.Tx, resourceID string, freed scheduler.Window, now time.Time) (*persistence.WaitlistEntry, error) {
	if !freed.Valid() {
		return nil, nil
	}
	active, err := tx.ListActiveWaitlist(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	for _, entry := range active {
		if entry.Status != lifecycle.WaitlistWaiting {
			continue
		}
		requested := requestedWindow(entry)
		if !requested.Start.After(now) || !requested.Overlaps(freed) {
			continue
		}
		blocking, err := tx.ListBlocking(ctx, resourceID, requested.Start, requested.End, "")
		if err != nil {
			return nil, err
		}
		if len(blocking) > 0 {
			continue
		}

		next, err := lifecycle.NextWaitlist(entry.Status, lifecycle.WaitlistEventNotify)
		if err != nil {
			return nil, err
		}
		expiresAt := now.Add(m.opts.Policy.NotifyWindow)
		offerStart, offerEnd := freed.Start, freed.End
		notifiedAt := now
		entry.Status = next
		entry.NotifiedAt = &notifiedAt
		entry.ExpiresAt = &expiresAt
		entry.OfferStart = &offerStart
		entry.OfferEnd = &offerEnd
		entry.UpdatedAt = now

		claimed, err := tx.UpdateWaitlistEntry(ctx, entry, lifecycle.WaitlistWaiting)
		if err != nil {
			return nil, err
		}
		if !claimed {
			continue
		}
		if err := m.recorder.waitlistEvent(ctx, tx, events.TopicWaitlistSlotAvailable, entry, now); err != nil {
			return nil, err
		}
		return &entry, nil
	}
	return nil, nil
}

// markBookedTx closes the caller's active entries that a new booking satisfies.
func (m *WaitlistManager) markBookedTx(ctx context.Context, tx persistence.Tx, reservation persistence.Reservation, now time.Time) error {
	active, err := tx.ListActiveWaitlist(ctx, reservation.ResourceID)
	if err != nil {
		return err
	}
	booked := windowOf(reservation)
	changed := false
	for _, entry := range active {
		if entry.RequesterID != reservation.RequesterID || !requestedWindow(entry).Overlaps(booked) {
			continue
		}
		expected := entry.Status
		next, err := lifecycle.NextWaitlist(expected, lifecycle.WaitlistEventBook)
		if err != nil {
			return err
		}
		entry.Status = next
		entry.UpdatedAt = now
		claimed, err := tx.UpdateWaitlistEntry(ctx, entry, expected)
		if err != nil {
			return err
		}
		changed = changed || claimed
	}
	if !changed {
		return nil
	}
	return m.renumberTx(ctx, tx, reservation.ResourceID, now)
}

// renumberTx rewrites positions of the active entries to 1..n. Positions only
// ever move down, so walking in ascending order never reuses a taken slot.
func (m *WaitlistManager) renumberTx(ctx context.Context, tx persistence.Tx, resourceID string, now time.Time) error {
	active, err := tx.ListActiveWaitlist(ctx, resourceID)
	if err != nil {
		return err
	}
	for i, entry := range active {
		if entry.Position == i+1 {
			continue
		}
		entry.Position = i + 1
		entry.UpdatedAt = now
		if _, err := tx.UpdateWaitlistEntry(ctx, entry, entry.Status); err != nil {
			return fmt.Errorf("renumber waitlist entry %s: %w", entry.ID, err)
		}
	}
	return nil
}

// SweepExpired expires NOTIFIED entries whose offer lapsed and WAITING entries
// whose requested window has begun. Each lapsed offer is passed on to the next
// entry in line.
func (m *WaitlistManager) SweepExpired(ctx context.Context) (WaitlistSweepReport, error) {
	var report WaitlistSweepReport
	if m == nil {
		return report, fmt.Errorf("WaitlistManager is nil")
	}
	logger := serviceLogger(ctx, m.logger, "WaitlistManager", "SweepExpired")
	now := m.now()

	var discoveryErrs []error
	notified, err := m.store.ListExpiredNotifications(ctx, now, m.opts.SweepBatchSize)
	if err != nil {
		discoveryErrs = append(discoveryErrs, fmt.Errorf("list expired notifications: %w", err))
	}
	waiting, err := m.store.ListStaleWaiting(ctx, now, m.opts.SweepBatchSize)
	if err != nil {
		discoveryErrs = append(discoveryErrs, fmt.Errorf("list stale waiting entries: %w", err))
	}

	for _, candidate := range append(notified, waiting...) {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		expired, next, err := m.expireEntry(ctx, candidate.ResourceID, candidate.ID)
		if err != nil {
			report.Failed++
			logger.ErrorContext(ctx, "waitlist expiry failed",
				"entry_id", candidate.ID, "resource_id", candidate.ResourceID, "error", err)
			continue
		}
		if expired {
			report.Expired++
		}
		if next != nil {
			report.Notified++
		}
	}

	if err := errors.Join(discoveryErrs...); err != nil {
		logger.ErrorContext(ctx, "waitlist sweep discovery failed", "error", err)
		return report, err
	}
	return report, nil
}

func (m *WaitlistManager) expireEntry(ctx context.Context, resourceID, entryID string) (expired bool, notified *persistence.WaitlistEntry, err error) {
	err = withRetry(ctx, m.opts.Retry, resourceID, func() error {
		expired, notified = false, nil
		return m.store.WithResourceLock(ctx, resourceID, func(ctx context.Context, tx persistence.Tx) error {
			now := m.now()
			entry, ok, err := findActive(ctx, tx, resourceID, entryID)
			if err != nil || !ok {
				return err
			}
			if !expiryDue(entry, now) {
				return nil
			}

			expected := entry.Status
			next, err := lifecycle.NextWaitlist(expected, lifecycle.WaitlistEventExpire)
			if err != nil {
				return err
			}
			entry.Status = next
			entry.UpdatedAt = now
			claimed, err := tx.UpdateWaitlistEntry(ctx, entry, expected)
			if err != nil || !claimed {
				return err
			}
			expired = true
			if err := m.recorder.waitlistEvent(ctx, tx, events.TopicWaitlistExpired, entry, now); err != nil {
				return err
			}
			if err := m.renumberTx(ctx, tx, resourceID, now); err != nil {
				return err
			}
			if expected != lifecycle.WaitlistNotified || entry.OfferStart == nil || entry.OfferEnd == nil {
				return nil
			}
			offer := remaining(scheduler.NewWindow(*entry.OfferStart, *entry.OfferEnd), now)
			notified, err = m.onSlotFreedTx(ctx, tx, resourceID, offer, now)
			return err
		})
	})
	return expired, notified, finish(err)
}

func expiryDue(entry persistence.WaitlistEntry, now time.Time) bool {
	switch entry.Status {
	case lifecycle.WaitlistNotified:
		return entry.ExpiresAt != nil && !entry.ExpiresAt.After(now)
	case lifecycle.WaitlistWaiting:
		return !entry.RequestedStart.After(now)
	}
	return false
}

func findActive(ctx context.Context, tx persistence.Tx, resourceID, entryID string) (persistence.WaitlistEntry, bool, error) {
	active, err := tx.ListActiveWaitlist(ctx, resourceID)
	if err != nil {
		return persistence.WaitlistEntry{}, false, err
	}
	for _, entry := range active {
		if entry.ID == entryID {
			return entry, true, nil
		}
	}
	return persistence.WaitlistEntry{}, false, nil
}

func requestedWindow(entry persistence.WaitlistEntry) scheduler.Window {
	return scheduler.NewWindow(entry.RequestedStart, entry.RequestedEnd)
}
