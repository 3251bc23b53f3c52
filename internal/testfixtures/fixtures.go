// Package testfixtures provides deterministic clocks, identifiers, records and
// store harnesses for tests.
package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
)

var (
	resourceCounter    uint64
	reservationCounter uint64
	waitlistCounter    uint64
)

// referenceTime is a Monday morning well clear of any DST change.
var referenceTime = time.Date(2024, time.June, 3, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the baseline instant used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Resources -----------------------------

// ResourceOption adjusts a resource fixture.
type ResourceOption func(*persistence.Resource)

// NewResource returns a bookable UTC resource with zero bounds, which the
// services replace with their defaults.
func NewResource(opts ...ResourceOption) persistence.Resource {
	idx := atomic.AddUint64(&resourceCounter, 1)
	resource := persistence.Resource{
		ID:        fmt.Sprintf("resource-%03d", idx),
		Name:      fmt.Sprintf("Room %d", idx),
		Bookable:  true,
		TimeZone:  "UTC",
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&resource)
	}
	return resource
}

// WithResourceID fixes the identifier.
func WithResourceID(id string) ResourceOption {
	return func(r *persistence.Resource) { r.ID = id }
}

// WithTimeZone sets the resource's IANA zone.
func WithTimeZone(zone string) ResourceOption {
	return func(r *persistence.Resource) { r.TimeZone = zone }
}

// WithBounds sets the advance window and duration limits.
func WithBounds(maxAdvance, minDuration, maxDuration time.Duration) ResourceOption {
	return func(r *persistence.Resource) {
		r.MaxAdvance = maxAdvance
		r.MinDuration = minDuration
		r.MaxDuration = maxDuration
	}
}

// NotBookable clears the bookable flag.
func NotBookable() ResourceOption {
	return func(r *persistence.Resource) { r.Bookable = false }
}

// ----------------------------- Reservations -----------------------------

// ReservationOption adjusts a reservation fixture.
type ReservationOption func(*persistence.Reservation)

// NewReservation returns a CONFIRMED reservation for [start, end).
func NewReservation(resourceID, requesterID string, start, end time.Time, opts ...ReservationOption) persistence.Reservation {
	idx := atomic.AddUint64(&reservationCounter, 1)
	reservation := persistence.Reservation{
		ID:          fmt.Sprintf("reservation-%03d", idx),
		ResourceID:  resourceID,
		RequesterID: requesterID,
		Start:       start.UTC(),
		End:         end.UTC(),
		Status:      lifecycle.StatusConfirmed,
		Purpose:     "Fixture reservation",
		CreatedAt:   referenceTime,
		UpdatedAt:   referenceTime,
	}
	for _, opt := range opts {
		opt(&reservation)
	}
	return reservation
}

// WithReservationID fixes the identifier.
func WithReservationID(id string) ReservationOption {
	return func(r *persistence.Reservation) { r.ID = id }
}

// WithStatus sets the status.
func WithStatus(status lifecycle.Status) ReservationOption {
	return func(r *persistence.Reservation) { r.Status = status }
}

// WithPurpose sets the purpose.
func WithPurpose(purpose string) ReservationOption {
	return func(r *persistence.Reservation) { r.Purpose = purpose }
}

// CheckedInAt marks the reservation ACTIVE since at.
func CheckedInAt(at time.Time) ReservationOption {
	return func(r *persistence.Reservation) {
		at = at.UTC()
		r.Status = lifecycle.StatusActive
		r.CheckedInAt = &at
	}
}

// CreatedAt sets both timestamps.
func CreatedAt(at time.Time) ReservationOption {
	return func(r *persistence.Reservation) {
		r.CreatedAt = at.UTC()
		r.UpdatedAt = at.UTC()
	}
}

// ----------------------------- Waitlist -----------------------------

// NewWaitlistEntry returns a WAITING entry at position.
func NewWaitlistEntry(resourceID, requesterID string, start, end time.Time, position int) persistence.WaitlistEntry {
	idx := atomic.AddUint64(&waitlistCounter, 1)
	return persistence.WaitlistEntry{
		ID:             fmt.Sprintf("waitlist-%03d", idx),
		ResourceID:     resourceID,
		RequesterID:    requesterID,
		RequestedStart: start.UTC(),
		RequestedEnd:   end.UTC(),
		Position:       position,
		Status:         lifecycle.WaitlistWaiting,
		CreatedAt:      referenceTime,
		UpdatedAt:      referenceTime,
	}
}

// ----------------------------- Seeding -----------------------------

// SeedResource stores resource and returns the stored copy.
func SeedResource(tb testing.TB, store persistence.Store, resource persistence.Resource) persistence.Resource {
	tb.Helper()
	stored, err := store.UpsertResource(context.Background(), resource)
	if err != nil {
		tb.Fatalf("seed resource %s: %v", resource.ID, err)
	}
	return stored
}

// SeedReservations inserts reservations directly, bypassing the conflict
// check, each with a creation audit row.
func SeedReservations(tb testing.TB, store persistence.Store, reservations ...persistence.Reservation) {
	tb.Helper()
	for _, r := range reservations {
		err := store.WithResourceLock(context.Background(), r.ResourceID, func(ctx context.Context, tx persistence.Tx) error {
			if err := tx.InsertReservation(ctx, r); err != nil {
				return err
			}
			return tx.AppendTransition(ctx, persistence.Transition{
				ID:            "seed-" + r.ID,
				ReservationID: r.ID,
				ActorID:       r.RequesterID,
				To:            r.Status,
				Reason:        "seeded",
				At:            r.CreatedAt,
			})
		})
		if err != nil {
			tb.Fatalf("seed reservation %s: %v", r.ID, err)
		}
	}
}

// SeedWaitlist inserts waitlist entries directly.
func SeedWaitlist(tb testing.TB, store persistence.Store, entries ...persistence.WaitlistEntry) {
	tb.Helper()
	for _, e := range entries {
		err := store.WithResourceLock(context.Background(), e.ResourceID, func(ctx context.Context, tx persistence.Tx) error {
			return tx.InsertWaitlistEntry(ctx, e)
		})
		if err != nil {
			tb.Fatalf("seed waitlist entry %s: %v", e.ID, err)
		}
	}
}
