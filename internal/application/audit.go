package application

import (
	"context"
	"fmt"
	"time"

	"github.com/example/resource-reservations/internal/events"
	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
	"github.com/example/resource-reservations/internal/scheduler"
)

const sweeperActor = "system:sweeper"

// recorder writes the audit trail and outbox rows that accompany every
// state change. It only works inside a resource transaction.
type recorder struct {
	opts Options
}

func (r recorder) transition(ctx context.Context, tx persistence.Tx, reservation persistence.Reservation, from lifecycle.Status, actorID, reason string, at time.Time) error {
	err := tx.AppendTransition(ctx, persistence.Transition{
		ID:            r.opts.NewID(),
		ReservationID: reservation.ID,
		ActorID:       actorID,
		From:          from,
		To:            reservation.Status,
		Reason:        reason,
		At:            at,
	})
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

func (r recorder) reservationEvent(ctx context.Context, tx persistence.Tx, topic events.Topic, reservation persistence.Reservation, actorID, reason string, at time.Time) error {
	ev, err := events.NewReservationEvent(r.opts.NewID(), topic, reservation, actorID, reason, at)
	if err != nil {
		return err
	}
	if err := tx.AppendOutbox(ctx, ev); err != nil {
		return fmt.Errorf("append %s event: %w", topic, err)
	}
	return nil
}

func (r recorder) waitlistEvent(ctx context.Context, tx persistence.Tx, topic events.Topic, entry persistence.WaitlistEntry, at time.Time) error {
	ev, err := events.NewWaitlistEvent(r.opts.NewID(), topic, entry, at)
	if err != nil {
		return err
	}
	if err := tx.AppendOutbox(ctx, ev); err != nil {
		return fmt.Errorf("append %s event: %w", topic, err)
	}
	return nil
}

// record is transition plus event, the pair every reservation change writes.
func (r recorder) record(ctx context.Context, tx persistence.Tx, topic events.Topic, reservation persistence.Reservation, from lifecycle.Status, actorID, reason string, at time.Time) error {
	if err := r.transition(ctx, tx, reservation, from, actorID, reason, at); err != nil {
		return err
	}
	return r.reservationEvent(ctx, tx, topic, reservation, actorID, reason, at)
}

func windowOf(r persistence.Reservation) scheduler.Window {
	return scheduler.NewWindow(r.Start, r.End)
}

func bookingsOf(reservations []persistence.Reservation) []scheduler.Booking {
	out := make([]scheduler.Booking, 0, len(reservations))
	for _, r := range reservations {
		out = append(out, scheduler.Booking{ID: r.ID, Window: windowOf(r)})
	}
	return out
}

// remaining trims w so that it does not start before now.
func remaining(w scheduler.Window, now time.Time) scheduler.Window {
	if w.Start.Before(now) {
		w.Start = now
	}
	return w
}
