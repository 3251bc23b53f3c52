package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
)

// storeTx implements persistence.Tx on a transaction that already holds the
// resource lock.
type storeTx struct {
	tx *sqlx.Tx
}

var _ persistence.Tx = (*storeTx)(nil)

func (t *storeTx) GetResource(ctx context.Context, id string) (persistence.Resource, error) {
	return getResource(ctx, t.tx, id)
}

func (t *storeTx) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	return getReservation(ctx, t.tx, id)
}

func (t *storeTx) ListBlocking(ctx context.Context, resourceID string, start, end time.Time, excludeID string) ([]persistence.Reservation, error) {
	query := t.tx.Rebind(`
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE resource_id = ?
		  AND status IN (?, ?)
		  AND start_us < ?
		  AND end_us > ?
		  AND id <> ?
		ORDER BY start_us, id`)

	var rows []reservationRow
	err := t.tx.SelectContext(ctx, &rows, query,
		resourceID,
		string(lifecycle.StatusConfirmed),
		string(lifecycle.StatusActive),
		toMicros(end),
		toMicros(start),
		excludeID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list blocking: %w", mapError(err))
	}
	return reservationsFromRows(rows), nil
}

func (t *storeTx) InsertReservation(ctx context.Context, r persistence.Reservation) error {
	query := t.tx.Rebind(`
		INSERT INTO reservations (` + reservationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := t.tx.ExecContext(ctx, query,
		r.ID,
		r.ResourceID,
		r.RequesterID,
		toMicros(r.Start),
		toMicros(r.End),
		string(r.Status),
		r.Purpose,
		nullString(r.SpecialRequirements),
		r.Priority,
		nullMicros(r.CheckedInAt),
		nullMicros(r.CheckedOutAt),
		toMicros(r.CreatedAt),
		toMicros(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: insert reservation %s: %w", r.ID, mapError(err))
	}
	return nil
}

func (t *storeTx) UpdateReservation(ctx context.Context, r persistence.Reservation, expected lifecycle.Status) (bool, error) {
	query := t.tx.Rebind(`
		UPDATE reservations
		SET start_us = ?, end_us = ?, status = ?, purpose = ?, special_requirements = ?,
		    priority = ?, checked_in_at_us = ?, checked_out_at_us = ?, updated_at_us = ?
		WHERE id = ? AND status = ?`)
	res, err := t.tx.ExecContext(ctx, query,
		toMicros(r.Start),
		toMicros(r.End),
		string(r.Status),
		r.Purpose,
		nullString(r.SpecialRequirements),
		r.Priority,
		nullMicros(r.CheckedInAt),
		nullMicros(r.CheckedOutAt),
		toMicros(r.UpdatedAt),
		r.ID,
		string(expected),
	)
	if err != nil {
		return false, fmt.Errorf("sqlstore: update reservation %s: %w", r.ID, mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: update reservation %s: %w", r.ID, err)
	}
	return n == 1, nil
}

func (t *storeTx) AppendTransition(ctx context.Context, tr persistence.Transition) error {
	query := t.tx.Rebind(`
		INSERT INTO reservation_transitions (` + transitionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := t.tx.ExecContext(ctx, query,
		tr.ID,
		tr.ReservationID,
		tr.ActorID,
		string(tr.From),
		string(tr.To),
		tr.Reason,
		toMicros(tr.At),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: append transition: %w", mapError(err))
	}
	return nil
}

func (t *storeTx) ListActiveWaitlist(ctx context.Context, resourceID string) ([]persistence.WaitlistEntry, error) {
	query := t.tx.Rebind(`
		SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE resource_id = ? AND status IN (?, ?)
		ORDER BY queue_position, created_at_us`)

	var rows []waitlistRow
	err := t.tx.SelectContext(ctx, &rows, query,
		resourceID,
		string(lifecycle.WaitlistWaiting),
		string(lifecycle.WaitlistNotified),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list active waitlist: %w", mapError(err))
	}
	return waitlistFromRows(rows), nil
}

func (t *storeTx) InsertWaitlistEntry(ctx context.Context, e persistence.WaitlistEntry) error {
	query := t.tx.Rebind(`
		INSERT INTO waitlist_entries (` + waitlistColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := t.tx.ExecContext(ctx, query,
		e.ID,
		e.ResourceID,
		e.RequesterID,
		toMicros(e.RequestedStart),
		toMicros(e.RequestedEnd),
		e.Position,
		string(e.Status),
		nullMicros(e.NotifiedAt),
		nullMicros(e.ExpiresAt),
		nullMicros(e.OfferStart),
		nullMicros(e.OfferEnd),
		toMicros(e.CreatedAt),
		toMicros(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: insert waitlist entry %s: %w", e.ID, mapError(err))
	}
	return nil
}

func (t *storeTx) UpdateWaitlistEntry(ctx context.Context, e persistence.WaitlistEntry, expected lifecycle.WaitlistStatus) (bool, error) {
	query := t.tx.Rebind(`
		UPDATE waitlist_entries
		SET queue_position = ?, status = ?, notified_at_us = ?, expires_at_us = ?,
		    offer_start_us = ?, offer_end_us = ?, updated_at_us = ?
		WHERE id = ? AND status = ?`)
	res, err := t.tx.ExecContext(ctx, query,
		e.Position,
		string(e.Status),
		nullMicros(e.NotifiedAt),
		nullMicros(e.ExpiresAt),
		nullMicros(e.OfferStart),
		nullMicros(e.OfferEnd),
		toMicros(e.UpdatedAt),
		e.ID,
		string(expected),
	)
	if err != nil {
		return false, fmt.Errorf("sqlstore: update waitlist entry %s: %w", e.ID, mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: update waitlist entry %s: %w", e.ID, err)
	}
	return n == 1, nil
}

func (t *storeTx) AppendOutbox(ctx context.Context, ev persistence.OutboxEvent) error {
	query := t.tx.Rebind(`
		INSERT INTO outbox_events (id, topic, aggregate_id, payload, created_at_us)
		VALUES (?, ?, ?, ?, ?)`)
	_, err := t.tx.ExecContext(ctx, query,
		ev.ID,
		ev.Topic,
		ev.AggregateID,
		ev.Payload,
		toMicros(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: append outbox event: %w", mapError(err))
	}
	return nil
}
