package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
)

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

// --- Resources ---

// UpsertResource creates or replaces a resource, keeping the original CreatedAt.
func (s *Store) UpsertResource(ctx context.Context, resource persistence.Resource) (persistence.Resource, error) {
	if resource.ID == "" {
		return persistence.Resource{}, persistence.ErrConstraintViolation
	}
	now := time.Now().UTC()
	if resource.CreatedAt.IsZero() {
		resource.CreatedAt = now
	}
	if resource.UpdatedAt.IsZero() {
		resource.UpdatedAt = now
	}

	query := s.db.Rebind(`
		INSERT INTO resources (` + resourceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			bookable = excluded.bookable,
			time_zone = excluded.time_zone,
			max_advance_s = excluded.max_advance_s,
			min_duration_s = excluded.min_duration_s,
			max_duration_s = excluded.max_duration_s,
			updated_at_us = excluded.updated_at_us
	`)
	_, err := s.db.ExecContext(ctx, query,
		resource.ID,
		resource.Name,
		resource.Bookable,
		resource.TimeZone,
		seconds(resource.MaxAdvance),
		seconds(resource.MinDuration),
		seconds(resource.MaxDuration),
		toMicros(resource.CreatedAt),
		toMicros(resource.UpdatedAt),
	)
	if err != nil {
		return persistence.Resource{}, fmt.Errorf("sqlstore: upsert resource %s: %w", resource.ID, mapError(err))
	}
	return s.GetResource(ctx, resource.ID)
}

// GetResource retrieves a resource by ID.
func (s *Store) GetResource(ctx context.Context, id string) (persistence.Resource, error) {
	return getResource(ctx, s.db, id)
}

func getResource(ctx context.Context, q queryer, id string) (persistence.Resource, error) {
	var row resourceRow
	query := q.Rebind(`SELECT ` + resourceColumns + ` FROM resources WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		return persistence.Resource{}, mapError(err)
	}
	return row.toModel(), nil
}

// ListResources returns all resources ordered by name.
func (s *Store) ListResources(ctx context.Context) ([]persistence.Resource, error) {
	var rows []resourceRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+resourceColumns+` FROM resources ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("sqlstore: list resources: %w", mapError(err))
	}
	out := make([]persistence.Resource, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

// --- Reservations ---

// GetReservation retrieves a reservation by ID.
func (s *Store) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	return getReservation(ctx, s.db, id)
}

func getReservation(ctx context.Context, q queryer, id string) (persistence.Reservation, error) {
	var row reservationRow
	query := q.Rebind(`SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		return persistence.Reservation{}, mapError(err)
	}
	return row.toModel(), nil
}

// ListReservations returns reservations matching filter ordered by start.
func (s *Store) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if filter.ResourceID != "" {
		clauses = append(clauses, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if filter.RequesterID != "" {
		clauses = append(clauses, "requester_id = ?")
		args = append(args, filter.RequesterID)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN (?)")
		args = append(args, statusStrings(filter.Statuses))
	}
	if filter.To != nil {
		clauses = append(clauses, "start_us < ?")
		args = append(args, toMicros(*filter.To))
	}
	if filter.From != nil {
		clauses = append(clauses, "end_us > ?")
		args = append(args, toMicros(*filter.From))
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY start_us, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: build reservation query: %w", err)
	}

	var rows []reservationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: list reservations: %w", mapError(err))
	}
	return reservationsFromRows(rows), nil
}

// ListTransitions returns the audit trail of a reservation in append order.
func (s *Store) ListTransitions(ctx context.Context, reservationID string) ([]persistence.Transition, error) {
	var rows []transitionRow
	query := s.db.Rebind(`SELECT ` + transitionColumns + ` FROM reservation_transitions WHERE reservation_id = ? ORDER BY seq`)
	if err := s.db.SelectContext(ctx, &rows, query, reservationID); err != nil {
		return nil, fmt.Errorf("sqlstore: list transitions: %w", mapError(err))
	}
	out := make([]persistence.Transition, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

// --- Waitlist ---

// GetWaitlistEntry retrieves a waitlist entry by ID.
func (s *Store) GetWaitlistEntry(ctx context.Context, id string) (persistence.WaitlistEntry, error) {
	var row waitlistRow
	query := s.db.Rebind(`SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return persistence.WaitlistEntry{}, mapError(err)
	}
	return row.toModel(), nil
}

// ListWaitlist returns entries matching filter ordered by resource and position.
func (s *Store) ListWaitlist(ctx context.Context, filter persistence.WaitlistFilter) ([]persistence.WaitlistEntry, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if filter.ResourceID != "" {
		clauses = append(clauses, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if filter.RequesterID != "" {
		clauses = append(clauses, "requester_id = ?")
		args = append(args, filter.RequesterID)
	}
	if len(filter.Statuses) > 0 {
		values := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			values[i] = string(st)
		}
		clauses = append(clauses, "status IN (?)")
		args = append(args, values)
	}

	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY resource_id, queue_position, created_at_us`

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: build waitlist query: %w", err)
	}

	var rows []waitlistRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: list waitlist: %w", mapError(err))
	}
	return waitlistFromRows(rows), nil
}

// --- Sweep queries ---

// ListNoShowCandidates returns CONFIRMED reservations without check-in that started before the cutoff.
func (s *Store) ListNoShowCandidates(ctx context.Context, startedBefore time.Time, limit int) ([]persistence.Reservation, error) {
	return s.selectReservations(ctx,
		`status = ? AND checked_in_at_us IS NULL AND start_us < ?`,
		limit, string(lifecycle.StatusConfirmed), toMicros(startedBefore))
}

// ListOverdueActive returns ACTIVE reservations whose end is not after endedBy.
func (s *Store) ListOverdueActive(ctx context.Context, endedBy time.Time, limit int) ([]persistence.Reservation, error) {
	return s.selectReservations(ctx, `status = ? AND end_us <= ?`,
		limit, string(lifecycle.StatusActive), toMicros(endedBy))
}

// ListStalePending returns PENDING reservations whose start is not after startedBy.
func (s *Store) ListStalePending(ctx context.Context, startedBy time.Time, limit int) ([]persistence.Reservation, error) {
	return s.selectReservations(ctx, `status = ? AND start_us <= ?`,
		limit, string(lifecycle.StatusPending), toMicros(startedBy))
}

// ListExpiredNotifications returns NOTIFIED entries whose expiry has passed.
func (s *Store) ListExpiredNotifications(ctx context.Context, now time.Time, limit int) ([]persistence.WaitlistEntry, error) {
	return s.selectWaitlist(ctx, `status = ? AND expires_at_us IS NOT NULL AND expires_at_us <= ?`,
		limit, string(lifecycle.WaitlistNotified), toMicros(now))
}

// ListStaleWaiting returns WAITING entries whose requested start has passed.
func (s *Store) ListStaleWaiting(ctx context.Context, now time.Time, limit int) ([]persistence.WaitlistEntry, error) {
	return s.selectWaitlist(ctx, `status = ? AND requested_start_us <= ?`,
		limit, string(lifecycle.WaitlistWaiting), toMicros(now))
}

func (s *Store) selectReservations(ctx context.Context, where string, limit int, args ...interface{}) ([]persistence.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE ` + where + ` ORDER BY start_us, id`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	var rows []reservationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: sweep reservations: %w", mapError(err))
	}
	return reservationsFromRows(rows), nil
}

func (s *Store) selectWaitlist(ctx context.Context, where string, limit int, args ...interface{}) ([]persistence.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE ` + where + ` ORDER BY resource_id, queue_position`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	var rows []waitlistRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: sweep waitlist: %w", mapError(err))
	}
	return waitlistFromRows(rows), nil
}

// --- Outbox ---

// ClaimOutbox leases unpublished events in creation order. Concurrent relays
// never receive the same event while its lease is live.
func (s *Store) ClaimOutbox(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]persistence.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	lockClause := ""
	if s.driver == DriverPostgres {
		lockClause = " FOR UPDATE SKIP LOCKED"
	}
	query := s.db.Rebind(fmt.Sprintf(`
		UPDATE outbox_events
		SET claimed_until_us = ?, attempts = attempts + 1
		WHERE published_at_us IS NULL AND claimed_until_us <= ? AND id IN (
			SELECT id FROM outbox_events
			WHERE published_at_us IS NULL AND claimed_until_us <= ?
			ORDER BY seq
			LIMIT %d%s
		)
		RETURNING seq, %s`, limit, lockClause, outboxColumns))

	nowUS := toMicros(now)
	var rows []outboxRow
	if err := s.db.SelectContext(ctx, &rows, query, toMicros(now.Add(lease)), nowUS, nowUS); err != nil {
		return nil, fmt.Errorf("sqlstore: claim outbox: %w", mapError(err))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })

	out := make([]persistence.OutboxEvent, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

// MarkPublished records successful delivery.
func (s *Store) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE outbox_events SET published_at_us = ?, last_error = '' WHERE id IN (?)`, toMicros(at), ids)
	if err != nil {
		return fmt.Errorf("sqlstore: build publish query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("sqlstore: mark published: %w", mapError(err))
	}
	return nil
}

// ReleaseOutbox drops the lease on a failed event so the next cycle retries it.
func (s *Store) ReleaseOutbox(ctx context.Context, id string, cause string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE outbox_events SET claimed_until_us = 0, last_error = ? WHERE id = ?`),
		cause, id)
	if err != nil {
		return fmt.Errorf("sqlstore: release outbox: %w", mapError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func statusStrings(statuses []lifecycle.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
