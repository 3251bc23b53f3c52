package sqlstore

import (
	"database/sql"
	"time"

	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
)

// Instants are stored as UTC unix microseconds; durations as whole seconds.

const resourceColumns = `id, name, bookable, time_zone, max_advance_s, min_duration_s, max_duration_s, created_at_us, updated_at_us`

type resourceRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	Bookable     bool   `db:"bookable"`
	TimeZone     string `db:"time_zone"`
	MaxAdvanceS  int64  `db:"max_advance_s"`
	MinDurationS int64  `db:"min_duration_s"`
	MaxDurationS int64  `db:"max_duration_s"`
	CreatedAtUS  int64  `db:"created_at_us"`
	UpdatedAtUS  int64  `db:"updated_at_us"`
}

func (r resourceRow) toModel() persistence.Resource {
	return persistence.Resource{
		ID:          r.ID,
		Name:        r.Name,
		Bookable:    r.Bookable,
		TimeZone:    r.TimeZone,
		MaxAdvance:  time.Duration(r.MaxAdvanceS) * time.Second,
		MinDuration: time.Duration(r.MinDurationS) * time.Second,
		MaxDuration: time.Duration(r.MaxDurationS) * time.Second,
		CreatedAt:   fromMicros(r.CreatedAtUS),
		UpdatedAt:   fromMicros(r.UpdatedAtUS),
	}
}

const reservationColumns = `id, resource_id, requester_id, start_us, end_us, status, purpose, special_requirements, priority, checked_in_at_us, checked_out_at_us, created_at_us, updated_at_us`

type reservationRow struct {
	ID                  string         `db:"id"`
	ResourceID          string         `db:"resource_id"`
	RequesterID         string         `db:"requester_id"`
	StartUS             int64          `db:"start_us"`
	EndUS               int64          `db:"end_us"`
	Status              string         `db:"status"`
	Purpose             string         `db:"purpose"`
	SpecialRequirements sql.NullString `db:"special_requirements"`
	Priority            bool           `db:"priority"`
	CheckedInAtUS       sql.NullInt64  `db:"checked_in_at_us"`
	CheckedOutAtUS      sql.NullInt64  `db:"checked_out_at_us"`
	CreatedAtUS         int64          `db:"created_at_us"`
	UpdatedAtUS         int64          `db:"updated_at_us"`
}

func (r reservationRow) toModel() persistence.Reservation {
	out := persistence.Reservation{
		ID:           r.ID,
		ResourceID:   r.ResourceID,
		RequesterID:  r.RequesterID,
		Start:        fromMicros(r.StartUS),
		End:          fromMicros(r.EndUS),
		Status:       lifecycle.Status(r.Status),
		Purpose:      r.Purpose,
		Priority:     r.Priority,
		CheckedInAt:  timeFromNull(r.CheckedInAtUS),
		CheckedOutAt: timeFromNull(r.CheckedOutAtUS),
		CreatedAt:    fromMicros(r.CreatedAtUS),
		UpdatedAt:    fromMicros(r.UpdatedAtUS),
	}
	if r.SpecialRequirements.Valid {
		v := r.SpecialRequirements.String
		out.SpecialRequirements = &v
	}
	return out
}

func reservationsFromRows(rows []reservationRow) []persistence.Reservation {
	out := make([]persistence.Reservation, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out
}

const transitionColumns = `id, reservation_id, actor_id, from_status, to_status, reason, at_us`

type transitionRow struct {
	ID            string `db:"id"`
	ReservationID string `db:"reservation_id"`
	ActorID       string `db:"actor_id"`
	FromStatus    string `db:"from_status"`
	ToStatus      string `db:"to_status"`
	Reason        string `db:"reason"`
	AtUS          int64  `db:"at_us"`
}

func (r transitionRow) toModel() persistence.Transition {
	return persistence.Transition{
		ID:            r.ID,
		ReservationID: r.ReservationID,
		ActorID:       r.ActorID,
		From:          lifecycle.Status(r.FromStatus),
		To:            lifecycle.Status(r.ToStatus),
		Reason:        r.Reason,
		At:            fromMicros(r.AtUS),
	}
}

const waitlistColumns = `id, resource_id, requester_id, requested_start_us, requested_end_us, queue_position, status, notified_at_us, expires_at_us, offer_start_us, offer_end_us, created_at_us, updated_at_us`

type waitlistRow struct {
	ID               string        `db:"id"`
	ResourceID       string        `db:"resource_id"`
	RequesterID      string        `db:"requester_id"`
	RequestedStartUS int64         `db:"requested_start_us"`
	RequestedEndUS   int64         `db:"requested_end_us"`
	Position         int           `db:"queue_position"`
	Status           string        `db:"status"`
	NotifiedAtUS     sql.NullInt64 `db:"notified_at_us"`
	ExpiresAtUS      sql.NullInt64 `db:"expires_at_us"`
	OfferStartUS     sql.NullInt64 `db:"offer_start_us"`
	OfferEndUS       sql.NullInt64 `db:"offer_end_us"`
	CreatedAtUS      int64         `db:"created_at_us"`
	UpdatedAtUS      int64         `db:"updated_at_us"`
}

func (r waitlistRow) toModel() persistence.WaitlistEntry {
	return persistence.WaitlistEntry{
		ID:             r.ID,
		ResourceID:     r.ResourceID,
		RequesterID:    r.RequesterID,
		RequestedStart: fromMicros(r.RequestedStartUS),
		RequestedEnd:   fromMicros(r.RequestedEndUS),
		Position:       r.Position,
		Status:         lifecycle.WaitlistStatus(r.Status),
		NotifiedAt:     timeFromNull(r.NotifiedAtUS),
		ExpiresAt:      timeFromNull(r.ExpiresAtUS),
		OfferStart:     timeFromNull(r.OfferStartUS),
		OfferEnd:       timeFromNull(r.OfferEndUS),
		CreatedAt:      fromMicros(r.CreatedAtUS),
		UpdatedAt:      fromMicros(r.UpdatedAtUS),
	}
}

func waitlistFromRows(rows []waitlistRow) []persistence.WaitlistEntry {
	out := make([]persistence.WaitlistEntry, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out
}

const outboxColumns = `id, topic, aggregate_id, payload, created_at_us, attempts, last_error, published_at_us`

type outboxRow struct {
	Seq           int64         `db:"seq"`
	ID            string        `db:"id"`
	Topic         string        `db:"topic"`
	AggregateID   string        `db:"aggregate_id"`
	Payload       []byte        `db:"payload"`
	CreatedAtUS   int64         `db:"created_at_us"`
	Attempts      int           `db:"attempts"`
	LastError     string        `db:"last_error"`
	PublishedAtUS sql.NullInt64 `db:"published_at_us"`
}

func (r outboxRow) toModel() persistence.OutboxEvent {
	return persistence.OutboxEvent{
		ID:          r.ID,
		Topic:       r.Topic,
		AggregateID: r.AggregateID,
		Payload:     r.Payload,
		CreatedAt:   fromMicros(r.CreatedAtUS),
		Attempts:    r.Attempts,
		LastError:   r.LastError,
		PublishedAt: timeFromNull(r.PublishedAtUS),
	}
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
