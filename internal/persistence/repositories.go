package persistence

import (
	"context"
	"time"

	"github.com/example/resource-reservations/internal/lifecycle"
)

// ReservationFilter narrows reservation queries. From/To select reservations
// overlapping [From, To).
type ReservationFilter struct {
	ResourceID  string
	RequesterID string
	Statuses    []lifecycle.Status
	From        *time.Time
	To          *time.Time
	Limit       int
}

// WaitlistFilter narrows waitlist queries.
type WaitlistFilter struct {
	ResourceID  string
	RequesterID string
	Statuses    []lifecycle.WaitlistStatus
}

// TxFunc runs inside a resource-scoped transaction.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the Timeline Store: the only component that touches durable state.
type Store interface {
	// WithResourceLock runs fn in a single transaction holding the write lock
	// for resourceID. Lock waits are bounded; exceeding the bound yields
	// ErrContention. Any error returned by fn rolls back every write.
	WithResourceLock(ctx context.Context, resourceID string, fn TxFunc) error

	UpsertResource(ctx context.Context, resource Resource) (Resource, error)
	GetResource(ctx context.Context, id string) (Resource, error)
	ListResources(ctx context.Context) ([]Resource, error)

	GetReservation(ctx context.Context, id string) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	ListTransitions(ctx context.Context, reservationID string) ([]Transition, error)

	GetWaitlistEntry(ctx context.Context, id string) (WaitlistEntry, error)
	ListWaitlist(ctx context.Context, filter WaitlistFilter) ([]WaitlistEntry, error)

	SweepQueries
	OutboxStore

	Close() error
}

// SweepQueries discover candidates for background transitions. Results are
// hints only; the decision is re-checked under the resource lock.
type SweepQueries interface {
	ListNoShowCandidates(ctx context.Context, startedBefore time.Time, limit int) ([]Reservation, error)
	ListOverdueActive(ctx context.Context, endedBy time.Time, limit int) ([]Reservation, error)
	ListStalePending(ctx context.Context, startedBy time.Time, limit int) ([]Reservation, error)
	ListExpiredNotifications(ctx context.Context, now time.Time, limit int) ([]WaitlistEntry, error)
	ListStaleWaiting(ctx context.Context, now time.Time, limit int) ([]WaitlistEntry, error)
}

// OutboxStore hands committed events to the relay.
type OutboxStore interface {
	// ClaimOutbox leases up to limit unpublished events until now+lease.
	ClaimOutbox(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]OutboxEvent, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
	ReleaseOutbox(ctx context.Context, id string, cause string) error
}

// Tx is valid only inside WithResourceLock.
type Tx interface {
	GetResource(ctx context.Context, id string) (Resource, error)
	GetReservation(ctx context.Context, id string) (Reservation, error)

	// ListBlocking returns CONFIRMED/ACTIVE reservations of resourceID
	// overlapping [start, end), ignoring excludeID.
	ListBlocking(ctx context.Context, resourceID string, start, end time.Time, excludeID string) ([]Reservation, error)
	InsertReservation(ctx context.Context, reservation Reservation) error
	// UpdateReservation writes reservation only if the stored status equals
	// expected and reports whether the row was claimed.
	UpdateReservation(ctx context.Context, reservation Reservation, expected lifecycle.Status) (bool, error)
	AppendTransition(ctx context.Context, transition Transition) error

	// ListActiveWaitlist returns WAITING/NOTIFIED entries ordered by position.
	ListActiveWaitlist(ctx context.Context, resourceID string) ([]WaitlistEntry, error)
	InsertWaitlistEntry(ctx context.Context, entry WaitlistEntry) error
	UpdateWaitlistEntry(ctx context.Context, entry WaitlistEntry, expected lifecycle.WaitlistStatus) (bool, error)

	AppendOutbox(ctx context.Context, event OutboxEvent) error
}
