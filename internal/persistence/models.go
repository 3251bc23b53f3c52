package persistence

import (
	"time"

	"github.com/example/resource-reservations/internal/lifecycle"
)

// Resource is a bookable entity managed outside the engine.
type Resource struct {
	ID          string
	Name        string
	Bookable    bool
	TimeZone    string
	MaxAdvance  time.Duration
	MinDuration time.Duration
	MaxDuration time.Duration
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reservation is a booking of one resource for a half-open window.
type Reservation struct {
	ID                  string
	ResourceID          string
	RequesterID         string
	Start               time.Time
	End                 time.Time
	Status              lifecycle.Status
	Purpose             string
	SpecialRequirements *string
	Priority            bool
	CheckedInAt         *time.Time
	CheckedOutAt        *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Transition is one append-only audit record of a reservation state change.
type Transition struct {
	ID            string
	ReservationID string
	ActorID       string
	From          lifecycle.Status
	To            lifecycle.Status
	Reason        string
	At            time.Time
}

// WaitlistEntry is a queued request for an unavailable window.
type WaitlistEntry struct {
	ID             string
	ResourceID     string
	RequesterID    string
	RequestedStart time.Time
	RequestedEnd   time.Time
	Position       int
	Status         lifecycle.WaitlistStatus
	NotifiedAt     *time.Time
	ExpiresAt      *time.Time
	OfferStart     *time.Time
	OfferEnd       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OutboxEvent is a domain event waiting to be published.
type OutboxEvent struct {
	ID          string
	Topic       string
	AggregateID string
	Payload     []byte
	CreatedAt   time.Time
	Attempts    int
	LastError   string
	PublishedAt *time.Time
}
