// Package events defines the domain events the reservation engine emits and
// relays committed outbox rows to a message broker.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/resource-reservations/internal/persistence"
)

// Topic routes an event on the broker.
type Topic string

const (
	TopicReservationConfirmed  Topic = "reservation.confirmed"
	TopicReservationPending    Topic = "reservation.pending"
	TopicReservationCancelled  Topic = "reservation.cancelled"
	TopicReservationModified   Topic = "reservation.modified"
	TopicReservationCheckedIn  Topic = "reservation.checked_in"
	TopicReservationCompleted  Topic = "reservation.completed"
	TopicReservationNoShow     Topic = "reservation.no_show"
	TopicWaitlistSlotAvailable Topic = "waitlist.slot_available"
	TopicWaitlistExpired       Topic = "waitlist.expired"
)

// ReservationMessage is the payload of every reservation.* event.
type ReservationMessage struct {
	ReservationID string    `json:"reservation_id"`
	ResourceID    string    `json:"resource_id"`
	RequesterID   string    `json:"requester_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Status        string    `json:"status"`
	Priority      bool      `json:"priority,omitempty"`
	ActorID       string    `json:"actor_id"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// WaitlistMessage is the payload of every waitlist.* event.
type WaitlistMessage struct {
	EntryID        string     `json:"entry_id"`
	ResourceID     string     `json:"resource_id"`
	RequesterID    string     `json:"requester_id"`
	RequestedStart time.Time  `json:"requested_start"`
	RequestedEnd   time.Time  `json:"requested_end"`
	Status         string     `json:"status"`
	OfferStart     *time.Time `json:"offer_start,omitempty"`
	OfferEnd       *time.Time `json:"offer_end,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// NewReservationEvent builds an outbox row for a reservation event.
func NewReservationEvent(id string, topic Topic, r persistence.Reservation, actorID, reason string, at time.Time) (persistence.OutboxEvent, error) {
	msg := ReservationMessage{
		ReservationID: r.ID,
		ResourceID:    r.ResourceID,
		RequesterID:   r.RequesterID,
		Start:         r.Start.UTC(),
		End:           r.End.UTC(),
		Status:        string(r.Status),
		Priority:      r.Priority,
		ActorID:       actorID,
		Reason:        reason,
		OccurredAt:    at.UTC(),
	}
	return newOutboxEvent(id, topic, r.ID, msg, at)
}

// NewWaitlistEvent builds an outbox row for a waitlist event.
func NewWaitlistEvent(id string, topic Topic, e persistence.WaitlistEntry, at time.Time) (persistence.OutboxEvent, error) {
	msg := WaitlistMessage{
		EntryID:        e.ID,
		ResourceID:     e.ResourceID,
		RequesterID:    e.RequesterID,
		RequestedStart: e.RequestedStart.UTC(),
		RequestedEnd:   e.RequestedEnd.UTC(),
		Status:         string(e.Status),
		OfferStart:     e.OfferStart,
		OfferEnd:       e.OfferEnd,
		ExpiresAt:      e.ExpiresAt,
		OccurredAt:     at.UTC(),
	}
	return newOutboxEvent(id, topic, e.ID, msg, at)
}

func newOutboxEvent(id string, topic Topic, aggregateID string, msg any, at time.Time) (persistence.OutboxEvent, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return persistence.OutboxEvent{}, fmt.Errorf("events: marshal %s: %w", topic, err)
	}
	return persistence.OutboxEvent{
		ID:          id,
		Topic:       string(topic),
		AggregateID: aggregateID,
		Payload:     body,
		CreatedAt:   at.UTC(),
	}, nil
}
