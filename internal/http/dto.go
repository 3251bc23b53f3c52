package http

import (
	"strings"
	"time"

	"github.com/example/resource-reservations/internal/application"
	"github.com/example/resource-reservations/internal/persistence"
	"github.com/example/resource-reservations/internal/scheduler"
)

type windowDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type busyDTO struct {
	ReservationID string    `json:"reservation_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Status        string    `json:"status"`
	Priority      bool      `json:"priority,omitempty"`
}

type reservationDTO struct {
	ID                  string     `json:"id"`
	ResourceID          string     `json:"resource_id"`
	RequesterID         string     `json:"requester_id"`
	Start               time.Time  `json:"start"`
	End                 time.Time  `json:"end"`
	Status              string     `json:"status"`
	Purpose             string     `json:"purpose"`
	SpecialRequirements *string    `json:"special_requirements,omitempty"`
	Priority            bool       `json:"priority"`
	CheckedInAt         *time.Time `json:"checked_in_at,omitempty"`
	CheckedOutAt        *time.Time `json:"checked_out_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type waitlistEntryDTO struct {
	ID             string     `json:"id"`
	ResourceID     string     `json:"resource_id"`
	RequesterID    string     `json:"requester_id"`
	RequestedStart time.Time  `json:"requested_start"`
	RequestedEnd   time.Time  `json:"requested_end"`
	Position       int        `json:"position"`
	Status         string     `json:"status"`
	NotifiedAt     *time.Time `json:"notified_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Offer          *windowDTO `json:"offer,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type transitionDTO struct {
	ID      string    `json:"id"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to"`
	ActorID string    `json:"actor_id"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

type resourceDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Bookable    bool   `json:"bookable"`
	TimeZone    string `json:"time_zone"`
	MaxAdvance  string `json:"max_advance,omitempty"`
	MinDuration string `json:"min_duration,omitempty"`
	MaxDuration string `json:"max_duration,omitempty"`
}

// parseTimeInput accepts an RFC 3339 instant or a local wall time that is
// resolved in zone, or in the resource's zone when zone is empty.
func parseTimeInput(value, zone string) application.TimeInput {
	value = strings.TrimSpace(value)
	if value == "" {
		return application.TimeInput{}
	}
	if instant, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return application.At(instant)
	}
	return application.Local(value, strings.TrimSpace(zone))
}

func toWindowDTO(w scheduler.Window) windowDTO {
	return windowDTO{Start: w.Start, End: w.End}
}

func toWindowDTOs(windows []scheduler.Window) []windowDTO {
	out := make([]windowDTO, 0, len(windows))
	for _, w := range windows {
		out = append(out, toWindowDTO(w))
	}
	return out
}

func toBusyDTOs(reservations []persistence.Reservation) []busyDTO {
	out := make([]busyDTO, 0, len(reservations))
	for _, r := range reservations {
		out = append(out, busyDTO{ReservationID: r.ID, Start: r.Start, End: r.End, Status: string(r.Status), Priority: r.Priority})
	}
	return out
}

func toReservationDTO(r persistence.Reservation) reservationDTO {
	return reservationDTO{
		ID:                  r.ID,
		ResourceID:          r.ResourceID,
		RequesterID:         r.RequesterID,
		Start:               r.Start,
		End:                 r.End,
		Status:              string(r.Status),
		Purpose:             r.Purpose,
		SpecialRequirements: r.SpecialRequirements,
		Priority:            r.Priority,
		CheckedInAt:         r.CheckedInAt,
		CheckedOutAt:        r.CheckedOutAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func toReservationDTOs(reservations []persistence.Reservation) []reservationDTO {
	out := make([]reservationDTO, 0, len(reservations))
	for _, r := range reservations {
		out = append(out, toReservationDTO(r))
	}
	return out
}

func toWaitlistEntryDTO(e persistence.WaitlistEntry) waitlistEntryDTO {
	dto := waitlistEntryDTO{
		ID:             e.ID,
		ResourceID:     e.ResourceID,
		RequesterID:    e.RequesterID,
		RequestedStart: e.RequestedStart,
		RequestedEnd:   e.RequestedEnd,
		Position:       e.Position,
		Status:         string(e.Status),
		NotifiedAt:     e.NotifiedAt,
		ExpiresAt:      e.ExpiresAt,
		CreatedAt:      e.CreatedAt,
	}
	if e.OfferStart != nil && e.OfferEnd != nil {
		dto.Offer = &windowDTO{Start: *e.OfferStart, End: *e.OfferEnd}
	}
	return dto
}

func toTransitionDTO(t persistence.Transition) transitionDTO {
	return transitionDTO{ID: t.ID, From: string(t.From), To: string(t.To), ActorID: t.ActorID, Reason: t.Reason, At: t.At}
}

func toResourceDTO(r persistence.Resource) resourceDTO {
	dto := resourceDTO{ID: r.ID, Name: r.Name, Bookable: r.Bookable, TimeZone: r.TimeZone}
	if r.MaxAdvance > 0 {
		dto.MaxAdvance = r.MaxAdvance.String()
	}
	if r.MinDuration > 0 {
		dto.MinDuration = r.MinDuration.String()
	}
	if r.MaxDuration > 0 {
		dto.MaxDuration = r.MaxDuration.String()
	}
	return dto
}
