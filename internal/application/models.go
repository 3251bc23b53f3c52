package application

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
	"github.com/example/resource-reservations/internal/scheduler"
)

// Role classifies a principal.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	// RoleDevice identifies check-in terminals and similar signal sources.
	RoleDevice Role = "device"
)

// Principal represents the authenticated caller invoking a service method.
type Principal struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// IsDevice reports whether the principal is a check-in signal source.
func (p Principal) IsDevice() bool {
	return p.Role == RoleDevice
}

// Options carries the tunables shared by the reservation components.
type Options struct {
	Policy          lifecycle.Policy
	RequireApproval bool
	Retry           RetryConfig

	// Fallbacks for resources that leave their bounds unset.
	DefaultMaxAdvance  time.Duration
	DefaultMinDuration time.Duration
	DefaultMaxDuration time.Duration

	AlternativeCount   int
	AlternativeHorizon time.Duration
	SweepBatchSize     int

	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Policy == (lifecycle.Policy{}) {
		o.Policy = lifecycle.DefaultPolicy()
	}
	o.Retry = o.Retry.withDefaults()
	if o.DefaultMaxAdvance <= 0 {
		o.DefaultMaxAdvance = 30 * 24 * time.Hour
	}
	if o.DefaultMinDuration <= 0 {
		o.DefaultMinDuration = 30 * time.Minute
	}
	if o.DefaultMaxDuration <= 0 {
		o.DefaultMaxDuration = 8 * time.Hour
	}
	if o.AlternativeCount <= 0 {
		o.AlternativeCount = 3
	}
	if o.AlternativeHorizon <= 0 {
		o.AlternativeHorizon = 24 * time.Hour
	}
	if o.SweepBatchSize <= 0 {
		o.SweepBatchSize = 200
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	o.Logger = defaultLogger(o.Logger)
	return o
}

// bounds returns the resource's booking limits with defaults applied.
func (o Options) bounds(resource persistence.Resource) (maxAdvance, minDuration, maxDuration time.Duration) {
	maxAdvance, minDuration, maxDuration = resource.MaxAdvance, resource.MinDuration, resource.MaxDuration
	if maxAdvance <= 0 {
		maxAdvance = o.DefaultMaxAdvance
	}
	if minDuration <= 0 {
		minDuration = o.DefaultMinDuration
	}
	if maxDuration <= 0 {
		maxDuration = o.DefaultMaxDuration
	}
	return maxAdvance, minDuration, maxDuration
}

// CreateReservationParams wraps the data required to create a reservation.
type CreateReservationParams struct {
	Principal           Principal
	ResourceID          string
	Start               TimeInput
	End                 TimeInput
	Purpose             string
	SpecialRequirements *string
}

// ModifyReservationParams describes a partial update. Nil fields keep their value.
type ModifyReservationParams struct {
	Principal           Principal
	ReservationID       string
	Start               *TimeInput
	End                 *TimeInput
	Purpose             *string
	SpecialRequirements *string
}

// PriorityBookParams wraps an admin override booking.
type PriorityBookParams struct {
	Principal           Principal
	ResourceID          string
	Start               TimeInput
	End                 TimeInput
	Purpose             string
	SpecialRequirements *string
}

// JoinWaitlistParams wraps a waitlist join request.
type JoinWaitlistParams struct {
	Principal  Principal
	ResourceID string
	Start      TimeInput
	End        TimeInput
}

// ConflictReport answers a conflict or availability query.
type ConflictReport struct {
	ResourceID   string
	Requested    scheduler.Window
	Available    bool
	Conflicts    []persistence.Reservation
	Alternatives []scheduler.Window
}

// BusySlot is a blocking reservation as shown on a calendar.
type BusySlot struct {
	ReservationID string
	Window        scheduler.Window
	Status        lifecycle.Status
	Priority      bool
}

// Calendar lists busy and free windows of a resource for a range.
type Calendar struct {
	ResourceID string
	TimeZone   string
	Range      scheduler.Window
	Busy       []BusySlot
	Free       []scheduler.Window
}

// ListReservationsParams narrows ListMyReservations.
type ListReservationsParams struct {
	Principal Principal
	From      *time.Time
	To        *time.Time
	Statuses  []lifecycle.Status
	Limit     int
}
