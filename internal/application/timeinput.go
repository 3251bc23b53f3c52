package application

import (
	"errors"
	"strings"
	"time"

	"github.com/example/resource-reservations/internal/localtime"
)

// TimeInput is either an absolute instant or a wall-clock reading with an
// optional IANA zone. A reading without a zone is interpreted in the
// resource's zone.
type TimeInput struct {
	Instant time.Time
	Local   string
	Zone    string
}

// At wraps an absolute instant.
func At(t time.Time) TimeInput {
	return TimeInput{Instant: t}
}

// Local wraps a wall-clock reading such as "2024-03-10T02:30".
func Local(wall, zone string) TimeInput {
	return TimeInput{Local: wall, Zone: zone}
}

// IsZero reports whether no time was supplied.
func (in TimeInput) IsZero() bool {
	return in.Instant.IsZero() && strings.TrimSpace(in.Local) == ""
}

// resolveTime normalises in to a UTC instant at storage precision.
func resolveTime(field string, in TimeInput, resourceZone string) (time.Time, error) {
	if in.IsZero() {
		return time.Time{}, newValidationError(field, "is required")
	}
	if strings.TrimSpace(in.Local) == "" {
		return normalize(in.Instant), nil
	}

	zone := in.Zone
	if strings.TrimSpace(zone) == "" {
		zone = resourceZone
	}
	instant, err := localtime.ResolveString(in.Local, zone)
	if err == nil {
		return normalize(instant), nil
	}

	var anomaly *localtime.AnomalyError
	switch {
	case errors.As(err, &anomaly):
		return time.Time{}, &TimeZoneAnomalyError{
			Field:       field,
			Kind:        anomaly.Kind,
			Local:       anomaly.Local.String(),
			Zone:        anomaly.Zone,
			Suggestions: anomaly.Suggestions,
		}
	case errors.Is(err, localtime.ErrUnknownZone):
		return time.Time{}, newValidationError("zone", "unknown time zone")
	case errors.Is(err, localtime.ErrInvalidWall):
		return time.Time{}, newValidationError(field, "must be a local date-time like 2006-01-02T15:04")
	}
	return time.Time{}, err
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
