// Package localtime turns wall-clock readings in a named zone into absolute
// instants and refuses to guess when a daylight-saving transition makes the
// reading nonexistent or ambiguous.
package localtime

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "time/tzdata"
)

// Layouts accepted by ParseWall, most precise first.
var wallLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ErrInvalidWall is returned for unparseable wall-clock strings.
var ErrInvalidWall = errors.New("localtime: invalid wall-clock time")

// ErrUnknownZone is returned when the zone name cannot be loaded.
var ErrUnknownZone = errors.New("localtime: unknown time zone")

// Kind classifies a daylight-saving anomaly.
type Kind string

const (
	// KindGap marks a wall time skipped by a forward shift.
	KindGap Kind = "nonexistent"
	// KindAmbiguous marks a wall time repeated by a backward shift.
	KindAmbiguous Kind = "ambiguous"
)

// Wall is a civil date and time without a zone.
type Wall struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

func (w Wall) String() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", w.Year, int(w.Month), w.Day, w.Hour, w.Minute, w.Second)
}

func (w Wall) naive() time.Time {
	return time.Date(w.Year, w.Month, w.Day, w.Hour, w.Minute, w.Second, 0, time.UTC)
}

func wallOf(t time.Time) Wall {
	return Wall{
		Year:   t.Year(),
		Month:  t.Month(),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

// ParseWall parses a zone-less date time such as "2024-03-10T02:30".
func ParseWall(value string) (Wall, error) {
	value = strings.TrimSpace(value)
	for _, layout := range wallLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return wallOf(t), nil
		}
	}
	return Wall{}, fmt.Errorf("%w: %q", ErrInvalidWall, value)
}

// AnomalyError reports a wall time that cannot be mapped to exactly one instant.
// Suggestions are ordered chronologically; for a gap it holds the instant the
// reading would denote after the shift, for an overlap both candidate instants.
type AnomalyError struct {
	Kind        Kind
	Local       Wall
	Zone        string
	Suggestions []time.Time
}

func (e *AnomalyError) Error() string {
	return fmt.Sprintf("localtime: %s is %s in %s", e.Local, e.Kind, e.Zone)
}

// LoadZone loads an IANA zone, defaulting to UTC for an empty name.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownZone, name)
	}
	return loc, nil
}

// Resolve maps w in loc to a single instant or returns *AnomalyError.
func Resolve(w Wall, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	naive := w.naive()

	// Zone transitions are far apart, so offsets observed a little more than a
	// day either side cover every offset that can apply to this reading.
	before := offsetAt(naive.Add(-26*time.Hour), loc)
	after := offsetAt(naive.Add(26*time.Hour), loc)
	offsets := []int{before}
	if after != before {
		offsets = append(offsets, after)
	}

	var matches []time.Time
	for _, offset := range offsets {
		instant := naive.Add(-time.Duration(offset) * time.Second)
		if wallOf(instant.In(loc)) == w {
			matches = append(matches, instant.UTC())
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Before(matches[j]) })

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		shifted := naive.Add(-time.Duration(before) * time.Second).UTC()
		return time.Time{}, &AnomalyError{Kind: KindGap, Local: w, Zone: loc.String(), Suggestions: []time.Time{shifted}}
	default:
		return time.Time{}, &AnomalyError{Kind: KindAmbiguous, Local: w, Zone: loc.String(), Suggestions: matches}
	}
}

// ResolveString parses value and resolves it in the named zone.
func ResolveString(value, zone string) (time.Time, error) {
	w, err := ParseWall(value)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := LoadZone(zone)
	if err != nil {
		return time.Time{}, err
	}
	return Resolve(w, loc)
}

func offsetAt(instant time.Time, loc *time.Location) int {
	_, offset := instant.In(loc).Zone()
	return offset
}
