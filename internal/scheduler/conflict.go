package scheduler

import (
	"sort"
	"time"
)

// Booking is a blocking reservation as seen by the detector. Callers are
// expected to pass only reservations in a blocking status.
type Booking struct {
	ID     string
	Window Window
}

// FindConflicts returns every booking overlapping candidate, ordered by start
// time. The booking identified by excludeID is ignored, which lets a
// reservation be re-checked against its own timeline during modification.
func FindConflicts(existing []Booking, candidate Window, excludeID string) []Booking {
	var conflicts []Booking
	for _, booking := range existing {
		if excludeID != "" && booking.ID == excludeID {
			continue
		}
		if Overlaps(booking.Window, candidate) {
			conflicts = append(conflicts, booking)
		}
	}
	sortBookings(conflicts)
	return conflicts
}

// HasConflict reports whether any booking other than excludeID overlaps candidate.
func HasConflict(existing []Booking, candidate Window, excludeID string) bool {
	for _, booking := range existing {
		if excludeID != "" && booking.ID == excludeID {
			continue
		}
		if Overlaps(booking.Window, candidate) {
			return true
		}
	}
	return false
}

// SuggestAlternatives proposes up to count free windows with the same
// duration as requested, searched inside bounds. Each free gap contributes at
// most one proposal, placed as close to the requested start as the gap
// allows; proposals are ordered by their distance from the requested start,
// earlier first on ties.
func SuggestAlternatives(existing []Booking, requested, bounds Window, count int) []Window {
	if count <= 0 || !requested.Valid() || !bounds.Valid() {
		return nil
	}
	length := requested.Duration()

	type proposal struct {
		window   Window
		distance time.Duration
	}
	var proposals []proposal
	for _, gap := range FreeGaps(existing, bounds) {
		if gap.Duration() < length {
			continue
		}
		start := requested.Start
		latest := gap.End.Add(-length)
		if start.Before(gap.Start) {
			start = gap.Start
		}
		if start.After(latest) {
			start = latest
		}
		candidate := Window{Start: start, End: start.Add(length)}
		if candidate.Equal(requested) {
			continue
		}
		distance := candidate.Start.Sub(requested.Start)
		if distance < 0 {
			distance = -distance
		}
		proposals = append(proposals, proposal{window: candidate, distance: distance})
	}

	sort.SliceStable(proposals, func(i, j int) bool {
		if proposals[i].distance == proposals[j].distance {
			return proposals[i].window.Start.Before(proposals[j].window.Start)
		}
		return proposals[i].distance < proposals[j].distance
	})

	if len(proposals) > count {
		proposals = proposals[:count]
	}
	out := make([]Window, len(proposals))
	for i, p := range proposals {
		out[i] = p.window
	}
	return out
}

// FreeGaps returns the maximal sub-windows of bounds not covered by any booking.
func FreeGaps(existing []Booking, bounds Window) []Window {
	if !bounds.Valid() {
		return nil
	}
	busy := Merge(existing)
	cursor := bounds.Start
	var gaps []Window
	for _, w := range busy {
		if !w.End.After(cursor) {
			continue
		}
		if !w.Start.Before(bounds.End) {
			break
		}
		if w.Start.After(cursor) {
			gaps = append(gaps, Window{Start: cursor, End: w.Start})
		}
		cursor = w.End
	}
	if cursor.Before(bounds.End) {
		gaps = append(gaps, Window{Start: cursor, End: bounds.End})
	}
	return gaps
}

// Merge collapses overlapping or touching booking windows into a sorted list
// of disjoint busy windows.
func Merge(existing []Booking) []Window {
	if len(existing) == 0 {
		return nil
	}
	windows := make([]Window, 0, len(existing))
	for _, b := range existing {
		if b.Window.Valid() {
			windows = append(windows, b.Window)
		}
	}
	sort.Slice(windows, func(i, j int) bool {
		return windows[i].Start.Before(windows[j].Start)
	})

	var merged []Window
	for _, w := range windows {
		if n := len(merged); n > 0 && !w.Start.After(merged[n-1].End) {
			if w.End.After(merged[n-1].End) {
				merged[n-1].End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

func sortBookings(bookings []Booking) {
	sort.Slice(bookings, func(i, j int) bool {
		if bookings[i].Window.Start.Equal(bookings[j].Window.Start) {
			return bookings[i].ID < bookings[j].ID
		}
		return bookings[i].Window.Start.Before(bookings[j].Window.Start)
	})
}
