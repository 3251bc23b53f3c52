package scheduler

import "time"

// Window is a half-open interval [Start, End). The End instant is not part of
// the window, so a window ending at T and another starting at T do not overlap.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns the window [start, end) normalised to UTC.
func NewWindow(start, end time.Time) Window {
	return Window{Start: start.UTC(), End: end.UTC()}
}

// Valid reports whether the window has a strictly positive length.
func (w Window) Valid() bool {
	return !w.Start.IsZero() && !w.End.IsZero() && w.Start.Before(w.End)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps reports whether w and other share at least one instant.
func (w Window) Overlaps(other Window) bool {
	return Overlaps(w, other)
}

// Contains reports whether other lies entirely inside w.
func (w Window) Contains(other Window) bool {
	return !other.Start.Before(w.Start) && !other.End.After(w.End)
}

// Equal compares both bounds as instants.
func (w Window) Equal(other Window) bool {
	return w.Start.Equal(other.Start) && w.End.Equal(other.End)
}

// Overlaps is the half-open overlap predicate: a.Start < b.End && b.Start < a.End.
func Overlaps(a, b Window) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Subtract returns the parts of w not covered by cut, in chronological order.
func (w Window) Subtract(cut Window) []Window {
	if !Overlaps(w, cut) {
		return []Window{w}
	}
	var parts []Window
	if w.Start.Before(cut.Start) {
		parts = append(parts, Window{Start: w.Start, End: cut.Start})
	}
	if cut.End.Before(w.End) {
		parts = append(parts, Window{Start: cut.End, End: w.End})
	}
	return parts
}
