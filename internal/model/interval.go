package model

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval returns the interval starting at start and lasting d.
func NewInterval(start time.Time, d time.Duration) Interval {
	return Interval{Start: start, End: start.Add(d)}
}

// Overlaps reports whether a and b share any instant.
// Touching intervals (a.End == b.Start) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Overlaps reports whether i shares any instant with other.
func (i Interval) Overlaps(other Interval) bool {
	return Overlaps(i, other)
}

// Contains reports whether t lies in [Start, End).
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// DayStart truncates t to local midnight in t's location.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayInterval returns the interval covering the calendar day of t.
func DayInterval(t time.Time) Interval {
	start := DayStart(t)
	return Interval{Start: start, End: start.AddDate(0, 0, 1)}
}
