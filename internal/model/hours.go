package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OpeningHours is the weekly default for one weekday.
type OpeningHours struct {
	Weekday time.Weekday `json:"weekday"`
	Opens   string       `json:"opens"`  // "12:00"
	Closes  string       `json:"closes"` // "23:00"
	Closed  bool         `json:"closed"`
}

// SpecialHours overrides the weekly default for a single date.
type SpecialHours struct {
	Date   time.Time `json:"date"`
	Opens  string    `json:"opens,omitempty"`
	Closes string    `json:"closes,omitempty"`
	Closed bool      `json:"closed"`
	Reason string    `json:"reason,omitempty"`
}

// DateKey is the storage key for a calendar day.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// ParseClock parses "HH:MM" on the given date. "24:00" means the following midnight.
func ParseClock(date time.Time, hhmm string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(hhmm), ":")
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("invalid time %q", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid hour in %q", hhmm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid minute in %q", hhmm)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return time.Time{}, fmt.Errorf("time out of range %q", hhmm)
	}
	// Wall-clock fields, so DST days still read 12:00 as noon.
	y, mo, d := date.Date()
	return time.Date(y, mo, d, h, m, 0, 0, date.Location()), nil
}

// ValidateClockRange checks that opens < closes when the day is open.
func ValidateClockRange(opens, closes string, closed bool) error {
	if closed {
		return nil
	}
	ref := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	o, err := ParseClock(ref, opens)
	if err != nil {
		return fmt.Errorf("opens: %w", err)
	}
	c, err := ParseClock(ref, closes)
	if err != nil {
		return fmt.Errorf("closes: %w", err)
	}
	if !o.Before(c) {
		return fmt.Errorf("opens %s must be before closes %s", opens, closes)
	}
	return nil
}

func (h OpeningHours) Validate() error {
	if h.Weekday < time.Sunday || h.Weekday > time.Saturday {
		return fmt.Errorf("invalid weekday %d", h.Weekday)
	}
	return ValidateClockRange(h.Opens, h.Closes, h.Closed)
}

func (h SpecialHours) Validate() error {
	if h.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	return ValidateClockRange(h.Opens, h.Closes, h.Closed)
}

// Same reports whether two weekly entries describe the same hours.
func (h OpeningHours) Same(other OpeningHours) bool {
	if h.Weekday != other.Weekday || h.Closed != other.Closed {
		return false
	}
	return h.Closed || (h.Opens == other.Opens && h.Closes == other.Closes)
}

func (h SpecialHours) Same(other SpecialHours) bool {
	if DateKey(h.Date) != DateKey(other.Date) || h.Closed != other.Closed {
		return false
	}
	return h.Closed || (h.Opens == other.Opens && h.Closes == other.Closes)
}
