package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tablebook/internal/model"
	"tablebook/internal/store"
)

// Source tells where effective hours came from.
type Source string

const (
	SourceSpecial Source = "special"
	SourceWeekly  Source = "weekly"
	SourceNone    Source = "none"
)

// Hours are the effective opening hours of one date.
type Hours struct {
	Date   time.Time
	Open   time.Time
	Close  time.Time
	Closed bool
	Source Source
}

// LastStart is the latest start time that still ends by closing.
func (h Hours) LastStart(d time.Duration) time.Time {
	return h.Close.Add(-d)
}

// Admits reports whether a reservation of duration d may start at t.
func (h Hours) Admits(t time.Time, d time.Duration) bool {
	if h.Closed {
		return false
	}
	return !t.Before(h.Open) && !t.After(h.LastStart(d))
}

// IsOpenAt reports whether t falls inside [Open, Close).
func (h Hours) IsOpenAt(t time.Time) bool {
	return !h.Closed && !t.Before(h.Open) && t.Before(h.Close)
}

// ResolveHours applies a special override over the weekly default.
// A date with neither is closed.
func ResolveHours(date time.Time, weekly *model.OpeningHours, special *model.SpecialHours) (Hours, error) {
	day := model.DayStart(date)
	h := Hours{Date: day, Closed: true, Source: SourceNone}

	var opens, closes string
	switch {
	case special != nil:
		h.Source = SourceSpecial
		if special.Closed {
			return h, nil
		}
		opens, closes = special.Opens, special.Closes
	case weekly != nil:
		h.Source = SourceWeekly
		if weekly.Closed {
			return h, nil
		}
		opens, closes = weekly.Opens, weekly.Closes
	default:
		return h, nil
	}

	open, err := model.ParseClock(day, opens)
	if err != nil {
		return h, fmt.Errorf("parse opening time: %w", err)
	}
	closeAt, err := model.ParseClock(day, closes)
	if err != nil {
		return h, fmt.Errorf("parse closing time: %w", err)
	}
	if !open.Before(closeAt) {
		return h, fmt.Errorf("opening %s is not before closing %s", opens, closes)
	}
	h.Open, h.Close, h.Closed = open, closeAt, false
	return h, nil
}

// EffectiveHours loads the weekly default and any override for date.
func EffectiveHours(ctx context.Context, tx store.HoursStore, date time.Time) (Hours, error) {
	special, err := tx.GetSpecialHours(ctx, date)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Hours{}, fmt.Errorf("get special hours: %w", err)
	}
	weekly, err := tx.GetOpeningHours(ctx, date.Weekday())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Hours{}, fmt.Errorf("get opening hours: %w", err)
	}
	return ResolveHours(date, weekly, special)
}
