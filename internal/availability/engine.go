// Package availability answers whether a date, time and party size can be
// seated, and which table a party gets.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/apperr"
	"tablebook/internal/model"
	"tablebook/internal/pool"
	"tablebook/internal/store"
)

// Rules are the booking constants shared by every component.
type Rules struct {
	// Duration is the fixed occupied length of every reservation.
	Duration time.Duration
	// SlotStep spaces candidate start times.
	SlotStep time.Duration
	Policy   Policy
	// MaxAdvance limits how far ahead bookings are accepted. Zero disables the limit.
	MaxAdvance time.Duration
}

func DefaultRules() Rules {
	return Rules{
		Duration:   2 * time.Hour,
		SlotStep:   30 * time.Minute,
		Policy:     PolicyTableNumber,
		MaxAdvance: 60 * 24 * time.Hour,
	}
}

// Engine computes slots and allocations against pooled store connections.
type Engine struct {
	pool   *pool.Pool[store.Conn]
	rules  Rules
	cache  SlotCache
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Engine)

// WithCache enables the slot cache.
func WithCache(c SlotCache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(p *pool.Pool[store.Conn], rules Rules, logger zerolog.Logger, opts ...Option) *Engine {
	if rules.Duration <= 0 {
		rules.Duration = DefaultRules().Duration
	}
	if rules.SlotStep <= 0 {
		rules.SlotStep = DefaultRules().SlotStep
	}
	if rules.Policy == "" {
		rules.Policy = PolicyTableNumber
	}
	e := &Engine{
		pool:   p,
		rules:  rules,
		cache:  NopCache{},
		logger: logger.With().Str("component", "availability").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Rules() Rules {
	return e.rules
}

func (e *Engine) Now() time.Time {
	return e.now()
}

// Cache returns the slot cache in use.
func (e *Engine) Cache() SlotCache {
	return e.cache
}

// LoadPlan plans every ACTIVE reservation on the days window touches,
// leaving out excludeID. Whole days are loaded because a chain of
// overlapping reservations can reach past window and still constrain it.
func (e *Engine) LoadPlan(ctx context.Context, tx store.Tx, window model.Interval, excludeID int64) (*Plan, error) {
	tables, err := tx.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	days := planWindow(window)
	// A reservation overlaps days iff it starts after days.Start - Duration
	// and before days.End.
	after := days.Start.Add(-e.rules.Duration)
	reservations, err := tx.FindReservations(ctx, store.ReservationFilter{
		Status: []model.ReservationStatus{model.StatusActive},
		After:  &after,
		Before: &days.End,
	})
	if err != nil {
		return nil, fmt.Errorf("find reservations: %w", err)
	}
	if excludeID != 0 {
		kept := reservations[:0]
		for _, r := range reservations {
			if r.ID != excludeID {
				kept = append(kept, r)
			}
		}
		reservations = kept
	}
	return NewPlan(tables, reservations, e.rules.Duration, e.rules.Policy), nil
}

// planWindow widens window to whole calendar days.
func planWindow(window model.Interval) model.Interval {
	start := model.DayStart(window.Start)
	end := model.DayStart(window.End)
	if end.Before(window.End) {
		end = end.AddDate(0, 0, 1)
	}
	if !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}
	return model.Interval{Start: start, End: end}
}

// GetAvailableSlots lists bookable start times on date for partySize, ascending.
// Slots already in the past are left out.
func (e *Engine) GetAvailableSlots(ctx context.Context, date time.Time, partySize int) ([]time.Time, error) {
	if partySize <= 0 {
		return nil, apperr.Validation("party size must be positive")
	}
	now := e.now()
	day := model.DayStart(date)
	if day.AddDate(0, 0, 1).Before(now) {
		return []time.Time{}, nil
	}
	if e.rules.MaxAdvance > 0 && day.After(now.Add(e.rules.MaxAdvance)) {
		return []time.Time{}, nil
	}

	slots, ok := e.cache.Get(ctx, day, partySize)
	if !ok {
		err := e.pool.With(ctx, func(c store.Conn) error {
			var err error
			slots, err = e.SlotsTx(ctx, c, day, partySize)
			return err
		})
		if err != nil {
			return nil, apperr.Classify(err, "list slots")
		}
		e.cache.Set(ctx, day, partySize, slots)
	}

	out := make([]time.Time, 0, len(slots))
	for _, s := range slots {
		if !s.Before(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// SlotsTx computes the candidate slots for date that the plan admits.
// For a fixed snapshot the result is deterministic.
func (e *Engine) SlotsTx(ctx context.Context, tx store.Tx, date time.Time, partySize int) ([]time.Time, error) {
	hours, err := EffectiveHours(ctx, tx, date)
	if err != nil {
		return nil, err
	}
	if hours.Closed {
		return []time.Time{}, nil
	}
	plan, err := e.LoadPlan(ctx, tx, model.Interval{Start: hours.Open, End: hours.Close}, 0)
	if err != nil {
		return nil, err
	}

	slots := []time.Time{}
	last := hours.LastStart(e.rules.Duration)
	for t := hours.Open; !t.After(last); t = t.Add(e.rules.SlotStep) {
		if plan.Admits(model.NewInterval(t, e.rules.Duration), partySize) {
			slots = append(slots, t)
		}
	}
	return slots, nil
}

// AllocateTable returns the table a party of partySize would get at at.
func (e *Engine) AllocateTable(ctx context.Context, at time.Time, partySize int) (int, bool, error) {
	if partySize <= 0 {
		return 0, false, apperr.Validation("party size must be positive")
	}
	var (
		number int
		ok     bool
	)
	err := e.pool.With(ctx, func(c store.Conn) error {
		var err error
		number, ok, err = e.AllocateTx(ctx, c, at, partySize, 0, nil)
		return err
	})
	if err != nil {
		return 0, false, apperr.Classify(err, "allocate table")
	}
	return number, ok, nil
}

// AllocateTx finds a table for [at, at+Duration) that leaves every other
// ACTIVE reservation placeable. excludeID leaves one reservation out of the
// plan; skip filters tables.
func (e *Engine) AllocateTx(ctx context.Context, tx store.Tx, at time.Time, partySize int, excludeID int64, skip func(model.Table) bool) (int, bool, error) {
	iv := model.NewInterval(at, e.rules.Duration)
	plan, err := e.LoadPlan(ctx, tx, iv, excludeID)
	if err != nil {
		return 0, false, err
	}
	number, ok := plan.Place(iv, partySize, skip)
	return number, ok, nil
}

// CheckBookable validates a new reservation at at for partySize and confirms
// that a table is still free. It must run inside the creating transaction.
func (e *Engine) CheckBookable(ctx context.Context, tx store.Tx, at time.Time, partySize int) error {
	if partySize <= 0 {
		return apperr.Validation("party size must be positive")
	}
	now := e.now()
	if at.Before(now) {
		return apperr.Validation("reservation time %s is in the past", at.Format(time.RFC3339))
	}
	if e.rules.MaxAdvance > 0 && at.After(now.Add(e.rules.MaxAdvance)) {
		return apperr.Validation("reservations open at most %d days ahead", int(e.rules.MaxAdvance.Hours()/24))
	}

	hours, err := EffectiveHours(ctx, tx, at)
	if err != nil {
		return err
	}
	if hours.Closed {
		return apperr.SlotUnavailable("restaurant is closed on %s", model.DateKey(at))
	}
	if !hours.Admits(at, e.rules.Duration) {
		return apperr.SlotUnavailable("%s is outside opening hours %s-%s",
			at.Format("15:04"), hours.Open.Format("15:04"), hours.LastStart(e.rules.Duration).Format("15:04"))
	}
	if at.Sub(hours.Open)%e.rules.SlotStep != 0 {
		return apperr.Validation("reservation time must be on a %d minute boundary", int(e.rules.SlotStep.Minutes()))
	}

	_, ok, err := e.AllocateTx(ctx, tx, at, partySize, 0, nil)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.SlotUnavailable("no table for %d at %s", partySize, at.Format("2006-01-02 15:04"))
	}
	return nil
}

// Invalidate drops cached slots for date.
func (e *Engine) Invalidate(ctx context.Context, date time.Time) {
	e.cache.Invalidate(ctx, model.DayStart(date))
}

// InvalidateAll drops every cached slot list.
func (e *Engine) InvalidateAll(ctx context.Context) {
	e.cache.InvalidateAll(ctx)
}
