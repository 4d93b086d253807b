package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"tablebook/internal/availability"
	"tablebook/internal/events"
	"tablebook/internal/model"
	"tablebook/internal/notify"
	"tablebook/internal/store"
)

var active = []model.ReservationStatus{model.StatusActive}

// sweepReminders notifies ACTIVE reservations starting in
// (from+lead, to+lead].
func (s *Scheduler) sweepReminders(ctx context.Context, from, to time.Time) (int, error) {
	if !to.After(from) {
		return 0, nil
	}
	after, until := from.Add(s.cfg.ReminderLead), to.Add(s.cfg.ReminderLead)
	var due []model.Reservation
	err := s.pool.With(ctx, func(c store.Conn) error {
		var err error
		due, err = c.FindReservations(ctx, store.ReservationFilter{Status: active, After: &after, Until: &until})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("find reminders: %w", err)
	}
	for i := range due {
		s.notifier.Notify(ctx, notify.Reminder(&due[i]))
	}
	return len(due), nil
}

// sweepNoShows marks unseated reservations past the grace period as NO_SHOW.
// The update is conditional on ACTIVE, so a repeat run changes nothing.
func (s *Scheduler) sweepNoShows(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.NoShowGrace)
	var marked []model.Reservation
	err := s.pool.With(ctx, func(c store.Conn) error {
		late, err := c.FindReservations(ctx, store.ReservationFilter{Status: active, Unassigned: true, Before: &cutoff})
		if err != nil {
			return err
		}
		var errs []error
		for _, r := range late {
			changed, err := c.TransitionReservation(ctx, r.ID, model.StatusActive, model.StatusNoShow, model.ReasonNoShow, now)
			if err != nil {
				errs = append(errs, fmt.Errorf("reservation %s: %w", r.Code, err))
				continue
			}
			if changed {
				r.Status, r.CancelReason, r.UpdatedAt = model.StatusNoShow, model.ReasonNoShow, now
				marked = append(marked, r)
			}
		}
		return errors.Join(errs...)
	})

	for i := range marked {
		r := &marked[i]
		s.logger.Info().Str("code", r.Code).Time("starts_at", r.StartsAt).Msg("reservation marked no-show")
		s.bus.Publish(events.Event{Type: events.ReservationCancelled, Code: r.Code, Date: r.StartsAt, Reason: model.ReasonNoShow})
		s.notifier.Notify(ctx, notify.NoShow(r))
	}
	if err != nil {
		return len(marked), fmt.Errorf("no-show sweep: %w", err)
	}
	return len(marked), nil
}

// sweepBillReady alerts staff and the seated party when an occupancy reaches
// the fixed duration inside (from, to].
func (s *Scheduler) sweepBillReady(ctx context.Context, from, to time.Time) (int, error) {
	if !to.After(from) {
		return 0, nil
	}
	d := s.engine.Rules().Duration
	type due struct {
		table model.Table
		res   *model.Reservation
	}
	var found []due
	err := s.pool.With(ctx, func(c store.Conn) error {
		tables, err := c.ListTables(ctx)
		if err != nil {
			return err
		}
		for _, t := range tables {
			if !t.IsOccupied() || t.OccupiedSince == nil {
				continue
			}
			end := t.OccupiedSince.Add(d)
			if !end.After(from) || end.After(to) {
				continue
			}
			number := t.Number
			seated, err := c.FindReservations(ctx, store.ReservationFilter{Status: active, TableNumber: &number, Until: &to})
			if err != nil {
				return err
			}
			item := due{table: t}
			if n := len(seated); n > 0 {
				item.res = &seated[n-1]
			}
			found = append(found, item)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bill-ready sweep: %w", err)
	}

	for _, f := range found {
		s.notifier.Notify(ctx, notify.BillReady(f.table, f.res))
		if f.res != nil {
			s.notifier.Notify(ctx, notify.BillReadyGuest(f.res, f.table.OccupiedSince.Add(d)))
		}
	}
	return len(found), nil
}

// sweepPromotions offers each free table to the oldest waiting party that
// fits it, smallest tables first. Runs only while the restaurant is open.
func (s *Scheduler) sweepPromotions(ctx context.Context, now time.Time) (int, error) {
	d := s.engine.Rules().Duration
	iv := model.NewInterval(now, d)
	var offers []model.WaitlistEntry

	err := s.pool.With(ctx, func(c store.Conn) error {
		hours, err := availability.EffectiveHours(ctx, c, now)
		if err != nil {
			return err
		}
		if !hours.IsOpenAt(now) {
			return nil
		}

		entries, err := c.FindWaitlist(ctx, store.WaitlistFilter{})
		if err != nil {
			return err
		}
		offered := make(map[int]bool)
		var waiting []model.WaitlistEntry
		for _, e := range entries {
			switch {
			case !e.IsNotified():
				waiting = append(waiting, e)
			case e.OfferedTable != nil && !e.OfferExpired(now, s.cfg.PromotionGrace):
				offered[*e.OfferedTable] = true
			}
		}
		if len(waiting) == 0 {
			return nil
		}

		plan, err := s.engine.LoadPlan(ctx, c, iv, 0)
		if err != nil {
			return err
		}
		tables := append([]model.Table(nil), plan.Tables()...)
		sort.SliceStable(tables, func(i, j int) bool {
			if tables[i].Capacity != tables[j].Capacity {
				return tables[i].Capacity < tables[j].Capacity
			}
			return tables[i].Number < tables[j].Number
		})

		taken := make(map[int64]bool)
		for _, t := range tables {
			if t.IsOccupied() || offered[t.Number] {
				continue
			}
			for i := range waiting {
				e := &waiting[i]
				if taken[e.ID] || !plan.PlaceOn(t.Number, iv, e.PartySize) {
					continue
				}
				ok, err := s.offer(ctx, c, e.Code, t.Number, now)
				if err != nil {
					return err
				}
				taken[e.ID] = true
				if ok {
					e.Offer(t.Number, now)
					offers = append(offers, *e)
					break
				}
			}
		}
		return nil
	})

	for i := range offers {
		e := &offers[i]
		s.logger.Info().Str("code", e.Code).Int("table", *e.OfferedTable).Msg("waitlist party offered a table")
		s.bus.Publish(events.Event{Type: events.WaitlistPromoted, Code: e.Code})
		s.notifier.Notify(ctx, notify.TableOffer(e, *e.OfferedTable, s.cfg.PromotionGrace))
	}
	if err != nil {
		return len(offers), fmt.Errorf("promotion sweep: %w", err)
	}
	return len(offers), nil
}

// offer stamps the entry if it is still waiting. It reports false when the
// entry left or was already offered a table.
func (s *Scheduler) offer(ctx context.Context, c store.Conn, code string, table int, now time.Time) (bool, error) {
	var ok bool
	err := c.InTx(ctx, func(tx store.Tx) error {
		e, err := tx.GetWaitlistEntry(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if e.IsNotified() {
			return nil
		}
		e.Offer(table, now)
		if err := tx.UpdateWaitlistEntry(ctx, e); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

// sweepTimeouts drops entries whose offer went unanswered for the grace period.
func (s *Scheduler) sweepTimeouts(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.PromotionGrace)
	var dropped []model.WaitlistEntry
	err := s.pool.With(ctx, func(c store.Conn) error {
		expired, err := c.FindWaitlist(ctx, store.WaitlistFilter{NotifiedBy: &cutoff})
		if err != nil {
			return err
		}
		var errs []error
		for _, e := range expired {
			err := c.DeleteWaitlistEntry(ctx, e.Code)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("entry %s: %w", e.Code, err))
				continue
			}
			dropped = append(dropped, e)
		}
		return errors.Join(errs...)
	})

	for i := range dropped {
		e := &dropped[i]
		s.logger.Info().Str("code", e.Code).Msg("waitlist offer expired")
		s.bus.Publish(events.Event{Type: events.WaitlistExpired, Code: e.Code})
		s.notifier.Notify(ctx, notify.OfferExpired(e))
	}
	if err != nil {
		return len(dropped), fmt.Errorf("timeout sweep: %w", err)
	}
	return len(dropped), nil
}
