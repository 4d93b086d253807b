package booking

import (
	"context"
	"errors"
	"time"

	"tablebook/internal/apperr"
	"tablebook/internal/availability"
	"tablebook/internal/events"
	"tablebook/internal/model"
	"tablebook/internal/notify"
	"tablebook/internal/store"
)

// CascadeResult lists the reservations a configuration change touched.
type CascadeResult struct {
	Cancelled  []string `json:"cancelled"`
	Failed     []string `json:"failed"`
	Reassigned []string `json:"reassigned"`
}

func (r *CascadeResult) merge(other CascadeResult) {
	r.Cancelled = append(r.Cancelled, other.Cancelled...)
	r.Failed = append(r.Failed, other.Failed...)
	r.Reassigned = append(r.Reassigned, other.Reassigned...)
}

// SetOpeningHours stores the weekly default for one weekday and cancels
// reservations on upcoming matching days that fall outside the new hours.
// Days with a special override are left alone.
func (s *Service) SetOpeningHours(ctx context.Context, h model.OpeningHours) (CascadeResult, error) {
	if err := h.Validate(); err != nil {
		return CascadeResult{}, apperr.Validation("%s", err.Error())
	}
	if err := s.withConn(ctx, "set opening hours", func(c store.Conn) error {
		return c.SetOpeningHours(ctx, h)
	}); err != nil {
		return CascadeResult{}, err
	}
	s.logger.Info().Str("weekday", h.Weekday.String()).Str("opens", h.Opens).Str("closes", h.Closes).
		Bool("closed", h.Closed).Msg("opening hours changed")
	s.bus.Publish(events.Event{Type: events.HoursChanged})

	var res CascadeResult
	today := model.DayStart(s.engine.Now())
	for i := 0; i < s.cfg.CascadeHorizonDays; i++ {
		day := today.AddDate(0, 0, i)
		if day.Weekday() != h.Weekday {
			continue
		}
		var special *model.SpecialHours
		err := s.withConn(ctx, "get special hours", func(c store.Conn) error {
			var err error
			special, err = c.GetSpecialHours(ctx, day)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			s.logger.Error().Err(err).Str("date", model.DateKey(day)).Msg("cascade: cannot check special hours")
			continue
		}
		if special != nil {
			continue
		}
		res.merge(s.revalidateDay(ctx, day, model.ReasonHoursChanged))
	}
	return res, nil
}

// SetSpecialHours stores an override for one date and re-validates that date.
func (s *Service) SetSpecialHours(ctx context.Context, h model.SpecialHours) (CascadeResult, error) {
	if err := h.Validate(); err != nil {
		return CascadeResult{}, apperr.Validation("%s", err.Error())
	}
	h.Date = model.DayStart(h.Date)
	if err := s.withConn(ctx, "set special hours", func(c store.Conn) error {
		return c.SetSpecialHours(ctx, h)
	}); err != nil {
		return CascadeResult{}, err
	}
	s.logger.Info().Str("date", model.DateKey(h.Date)).Bool("closed", h.Closed).Str("reason", h.Reason).Msg("special hours set")
	s.bus.Publish(events.Event{Type: events.HoursChanged, Date: h.Date})

	reason := model.ReasonHoursChanged
	if h.Closed {
		reason = model.ReasonDateClosed
	}
	return s.revalidateDay(ctx, h.Date, reason), nil
}

// ClearSpecialHours removes an override; the date falls back to weekly hours.
func (s *Service) ClearSpecialHours(ctx context.Context, date time.Time) (CascadeResult, error) {
	day := model.DayStart(date)
	if err := s.withConn(ctx, "clear special hours", func(c store.Conn) error {
		return notFound(c.DeleteSpecialHours(ctx, day), "no special hours on %s", model.DateKey(day))
	}); err != nil {
		return CascadeResult{}, err
	}
	s.logger.Info().Str("date", model.DateKey(day)).Msg("special hours cleared")
	s.bus.Publish(events.Event{Type: events.HoursChanged, Date: day})
	return s.revalidateDay(ctx, day, model.ReasonHoursChanged), nil
}

// revalidateDay cancels every ACTIVE, not yet seated reservation on day
// whose start the effective hours no longer admit. On a closed day that is
// all of them.
func (s *Service) revalidateDay(ctx context.Context, day time.Time, reason string) CascadeResult {
	var (
		res          CascadeResult
		hours        availability.Hours
		reservations []model.Reservation
	)
	di := model.DayInterval(day)
	err := s.withConn(ctx, "revalidate day", func(c store.Conn) error {
		var err error
		if hours, err = availability.EffectiveHours(ctx, c, day); err != nil {
			return err
		}
		reservations, err = c.FindReservations(ctx, store.ReservationFilter{
			Status: []model.ReservationStatus{model.StatusActive},
			From:   &di.Start,
			Before: &di.End,
		})
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Str("date", model.DateKey(day)).Msg("cascade: cannot load day")
		return res
	}

	for i := range reservations {
		r := reservations[i]
		if r.IsSeated() {
			if !hours.Admits(r.StartsAt, s.duration()) {
				s.logger.Warn().Str("code", r.Code).Msg("cascade: seated party left in place")
			}
			continue
		}
		if hours.Admits(r.StartsAt, s.duration()) {
			continue
		}
		s.cascadeCancel(ctx, &r, reason, &res)
	}
	if len(res.Cancelled) > 0 || len(res.Failed) > 0 {
		s.logger.Info().Str("date", model.DateKey(day)).Int("cancelled", len(res.Cancelled)).
			Int("failed", len(res.Failed)).Msg("hours cascade finished")
	}
	return res
}

// cascadeCancel cancels one reservation in its own transaction. Failures are
// recorded and do not stop the caller.
func (s *Service) cascadeCancel(ctx context.Context, r *model.Reservation, reason string, res *CascadeResult) {
	var changed bool
	err := s.inTx(ctx, "cascade cancel", func(tx store.Tx) error {
		var err error
		changed, err = finishTx(ctx, tx, r, model.StatusCancelled, reason, s.engine.Now())
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Str("code", r.Code).Str("reason", reason).Msg("cascade: cancel failed")
		res.Failed = append(res.Failed, r.Code)
		return
	}
	if !changed {
		return
	}
	res.Cancelled = append(res.Cancelled, r.Code)
	s.bus.Publish(events.Event{Type: events.ReservationCancelled, Code: r.Code, Date: r.StartsAt, Reason: reason})
	s.notifier.Notify(ctx, notify.Cancelled(r))
}

// UpsertTable adds or edits a table and re-plans upcoming reservations.
// Occupancy is kept from the stored table.
func (s *Service) UpsertTable(ctx context.Context, t model.Table) (CascadeResult, error) {
	if t.Number <= 0 {
		return CascadeResult{}, apperr.Validation("table number must be positive")
	}
	if t.Capacity <= 0 {
		return CascadeResult{}, apperr.Validation("table capacity must be positive")
	}
	err := s.inTx(ctx, "upsert table", func(tx store.Tx) error {
		return upsertTableTx(ctx, tx, t)
	})
	if err != nil {
		return CascadeResult{}, err
	}
	s.logger.Info().Int("table", t.Number).Int("capacity", t.Capacity).Msg("table saved")
	return s.replan(ctx), nil
}

func upsertTableTx(ctx context.Context, tx store.Tx, t model.Table) error {
	existing, err := tx.GetTable(ctx, t.Number)
	switch {
	case err == nil:
		t.Status, t.OccupiedSince = existing.Status, existing.OccupiedSince
	case errors.Is(err, store.ErrNotFound):
		t.Status, t.OccupiedSince = model.TableAvailable, nil
	default:
		return err
	}
	return tx.UpsertTable(ctx, &t)
}

// SetTableCapacity changes one table's capacity and re-plans.
func (s *Service) SetTableCapacity(ctx context.Context, number, capacity int) (CascadeResult, error) {
	if capacity <= 0 {
		return CascadeResult{}, apperr.Validation("table capacity must be positive")
	}
	err := s.inTx(ctx, "set table capacity", func(tx store.Tx) error {
		t, err := tx.GetTable(ctx, number)
		if err != nil {
			return notFound(err, "table %d not found", number)
		}
		t.Capacity = capacity
		return tx.UpsertTable(ctx, t)
	})
	if err != nil {
		return CascadeResult{}, err
	}
	s.logger.Info().Int("table", number).Int("capacity", capacity).Msg("table capacity changed")
	return s.replan(ctx), nil
}

// DeleteTable removes an unoccupied table and re-plans.
func (s *Service) DeleteTable(ctx context.Context, number int) (CascadeResult, error) {
	err := s.inTx(ctx, "delete table", func(tx store.Tx) error {
		t, err := tx.GetTable(ctx, number)
		if err != nil {
			return notFound(err, "table %d not found", number)
		}
		if t.IsOccupied() {
			return apperr.Validation("table %d is occupied", number)
		}
		return tx.DeleteTable(ctx, number)
	})
	if err != nil {
		return CascadeResult{}, err
	}
	s.logger.Info().Int("table", number).Msg("table deleted")
	return s.replan(ctx), nil
}

// replan assigns every current and future ACTIVE reservation under the
// current table set. A reservation is cancelled only when no assignment of
// its overlap group can hold it next to the older ones; seated parties that
// had to move get their new table.
func (s *Service) replan(ctx context.Context) CascadeResult {
	s.bus.Publish(events.Event{Type: events.TableChanged})

	var (
		res  CascadeResult
		plan *availability.Plan
		live []model.Reservation
	)
	now := s.engine.Now()
	after := now.Add(-s.duration())
	err := s.withConn(ctx, "replan", func(c store.Conn) error {
		tables, err := c.ListTables(ctx)
		if err != nil {
			return err
		}
		live, err = c.FindReservations(ctx, store.ReservationFilter{
			Status: []model.ReservationStatus{model.StatusActive},
			After:  &after,
		})
		if err != nil {
			return err
		}
		plan = availability.NewPlan(tables, live, s.duration(), s.engine.Rules().Policy)
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("cascade: cannot load reservations for replanning")
		return res
	}

	unplaced := plan.Unplaced()
	if plan.Incomplete() {
		s.logger.Warn().Int("unplaced", len(unplaced)).Msg("cascade: table search gave up, nothing cancelled")
		unplaced = nil
	}
	for _, r := range unplaced {
		if r.IsSeated() {
			s.logger.Warn().Str("code", r.Code).Int("table", *r.TableNumber).Msg("cascade: seated party has no table under new layout")
			continue
		}
		s.cascadeCancel(ctx, &r, model.ReasonTableChanged, &res)
	}

	byID := make(map[int64]model.Reservation, len(live))
	for _, r := range live {
		byID[r.ID] = r
	}
	for _, id := range plan.Moved() {
		r := byID[id]
		number, _ := plan.TableOf(id)
		if err := s.reassign(ctx, r, number); err != nil {
			s.logger.Error().Err(err).Str("code", r.Code).Msg("cascade: reassign failed")
			res.Failed = append(res.Failed, r.Code)
			continue
		}
		res.Reassigned = append(res.Reassigned, r.Code)
	}

	if len(res.Cancelled) > 0 || len(res.Failed) > 0 || len(res.Reassigned) > 0 {
		s.logger.Info().Int("cancelled", len(res.Cancelled)).Int("reassigned", len(res.Reassigned)).
			Int("failed", len(res.Failed)).Msg("table cascade finished")
	}
	return res
}

// reassign moves a seated reservation to another table, carrying occupancy.
func (s *Service) reassign(ctx context.Context, r model.Reservation, number int) error {
	return s.inTx(ctx, "reassign table", func(tx store.Tx) error {
		cur, err := tx.GetReservation(ctx, r.Code)
		if err != nil {
			return err
		}
		if !cur.IsActive() || cur.TableNumber == nil {
			return nil
		}
		now := s.engine.Now()
		since := now
		if old, err := tx.GetTable(ctx, *cur.TableNumber); err == nil && old.IsOccupied() {
			if old.OccupiedSince != nil {
				since = *old.OccupiedSince
			}
			old.Free()
			if err := tx.UpsertTable(ctx, old); err != nil {
				return err
			}
		}
		if err := seatTx(ctx, tx, cur, number, now); err != nil {
			return err
		}
		t, err := tx.GetTable(ctx, number)
		if err != nil {
			return err
		}
		t.Occupy(since)
		return tx.UpsertTable(ctx, t)
	})
}
