package booking

import (
	"context"
	"fmt"
	"time"

	"tablebook/internal/model"
	"tablebook/internal/store"
)

// Layout is the restaurant configuration kept in sync from a file: the full
// table set, hours for every weekday, and upcoming special dates.
type Layout struct {
	Tables  []model.Table
	Weekly  []model.OpeningHours
	Special []model.SpecialHours
}

// specialSyncHorizon bounds which stored overrides the file is compared against.
const specialSyncHorizon = 366 * 24 * time.Hour

// ApplyLayout makes the store match l and runs the cascades for whatever
// changed. Special hours before today are never touched; upcoming overrides
// missing from l are removed.
func (s *Service) ApplyLayout(ctx context.Context, l Layout) (CascadeResult, error) {
	var (
		res      CascadeResult
		tables   []model.Table
		weekly   []model.OpeningHours
		specials []model.SpecialHours
	)
	today := model.DayStart(s.engine.Now())
	err := s.withConn(ctx, "load layout", func(c store.Conn) error {
		var err error
		if tables, err = c.ListTables(ctx); err != nil {
			return err
		}
		if weekly, err = c.ListOpeningHours(ctx); err != nil {
			return err
		}
		specials, err = c.ListSpecialHours(ctx, today, today.Add(specialSyncHorizon))
		return err
	})
	if err != nil {
		return res, err
	}

	tablesChanged, err := s.syncTables(ctx, tables, l.Tables)
	if err != nil {
		return res, err
	}
	if tablesChanged {
		res.merge(s.replan(ctx))
	}

	storedWeekly := make(map[time.Weekday]model.OpeningHours, len(weekly))
	for _, h := range weekly {
		storedWeekly[h.Weekday] = h
	}
	for _, h := range l.Weekly {
		if cur, ok := storedWeekly[h.Weekday]; ok && cur.Same(h) {
			continue
		}
		r, err := s.SetOpeningHours(ctx, h)
		if err != nil {
			return res, fmt.Errorf("opening hours %s: %w", h.Weekday, err)
		}
		res.merge(r)
	}

	storedSpecial := make(map[string]model.SpecialHours, len(specials))
	for _, h := range specials {
		storedSpecial[model.DateKey(h.Date)] = h
	}
	wanted := make(map[string]bool, len(l.Special))
	for _, h := range l.Special {
		key := model.DateKey(h.Date)
		wanted[key] = true
		if h.Date.Before(today) {
			continue
		}
		if cur, ok := storedSpecial[key]; ok && cur.Same(h) {
			continue
		}
		r, err := s.SetSpecialHours(ctx, h)
		if err != nil {
			return res, fmt.Errorf("special hours %s: %w", key, err)
		}
		res.merge(r)
	}
	for key, h := range storedSpecial {
		if wanted[key] {
			continue
		}
		r, err := s.ClearSpecialHours(ctx, h.Date)
		if err != nil {
			return res, fmt.Errorf("clear special hours %s: %w", key, err)
		}
		res.merge(r)
	}

	s.logger.Info().Int("tables", len(l.Tables)).Int("special_days", len(l.Special)).
		Int("cancelled", len(res.Cancelled)).Msg("restaurant layout applied")
	return res, nil
}

// syncTables writes table edits without replanning and reports whether
// anything changed. Occupied tables missing from the layout are kept.
func (s *Service) syncTables(ctx context.Context, stored, wanted []model.Table) (bool, error) {
	current := make(map[int]model.Table, len(stored))
	for _, t := range stored {
		current[t.Number] = t
	}
	keep := make(map[int]bool, len(wanted))
	changed := false

	err := s.inTx(ctx, "sync tables", func(tx store.Tx) error {
		for _, t := range wanted {
			keep[t.Number] = true
			if cur, ok := current[t.Number]; ok && cur.Capacity == t.Capacity && cur.Location == t.Location {
				continue
			}
			if err := upsertTableTx(ctx, tx, t); err != nil {
				return fmt.Errorf("table %d: %w", t.Number, err)
			}
			changed = true
		}
		for number, t := range current {
			if keep[number] {
				continue
			}
			if t.IsOccupied() {
				s.logger.Warn().Int("table", number).Msg("occupied table missing from layout, keeping it")
				continue
			}
			if err := tx.DeleteTable(ctx, number); err != nil {
				return fmt.Errorf("delete table %d: %w", number, err)
			}
			changed = true
		}
		return nil
	})
	return changed, err
}
