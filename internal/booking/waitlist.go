package booking

import (
	"context"
	"time"

	"tablebook/internal/apperr"
	"tablebook/internal/events"
	"tablebook/internal/model"
	"tablebook/internal/store"
)

// JoinWaitlist queues a walk-in party for the next free table.
func (s *Service) JoinWaitlist(ctx context.Context, partySize int, party model.Party) (*model.WaitlistEntry, error) {
	if err := validateParty(party, partySize); err != nil {
		return nil, err
	}
	now := s.engine.Now()
	e := &model.WaitlistEntry{
		Code:        s.newCode(),
		RequestedAt: now,
		PartySize:   partySize,
		Party:       party,
	}
	err := s.inTx(ctx, "join waitlist", func(tx store.Tx) error {
		tables, err := tx.ListTables(ctx)
		if err != nil {
			return err
		}
		fits := false
		for _, t := range tables {
			if t.Fits(partySize) {
				fits = true
				break
			}
		}
		if !fits {
			return apperr.Validation("no table seats a party of %d", partySize)
		}
		return tx.CreateWaitlistEntry(ctx, e)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("code", e.Code).Int("party_size", partySize).Msg("joined waitlist")
	return e, nil
}

func (s *Service) GetWaitlistEntry(ctx context.Context, code string) (*model.WaitlistEntry, error) {
	var e *model.WaitlistEntry
	err := s.withConn(ctx, "get waitlist entry", func(c store.Conn) error {
		var err error
		e, err = c.GetWaitlistEntry(ctx, code)
		return notFound(err, "waitlist entry %s not found", code)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListWaitlist returns queued entries, oldest first.
func (s *Service) ListWaitlist(ctx context.Context) ([]model.WaitlistEntry, error) {
	var out []model.WaitlistEntry
	err := s.withConn(ctx, "list waitlist", func(c store.Conn) error {
		var err error
		out, err = c.FindWaitlist(ctx, store.WaitlistFilter{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) LeaveWaitlist(ctx context.Context, code string) error {
	err := s.withConn(ctx, "leave waitlist", func(c store.Conn) error {
		return notFound(c.DeleteWaitlistEntry(ctx, code), "waitlist entry %s not found", code)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("code", code).Msg("left waitlist")
	return nil
}

// CheckInWaitlist seats a waiting party now. The offered table is preferred;
// otherwise any free table that fits is used. The entry becomes an ACTIVE
// reservation starting at the current minute.
func (s *Service) CheckInWaitlist(ctx context.Context, code string) (*model.Reservation, error) {
	now := s.engine.Now()
	start := now.Truncate(time.Minute)
	var r *model.Reservation

	err := s.inTx(ctx, "check in waitlist", func(tx store.Tx) error {
		e, err := tx.GetWaitlistEntry(ctx, code)
		if err != nil {
			return notFound(err, "waitlist entry %s not found", code)
		}
		if e.OfferExpired(now, s.cfg.PromotionGrace) {
			return apperr.NotFound("waitlist offer %s has expired", code)
		}

		iv := model.NewInterval(start, s.duration())
		plan, err := s.engine.LoadPlan(ctx, tx, iv, 0)
		if err != nil {
			return err
		}
		number, ok := 0, false
		if e.OfferedTable != nil {
			for _, t := range plan.Tables() {
				if t.Number == *e.OfferedTable && !t.IsOccupied() && plan.PlaceOn(t.Number, iv, e.PartySize) {
					number, ok = t.Number, true
					break
				}
			}
		}
		if !ok {
			number, ok = plan.Place(iv, e.PartySize, skipOccupied)
		}
		if !ok {
			return apperr.SlotUnavailable("no free table for a party of %d", e.PartySize)
		}

		r = &model.Reservation{
			Code:      s.newCode(),
			StartsAt:  start,
			PartySize: e.PartySize,
			Status:    model.StatusActive,
			Party:     e.Party,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreateReservation(ctx, r); err != nil {
			return err
		}
		if err := seatTx(ctx, tx, r, number, now); err != nil {
			return err
		}
		return tx.DeleteWaitlistEntry(ctx, code)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("entry", code).Str("code", r.Code).Int("table", *r.TableNumber).Msg("waitlist party seated")
	s.bus.Publish(events.Event{Type: events.ReservationSeated, Code: r.Code, Date: r.StartsAt})
	return r, nil
}
