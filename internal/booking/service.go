// Package booking implements the client and staff operations on
// reservations, tables and the waitlist, and the cascades triggered by
// configuration changes.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tablebook/internal/apperr"
	"tablebook/internal/availability"
	"tablebook/internal/events"
	"tablebook/internal/metrics"
	"tablebook/internal/model"
	"tablebook/internal/notify"
	"tablebook/internal/pool"
	"tablebook/internal/store"
)

type Config struct {
	// CascadeHorizonDays is how far ahead weekly-hours edits re-validate reservations.
	CascadeHorizonDays int
	// PromotionGrace is how long a waitlist offer can be claimed at check-in.
	PromotionGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		CascadeHorizonDays: 30,
		PromotionGrace:     15 * time.Minute,
	}
}

// Service is the request-facing API of the engine.
type Service struct {
	pool     *pool.Pool[store.Conn]
	engine   *availability.Engine
	notifier notify.Notifier
	bus      *events.Bus
	cfg      Config
	logger   zerolog.Logger
	newCode  func() string
}

func NewService(
	p *pool.Pool[store.Conn],
	engine *availability.Engine,
	notifier notify.Notifier,
	bus *events.Bus,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	if cfg.CascadeHorizonDays <= 0 {
		cfg.CascadeHorizonDays = DefaultConfig().CascadeHorizonDays
	}
	if cfg.PromotionGrace <= 0 {
		cfg.PromotionGrace = DefaultConfig().PromotionGrace
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		pool:     p,
		engine:   engine,
		notifier: notifier,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With().Str("component", "booking").Logger(),
		newCode:  newCode,
	}
}

func newCode() string {
	return uuid.NewString()
}

// ReservationRequest is the input to CreateReservation.
type ReservationRequest struct {
	StartsAt  time.Time
	PartySize int
	Party     model.Party
}

func (s *Service) duration() time.Duration {
	return s.engine.Rules().Duration
}

func (s *Service) withConn(ctx context.Context, op string, fn func(store.Conn) error) error {
	return apperr.Classify(s.pool.With(ctx, fn), op)
}

func (s *Service) inTx(ctx context.Context, op string, fn func(store.Tx) error) error {
	return s.withConn(ctx, op, func(c store.Conn) error {
		return c.InTx(ctx, fn)
	})
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(format, args...)
	}
	return err
}

func validateParty(p model.Party, size int) error {
	if size <= 0 {
		return apperr.Validation("%s", model.ErrInvalidPartySize.Error())
	}
	if err := p.Validate(); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	return nil
}

func (s *Service) GetAvailableSlots(ctx context.Context, date time.Time, partySize int) ([]time.Time, error) {
	return s.engine.GetAvailableSlots(ctx, date, partySize)
}

func (s *Service) AllocateTable(ctx context.Context, at time.Time, partySize int) (int, bool, error) {
	return s.engine.AllocateTable(ctx, at, partySize)
}

// CreateReservation re-checks the slot and inserts an ACTIVE reservation in
// one writer-serialised transaction.
func (s *Service) CreateReservation(ctx context.Context, req ReservationRequest) (*model.Reservation, error) {
	if err := validateParty(req.Party, req.PartySize); err != nil {
		metrics.IncReservation("invalid")
		return nil, err
	}

	now := s.engine.Now()
	r := &model.Reservation{
		Code:      s.newCode(),
		StartsAt:  req.StartsAt,
		PartySize: req.PartySize,
		Status:    model.StatusActive,
		Party:     req.Party,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.inTx(ctx, "create reservation", func(tx store.Tx) error {
		if err := s.engine.CheckBookable(ctx, tx, req.StartsAt, req.PartySize); err != nil {
			return err
		}
		if err := tx.CreateReservation(ctx, r); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		metrics.IncReservation(string(apperr.KindOf(err)))
		return nil, err
	}

	metrics.IncReservation("created")
	s.logger.Info().Str("code", r.Code).Time("starts_at", r.StartsAt).Int("party_size", r.PartySize).Msg("reservation created")
	s.bus.Publish(events.Event{Type: events.ReservationCreated, Code: r.Code, Date: r.StartsAt})
	s.notifier.Notify(ctx, notify.Confirmed(r))
	return r, nil
}

func (s *Service) GetReservation(ctx context.Context, code string) (*model.Reservation, error) {
	var r *model.Reservation
	err := s.withConn(ctx, "get reservation", func(c store.Conn) error {
		var err error
		r, err = c.GetReservation(ctx, code)
		return notFound(err, "reservation %s not found", code)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// activeReservation loads a reservation that can still change state.
func activeReservation(ctx context.Context, tx store.Tx, code string) (*model.Reservation, error) {
	r, err := tx.GetReservation(ctx, code)
	if err != nil {
		return nil, notFound(err, "reservation %s not found", code)
	}
	if !r.IsActive() {
		return nil, apperr.NotFound("reservation %s is already %s", code, r.Status)
	}
	return r, nil
}

// finishTx moves r out of ACTIVE and frees its table. It reports false when
// r was no longer ACTIVE.
func finishTx(ctx context.Context, tx store.Tx, r *model.Reservation, to model.ReservationStatus, reason string, at time.Time) (bool, error) {
	changed, err := tx.TransitionReservation(ctx, r.ID, model.StatusActive, to, reason, at)
	if err != nil || !changed {
		return false, err
	}
	if err := r.Transition(to, reason, at); err != nil {
		return false, err
	}
	if r.TableNumber == nil {
		return true, nil
	}
	t, err := tx.GetTable(ctx, *r.TableNumber)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if t.IsOccupied() {
		t.Free()
		if err := tx.UpsertTable(ctx, t); err != nil {
			return false, err
		}
	}
	return true, nil
}

// CancelReservation cancels on the guest's request.
func (s *Service) CancelReservation(ctx context.Context, code string) (*model.Reservation, error) {
	var r *model.Reservation
	err := s.inTx(ctx, "cancel reservation", func(tx store.Tx) error {
		var err error
		if r, err = activeReservation(ctx, tx, code); err != nil {
			return err
		}
		changed, err := finishTx(ctx, tx, r, model.StatusCancelled, model.ReasonCustomer, s.engine.Now())
		if err != nil {
			return err
		}
		if !changed {
			return apperr.NotFound("reservation %s is no longer active", code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("code", code).Msg("reservation cancelled")
	s.bus.Publish(events.Event{Type: events.ReservationCancelled, Code: code, Date: r.StartsAt, Reason: model.ReasonCustomer})
	s.notifier.Notify(ctx, notify.Cancelled(r))
	return r, nil
}

func skipOccupied(t model.Table) bool {
	return t.IsOccupied()
}

// CheckIn seats the party of an ACTIVE reservation at an allocated table.
func (s *Service) CheckIn(ctx context.Context, code string) (*model.Reservation, error) {
	var r *model.Reservation
	err := s.inTx(ctx, "check in", func(tx store.Tx) error {
		var err error
		if r, err = activeReservation(ctx, tx, code); err != nil {
			return err
		}
		if r.IsSeated() {
			return apperr.Validation("reservation %s is already seated at table %d", code, *r.TableNumber)
		}
		number, ok, err := s.engine.AllocateTx(ctx, tx, r.StartsAt, r.PartySize, r.ID, skipOccupied)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.SlotUnavailable("no free table for a party of %d", r.PartySize)
		}
		return seatTx(ctx, tx, r, number, s.engine.Now())
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("code", code).Int("table", *r.TableNumber).Msg("party seated")
	s.bus.Publish(events.Event{Type: events.ReservationSeated, Code: code, Date: r.StartsAt})
	return r, nil
}

// seatTx pins r to table number and marks the table occupied.
func seatTx(ctx context.Context, tx store.Tx, r *model.Reservation, number int, now time.Time) error {
	t, err := tx.GetTable(ctx, number)
	if err != nil {
		return notFound(err, "table %d not found", number)
	}
	r.TableNumber = &number
	r.UpdatedAt = now
	if err := tx.UpdateReservation(ctx, r); err != nil {
		return err
	}
	t.Occupy(now)
	return tx.UpsertTable(ctx, t)
}

// CompleteReservation records that the party has finished and frees the table.
func (s *Service) CompleteReservation(ctx context.Context, code string) (*model.Reservation, error) {
	var r *model.Reservation
	err := s.inTx(ctx, "complete reservation", func(tx store.Tx) error {
		var err error
		if r, err = activeReservation(ctx, tx, code); err != nil {
			return err
		}
		changed, err := finishTx(ctx, tx, r, model.StatusCompleted, "", s.engine.Now())
		if err != nil {
			return err
		}
		if !changed {
			return apperr.NotFound("reservation %s is no longer active", code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("code", code).Msg("reservation completed")
	s.bus.Publish(events.Event{Type: events.ReservationCompleted, Code: code, Date: r.StartsAt})
	return r, nil
}

// ReleaseTable frees a table. A reservation seated there that has already
// started is completed.
func (s *Service) ReleaseTable(ctx context.Context, number int) (*model.Table, error) {
	var (
		t         *model.Table
		completed []model.Reservation
	)
	now := s.engine.Now()
	err := s.inTx(ctx, "release table", func(tx store.Tx) error {
		var err error
		if t, err = tx.GetTable(ctx, number); err != nil {
			return notFound(err, "table %d not found", number)
		}
		seated, err := tx.FindReservations(ctx, store.ReservationFilter{
			Status:      []model.ReservationStatus{model.StatusActive},
			TableNumber: &number,
			Until:       &now,
		})
		if err != nil {
			return err
		}
		for i := range seated {
			r := seated[i]
			changed, err := tx.TransitionReservation(ctx, r.ID, model.StatusActive, model.StatusCompleted, "", now)
			if err != nil {
				return err
			}
			if changed {
				completed = append(completed, r)
			}
		}
		t.Free()
		return tx.UpsertTable(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	for _, r := range completed {
		s.bus.Publish(events.Event{Type: events.ReservationCompleted, Code: r.Code, Date: r.StartsAt})
	}
	s.logger.Info().Int("table", number).Int("completed", len(completed)).Msg("table released")
	return t, nil
}

func (s *Service) ListTables(ctx context.Context) ([]model.Table, error) {
	var tables []model.Table
	err := s.withConn(ctx, "list tables", func(c store.Conn) error {
		var err error
		tables, err = c.ListTables(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tables, nil
}

// ListReservations returns reservations starting in [from, to).
func (s *Service) ListReservations(ctx context.Context, from, to time.Time, status ...model.ReservationStatus) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.withConn(ctx, "list reservations", func(c store.Conn) error {
		var err error
		out, err = c.FindReservations(ctx, store.ReservationFilter{Status: status, From: &from, Before: &to})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
