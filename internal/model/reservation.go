package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type ReservationStatus string

const (
	StatusActive    ReservationStatus = "active"
	StatusCancelled ReservationStatus = "cancelled"
	StatusCompleted ReservationStatus = "completed"
	StatusNoShow    ReservationStatus = "no_show"
)

// Cancel reasons recorded on reservations.
const (
	ReasonCustomer     = "customer"
	ReasonNoShow       = "no_show"
	ReasonHoursChanged = "hours_changed"
	ReasonDateClosed   = "date_closed"
	ReasonTableChanged = "table_changed"
)

var (
	ErrContactRequired   = errors.New("walk-in party needs a phone or an email")
	ErrInvalidPartySize  = errors.New("party size must be positive")
	ErrInvalidTransition = errors.New("invalid status transition")
)

func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s ReservationStatus) Terminal() bool {
	return s.Valid() && s != StatusActive
}

// CanTransitionTo allows only ACTIVE -> terminal moves.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	return s == StatusActive && next.Terminal()
}

// Party identifies who the reservation is for: a registered subscriber
// or a walk-in reachable by phone or email.
type Party struct {
	SubscriberID *int64 `json:"subscriber_id,omitempty"`
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
}

func (p Party) IsSubscriber() bool {
	return p.SubscriberID != nil
}

// Validate checks the walk-in contact requirement.
func (p Party) Validate() error {
	if p.IsSubscriber() {
		return nil
	}
	if strings.TrimSpace(p.Phone) == "" && strings.TrimSpace(p.Email) == "" {
		return ErrContactRequired
	}
	return nil
}

// Reservation is a commitment for a party to occupy a table-sized
// resource for a fixed duration starting at StartsAt.
type Reservation struct {
	ID           int64             `json:"id"`
	Code         string            `json:"code"`
	StartsAt     time.Time         `json:"starts_at"`
	PartySize    int               `json:"party_size"`
	Status       ReservationStatus `json:"status"`
	TableNumber  *int              `json:"table_number,omitempty"`
	Party        Party             `json:"party"`
	CancelReason string            `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Interval returns the occupied interval for the given fixed duration.
func (r *Reservation) Interval(d time.Duration) Interval {
	return NewInterval(r.StartsAt, d)
}

func (r *Reservation) IsActive() bool {
	return r.Status == StatusActive
}

// IsSeated reports whether a table was assigned at check-in.
func (r *Reservation) IsSeated() bool {
	return r.TableNumber != nil
}

// Transition moves the reservation to next, recording reason for cancellations.
func (r *Reservation) Transition(next ReservationStatus, reason string, at time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	if next == StatusCancelled || next == StatusNoShow {
		r.CancelReason = reason
	}
	r.UpdatedAt = at
	return nil
}
