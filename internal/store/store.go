// Package store defines the repository operations the engine needs from
// the backing store.
package store

import (
	"context"
	"errors"
	"time"

	"tablebook/internal/model"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

// ReservationFilter narrows reservation lookups. Zero fields do not filter.
type ReservationFilter struct {
	Status      []model.ReservationStatus
	// From keeps StartsAt >= From.
	From        *time.Time
	// Before keeps StartsAt < Before.
	Before      *time.Time
	// After keeps StartsAt > After.
	After       *time.Time
	// Until keeps StartsAt <= Until.
	Until       *time.Time
	// Unassigned keeps reservations without a table.
	Unassigned  bool
	TableNumber *int
}

// WaitlistFilter narrows waitlist lookups.
type WaitlistFilter struct {
	Notified   *bool
	// NotifiedBy keeps entries offered at or before NotifiedBy.
	NotifiedBy *time.Time
}

type TableStore interface {
	// ListTables returns all tables ordered by number.
	ListTables(ctx context.Context) ([]model.Table, error)
	GetTable(ctx context.Context, number int) (*model.Table, error)
	UpsertTable(ctx context.Context, t *model.Table) error
	DeleteTable(ctx context.Context, number int) error
}

type ReservationStore interface {
	CreateReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, code string) (*model.Reservation, error)
	UpdateReservation(ctx context.Context, r *model.Reservation) error
	// TransitionReservation moves a reservation from one status to another
	// only if it is still in from. It reports whether a row changed.
	TransitionReservation(ctx context.Context, id int64, from, to model.ReservationStatus, reason string, at time.Time) (bool, error)
	// FindReservations returns matches ordered by StartsAt, then ID.
	FindReservations(ctx context.Context, f ReservationFilter) ([]model.Reservation, error)
}

type WaitlistStore interface {
	CreateWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error
	GetWaitlistEntry(ctx context.Context, code string) (*model.WaitlistEntry, error)
	UpdateWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error
	DeleteWaitlistEntry(ctx context.Context, code string) error
	// FindWaitlist returns matches ordered by RequestedAt, then ID.
	FindWaitlist(ctx context.Context, f WaitlistFilter) ([]model.WaitlistEntry, error)
}

type HoursStore interface {
	GetOpeningHours(ctx context.Context, weekday time.Weekday) (*model.OpeningHours, error)
	ListOpeningHours(ctx context.Context) ([]model.OpeningHours, error)
	SetOpeningHours(ctx context.Context, h model.OpeningHours) error
	GetSpecialHours(ctx context.Context, date time.Time) (*model.SpecialHours, error)
	// ListSpecialHours returns overrides with from <= date < to.
	ListSpecialHours(ctx context.Context, from, to time.Time) ([]model.SpecialHours, error)
	SetSpecialHours(ctx context.Context, h model.SpecialHours) error
	DeleteSpecialHours(ctx context.Context, date time.Time) error
}

// Tx is the set of repository operations available inside or outside a transaction.
type Tx interface {
	TableStore
	ReservationStore
	WaitlistStore
	HoursStore
}

// Conn is one pooled backing-store connection.
type Conn interface {
	Tx
	// InTx runs fn in a transaction that serialises writers. fn's error rolls back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

func StatusIn(s model.ReservationStatus, set []model.ReservationStatus) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Match reports whether r satisfies f. Used by in-process implementations.
func (f ReservationFilter) Match(r *model.Reservation) bool {
	if !StatusIn(r.Status, f.Status) {
		return false
	}
	if f.From != nil && r.StartsAt.Before(*f.From) {
		return false
	}
	if f.Before != nil && !r.StartsAt.Before(*f.Before) {
		return false
	}
	if f.After != nil && !r.StartsAt.After(*f.After) {
		return false
	}
	if f.Until != nil && r.StartsAt.After(*f.Until) {
		return false
	}
	if f.Unassigned && r.TableNumber != nil {
		return false
	}
	if f.TableNumber != nil && (r.TableNumber == nil || *r.TableNumber != *f.TableNumber) {
		return false
	}
	return true
}

func (f WaitlistFilter) Match(e *model.WaitlistEntry) bool {
	if f.Notified != nil && e.IsNotified() != *f.Notified {
		return false
	}
	if f.NotifiedBy != nil && (e.NotifiedAt == nil || e.NotifiedAt.After(*f.NotifiedBy)) {
		return false
	}
	return true
}

// Ptr returns a pointer to v, for filter literals.
func Ptr[T any](v T) *T {
	return &v
}
