// Package storetest runs the same behavioural checks against every store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/model"
	"tablebook/internal/store"
)

// Base is a whole-second UTC instant used by the suite.
var Base = time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)

// Run exercises conn, which must point at an empty store.
func Run(t *testing.T, newConn func(t *testing.T) store.Conn) {
	t.Run("tables", func(t *testing.T) { testTables(t, newConn(t)) })
	t.Run("reservations", func(t *testing.T) { testReservations(t, newConn(t)) })
	t.Run("transition is conditional", func(t *testing.T) { testTransition(t, newConn(t)) })
	t.Run("waitlist", func(t *testing.T) { testWaitlist(t, newConn(t)) })
	t.Run("hours", func(t *testing.T) { testHours(t, newConn(t)) })
	t.Run("tx rollback", func(t *testing.T) { testRollback(t, newConn(t)) })
}

func at(hour, min int) time.Time {
	return Base.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func testTables(t *testing.T, c store.Conn) {
	ctx := context.Background()

	require.NoError(t, c.UpsertTable(ctx, &model.Table{Number: 2, Capacity: 4}))
	require.NoError(t, c.UpsertTable(ctx, &model.Table{Number: 1, Capacity: 2, Location: "window"}))

	tables, err := c.ListTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, 1, tables[0].Number)
	assert.Equal(t, "window", tables[0].Location)
	assert.Equal(t, model.TableAvailable, tables[1].Status)

	seated := at(19, 0)
	tbl := tables[1]
	tbl.Occupy(seated)
	require.NoError(t, c.UpsertTable(ctx, &tbl))

	got, err := c.GetTable(ctx, 2)
	require.NoError(t, err)
	assert.True(t, got.IsOccupied())
	require.NotNil(t, got.OccupiedSince)
	assert.True(t, seated.Equal(*got.OccupiedSince))

	require.NoError(t, c.DeleteTable(ctx, 1))
	_, err = c.GetTable(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, c.DeleteTable(ctx, 1), store.ErrNotFound)
}

func newReservation(code string, start time.Time, size int) *model.Reservation {
	return &model.Reservation{
		Code:      code,
		StartsAt:  start,
		PartySize: size,
		Status:    model.StatusActive,
		Party:     model.Party{Name: "Guest " + code, Phone: "+15550100"},
		CreatedAt: Base,
		UpdatedAt: Base,
	}
}

func testReservations(t *testing.T, c store.Conn) {
	ctx := context.Background()

	late := newReservation("LATE", at(20, 0), 2)
	early := newReservation("EARLY", at(18, 0), 4)
	mid := newReservation("MID", at(19, 0), 3)
	for _, r := range []*model.Reservation{late, early, mid} {
		require.NoError(t, c.CreateReservation(ctx, r))
		assert.NotZero(t, r.ID)
	}

	err := c.CreateReservation(ctx, newReservation("MID", at(21, 0), 2))
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := c.GetReservation(ctx, "EARLY")
	require.NoError(t, err)
	assert.Equal(t, early.ID, got.ID)
	assert.Equal(t, 4, got.PartySize)
	assert.True(t, early.StartsAt.Equal(got.StartsAt))
	assert.Equal(t, "+15550100", got.Party.Phone)
	assert.Nil(t, got.TableNumber)

	_, err = c.GetReservation(ctx, "NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)

	all, err := c.FindReservations(ctx, store.ReservationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"EARLY", "MID", "LATE"}, codes(all))

	table := 7
	mid.TableNumber = &table
	require.NoError(t, c.UpdateReservation(ctx, mid))

	tests := []struct {
		name   string
		filter store.ReservationFilter
		want   []string
	}{
		{"from inclusive", store.ReservationFilter{From: store.Ptr(at(19, 0))}, []string{"MID", "LATE"}},
		{"before exclusive", store.ReservationFilter{Before: store.Ptr(at(19, 0))}, []string{"EARLY"}},
		{"after exclusive", store.ReservationFilter{After: store.Ptr(at(19, 0))}, []string{"LATE"}},
		{"until inclusive", store.ReservationFilter{Until: store.Ptr(at(19, 0))}, []string{"EARLY", "MID"}},
		{"unassigned", store.ReservationFilter{Unassigned: true}, []string{"EARLY", "LATE"}},
		{"by table", store.ReservationFilter{TableNumber: &table}, []string{"MID"}},
		{"by status", store.ReservationFilter{Status: []model.ReservationStatus{model.StatusCancelled}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.FindReservations(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, codes(got))
		})
	}
}

func testTransition(t *testing.T, c store.Conn) {
	ctx := context.Background()
	r := newReservation("T1", at(18, 0), 2)
	require.NoError(t, c.CreateReservation(ctx, r))

	changed, err := c.TransitionReservation(ctx, r.ID, model.StatusActive, model.StatusNoShow, model.ReasonNoShow, at(18, 20))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = c.TransitionReservation(ctx, r.ID, model.StatusActive, model.StatusNoShow, model.ReasonNoShow, at(18, 21))
	require.NoError(t, err)
	assert.False(t, changed, "second transition must be a no-op")

	got, err := c.GetReservation(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNoShow, got.Status)
	assert.Equal(t, model.ReasonNoShow, got.CancelReason)

	_, err = c.TransitionReservation(ctx, 9999, model.StatusActive, model.StatusCancelled, "", at(18, 0))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testWaitlist(t *testing.T, c store.Conn) {
	ctx := context.Background()

	first := &model.WaitlistEntry{Code: "W1", RequestedAt: at(18, 0), PartySize: 2, Party: model.Party{Email: "a@example.com"}}
	second := &model.WaitlistEntry{Code: "W2", RequestedAt: at(18, 5), PartySize: 4, Party: model.Party{Phone: "+15550101"}}
	require.NoError(t, c.CreateWaitlistEntry(ctx, second))
	require.NoError(t, c.CreateWaitlistEntry(ctx, first))

	pending, err := c.FindWaitlist(ctx, store.WaitlistFilter{Notified: store.Ptr(false)})
	require.NoError(t, err)
	assert.Equal(t, []string{"W1", "W2"}, entryCodes(pending))

	first.Offer(3, at(18, 30))
	require.NoError(t, c.UpdateWaitlistEntry(ctx, first))

	got, err := c.GetWaitlistEntry(ctx, "W1")
	require.NoError(t, err)
	require.NotNil(t, got.OfferedTable)
	assert.Equal(t, 3, *got.OfferedTable)
	assert.True(t, at(18, 30).Equal(*got.NotifiedAt))

	expired, err := c.FindWaitlist(ctx, store.WaitlistFilter{NotifiedBy: store.Ptr(at(18, 46))})
	require.NoError(t, err)
	assert.Equal(t, []string{"W1"}, entryCodes(expired))

	expired, err = c.FindWaitlist(ctx, store.WaitlistFilter{NotifiedBy: store.Ptr(at(18, 29))})
	require.NoError(t, err)
	assert.Empty(t, expired)

	require.NoError(t, c.DeleteWaitlistEntry(ctx, "W1"))
	_, err = c.GetWaitlistEntry(ctx, "W1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, c.DeleteWaitlistEntry(ctx, "W1"), store.ErrNotFound)
}

func testHours(t *testing.T, c store.Conn) {
	ctx := context.Background()

	_, err := c.GetOpeningHours(ctx, time.Friday)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, c.SetOpeningHours(ctx, model.OpeningHours{Weekday: time.Friday, Opens: "12:00", Closes: "23:00"}))
	require.NoError(t, c.SetOpeningHours(ctx, model.OpeningHours{Weekday: time.Friday, Opens: "17:00", Closes: "23:00"}))
	require.NoError(t, c.SetOpeningHours(ctx, model.OpeningHours{Weekday: time.Monday, Closed: true}))

	fri, err := c.GetOpeningHours(ctx, time.Friday)
	require.NoError(t, err)
	assert.Equal(t, "17:00", fri.Opens)

	week, err := c.ListOpeningHours(ctx)
	require.NoError(t, err)
	require.Len(t, week, 2)
	assert.Equal(t, time.Monday, week[0].Weekday)
	assert.True(t, week[0].Closed)

	holiday := Base.AddDate(0, 0, 3)
	require.NoError(t, c.SetSpecialHours(ctx, model.SpecialHours{Date: holiday, Closed: true, Reason: "private event"}))
	require.NoError(t, c.SetSpecialHours(ctx, model.SpecialHours{Date: Base.AddDate(0, 0, 10), Opens: "10:00", Closes: "14:00"}))

	sh, err := c.GetSpecialHours(ctx, holiday.Add(20*time.Hour))
	require.NoError(t, err)
	assert.True(t, sh.Closed)
	assert.Equal(t, "private event", sh.Reason)

	listed, err := c.ListSpecialHours(ctx, Base, Base.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, model.DateKey(holiday), model.DateKey(listed[0].Date))

	require.NoError(t, c.DeleteSpecialHours(ctx, holiday))
	_, err = c.GetSpecialHours(ctx, holiday)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRollback(t *testing.T, c store.Conn) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := c.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateReservation(ctx, newReservation("RB", at(19, 0), 2)); err != nil {
			return err
		}
		if err := tx.UpsertTable(ctx, &model.Table{Number: 9, Capacity: 2}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = c.GetReservation(ctx, "RB")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = c.GetTable(ctx, 9)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = c.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateReservation(ctx, newReservation("OK", at(19, 0), 2))
	})
	require.NoError(t, err)
	_, err = c.GetReservation(ctx, "OK")
	assert.NoError(t, err)
}

func codes(rs []model.Reservation) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.Code)
	}
	return out
}

func entryCodes(es []model.WaitlistEntry) []string {
	var out []string
	for _, e := range es {
		out = append(out, e.Code)
	}
	return out
}
