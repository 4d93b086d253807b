package booking

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/apperr"
	"tablebook/internal/availability"
	"tablebook/internal/events"
	"tablebook/internal/model"
	"tablebook/internal/notify"
	"tablebook/internal/notify/notifytest"
	"tablebook/internal/pool"
	"tablebook/internal/store"
	"tablebook/internal/store/memory"
)

// friday is 2026-03-06.
var friday = time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour, min int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

type fixture struct {
	ds   *memory.Dataset
	conn store.Conn
	svc  *Service
	sent *notifytest.Recorder
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	f := &fixture{
		ds:   memory.NewDataset(),
		sent: &notifytest.Recorder{},
		now:  at(friday.AddDate(0, 0, -5), 9, 0),
	}
	p := pool.New[store.Conn](pool.Config{IdleCapacity: 4}, f.ds.Dial, logger)
	t.Cleanup(p.Shutdown)

	var err error
	f.conn, err = f.ds.Dial(context.Background())
	require.NoError(t, err)

	engine := availability.NewEngine(p, availability.DefaultRules(), logger,
		availability.WithClock(func() time.Time { return f.now }))
	bus := events.NewBus(logger)
	WireEvents(bus, engine)

	var seq atomic.Int64
	f.svc = NewService(p, engine, f.sent, bus, DefaultConfig(), logger)
	f.svc.newCode = func() string {
		return fmt.Sprintf("C%03d", seq.Add(1))
	}
	return f
}

func (f *fixture) table(t *testing.T, number, capacity int) {
	t.Helper()
	require.NoError(t, f.conn.UpsertTable(context.Background(), &model.Table{Number: number, Capacity: capacity, Status: model.TableAvailable}))
}

func (f *fixture) fridayHours(t *testing.T, opens, closes string) {
	t.Helper()
	require.NoError(t, f.conn.SetOpeningHours(context.Background(), model.OpeningHours{Weekday: time.Friday, Opens: opens, Closes: closes}))
}

func (f *fixture) book(t *testing.T, start time.Time, size int) *model.Reservation {
	t.Helper()
	r, err := f.svc.CreateReservation(context.Background(), ReservationRequest{
		StartsAt:  start,
		PartySize: size,
		Party:     model.Party{Name: "Guest", Phone: "+15550100"},
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) status(t *testing.T, code string) model.ReservationStatus {
	t.Helper()
	r, err := f.conn.GetReservation(context.Background(), code)
	require.NoError(t, err)
	return r.Status
}

func TestCreateReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.table(t, 1, 4)
	f.fridayHours(t, "12:00", "22:00")

	r := f.book(t, at(friday, 19, 0), 4)
	assert.Equal(t, model.StatusActive, r.Status)
	assert.NotZero(t, r.ID)
	assert.Nil(t, r.TableNumber)

	confirmed := f.sent.Of(notify.KindConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, r.Code, confirmed[0].Code)
	assert.Equal(t, "+15550100", confirmed[0].Recipient.Phone)

	tests := []struct {
		name string
		req  ReservationRequest
		want apperr.Kind
	}{
		{"overlapping", ReservationRequest{StartsAt: at(friday, 20, 0), PartySize: 2, Party: model.Party{Phone: "1"}}, apperr.KindSlotUnavailable},
		{"no contact", ReservationRequest{StartsAt: at(friday, 12, 0), PartySize: 2}, apperr.KindValidation},
		{"empty party", ReservationRequest{StartsAt: at(friday, 12, 0), PartySize: 0, Party: model.Party{Phone: "1"}}, apperr.KindValidation},
		{"closed", ReservationRequest{StartsAt: at(friday.AddDate(0, 0, 1), 12, 0), PartySize: 2, Party: model.Party{Phone: "1"}}, apperr.KindSlotUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateReservation(ctx, tt.req)
			assert.Equal(t, tt.want, apperr.KindOf(err), "%v", err)
		})
	}

	sub := int64(42)
	member, err := f.svc.CreateReservation(ctx, ReservationRequest{
		StartsAt: at(friday, 12, 0), PartySize: 2, Party: model.Party{SubscriberID: &sub},
	})
	require.NoError(t, err)
	assert.True(t, member.Party.IsSubscriber())
}

func TestNoDoubleBookingUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	f.table(t, 1, 4)
	f.table(t, 2, 4)
	f.fridayHours(t, "12:00", "22:00")

	const workers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		refused int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Alternate between two overlapping start times.
			start := at(friday, 19, 0)
			if i%2 == 1 {
				start = at(friday, 19, 30)
			}
			_, err := f.svc.CreateReservation(context.Background(), ReservationRequest{
				StartsAt: start, PartySize: 3, Party: model.Party{Phone: fmt.Sprint(i)},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			assert.True(t, apperr.Is(err, apperr.KindSlotUnavailable), "%v", err)
			refused++
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, ok)
	assert.Equal(t, workers-2, refused)

	active, err := f.conn.FindReservations(context.Background(), store.ReservationFilter{
		Status: []model.ReservationStatus{model.StatusActive},
	})
	require.NoError(t, err)
	tables, err := f.conn.ListTables(context.Background())
	require.NoError(t, err)
	plan := availability.NewPlan(tables, active, 2*time.Hour, availability.PolicyTableNumber)
	assert.Empty(t, plan.Unplaced())
}

func TestBookingRefusesToStrandAnotherParty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.table(t, 1, 4)
	f.table(t, 2, 2)
	f.fridayHours(t, "10:00", "22:00")

	f.book(t, at(friday, 11, 0), 4)
	f.book(t, at(friday, 10, 0), 2)

	_, err := f.svc.CreateReservation(ctx, ReservationRequest{
		StartsAt: at(friday, 10, 0), PartySize: 2, Party: model.Party{Phone: "+15550101"},
	})
	assert.True(t, apperr.Is(err, apperr.KindSlotUnavailable), "%v", err)
	assertAssignable(t, f, "after refusal")

	// Booked in the other order, both parties fit.
	g := newFixture(t)
	g.table(t, 1, 4)
	g.table(t, 2, 2)
	g.fridayHours(t, "10:00", "22:00")
	g.book(t, at(friday, 10, 0), 2)
	g.book(t, at(friday, 11, 0), 4)
	assertAssignable(t, g, "reverse order")
}

// assertAssignable checks that every ACTIVE reservation has a fitting table
// with no overlap, verifying the plan's assignment pair by pair.
func assertAssignable(t *testing.T, f *fixture, step string) {
	t.Helper()
	ctx := context.Background()
	d := 2 * time.Hour
	active, err := f.conn.FindReservations(ctx, store.ReservationFilter{
		Status: []model.ReservationStatus{model.StatusActive},
	})
	require.NoError(t, err)
	tables, err := f.conn.ListTables(ctx)
	require.NoError(t, err)

	plan := availability.NewPlan(tables, active, d, availability.PolicyTableNumber)
	require.Empty(t, plan.Unplaced(), step)

	capacity := make(map[int]int, len(tables))
	for _, tb := range tables {
		capacity[tb.Number] = tb.Capacity
	}
	for i, a := range active {
		n, ok := plan.TableOf(a.ID)
		require.True(t, ok, step)
		assert.GreaterOrEqual(t, capacity[n], a.PartySize, "%s: %s on table %d", step, a.Code, n)
		for _, b := range active[:i] {
			if m, _ := plan.TableOf(b.ID); m == n {
				assert.False(t, model.Overlaps(a.Interval(d), b.Interval(d)), "%s: %s and %s share table %d", step, a.Code, b.Code, n)
			}
		}
	}
}

func TestRandomBookingsStayAssignable(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(20260306))
	capacities := []int{2, 3, 4, 6}

	for round := 0; round < 5; round++ {
		f := newFixture(t)
		numbers := []int{1, 2, 3}
		for _, n := range numbers {
			f.table(t, n, capacities[rng.Intn(len(capacities))])
		}
		f.fridayHours(t, "10:00", "22:00")
		next := 4

		for step := 0; step < 40; step++ {
			label := fmt.Sprintf("round %d step %d", round, step)
			switch op := rng.Intn(10); {
			case op < 7:
				start := at(friday, 10, 0).Add(time.Duration(rng.Intn(21)) * 30 * time.Minute)
				_, err := f.svc.CreateReservation(ctx, ReservationRequest{
					StartsAt:  start,
					PartySize: 1 + rng.Intn(6),
					Party:     model.Party{Phone: fmt.Sprint(step)},
				})
				if err != nil {
					require.True(t, apperr.Is(err, apperr.KindSlotUnavailable), "%s: %v", label, err)
				}
			case op < 9:
				n := numbers[rng.Intn(len(numbers))]
				cur, err := f.conn.GetTable(ctx, n)
				require.NoError(t, err)
				capacity := capacities[rng.Intn(len(capacities))]
				res, err := f.svc.SetTableCapacity(ctx, n, capacity)
				require.NoError(t, err, label)
				if capacity >= cur.Capacity {
					assert.Empty(t, res.Cancelled, "%s: raising table %d cancelled", label, n)
				}
			default:
				if rng.Intn(2) == 0 && len(numbers) > 1 {
					i := rng.Intn(len(numbers))
					_, err := f.svc.DeleteTable(ctx, numbers[i])
					require.NoError(t, err, label)
					numbers = append(numbers[:i], numbers[i+1:]...)
					break
				}
				res, err := f.svc.UpsertTable(ctx, model.Table{Number: next, Capacity: capacities[rng.Intn(len(capacities))]})
				require.NoError(t, err, label)
				assert.Empty(t, res.Cancelled, "%s: adding a table cancelled", label)
				numbers = append(numbers, next)
				next++
			}
			assertAssignable(t, f, label)
		}
	}
}

func TestSlotListIsBookable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.table(t, 1, 2)
	f.table(t, 2, 6)
	f.fridayHours(t, "17:00", "23:00")
	f.book(t, at(friday, 18, 0), 5)

	slots, err := f.svc.GetAvailableSlots(ctx, friday, 5)
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	first := slots[0]
	_, err = f.svc.CreateReservation(ctx, ReservationRequest{StartsAt: first, PartySize: 5, Party: model.Party{Phone: "2"}})
	require.NoError(t, err)

	after, err := f.svc.GetAvailableSlots(ctx, friday, 5)
	require.NoError(t, err)
	assert.NotContains(t, after, first)
}

func TestCancelReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.table(t, 1, 4)
	f.fridayHours(t, "12:00", "22:00")
	r := f.book(t, at(friday, 19, 0), 4)

	got, err := f.svc.CancelReservation(ctx, r.Code)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, model.ReasonCustomer, got.CancelReason)
	assert.Len(t, f.sent.Of(notify.KindCancelled), 1)

	_, err = f.svc.CancelReservation(ctx, r.Code)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.svc.CancelReservation(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.svc.GetReservation(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	// The slot is free again.
	f.book(t, at(friday, 19, 0), 4)
}

func TestCheckInAndComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.table(t, 1, 2)
	f.table(t, 2, 4)
	f.fridayHours(t, "12:00", "22:00")
	r := f.book(t, at(friday, 19, 0), 3)

	f.now = at(friday, 18, 55)
	seated, err := f.svc.CheckIn(ctx, r.Code)
	require.NoError(t, err)
	require.NotNil(t, seated.TableNumber)
	assert.Equal(t, 2, *seated.TableNumber)

	table, err := f.conn.GetTable(ctx, 2)
	require.NoError(t, err)
	assert.True(t, table.IsOccupied())
	assert.True(t, table.OccupiedSince.Equal(f.now))

	_, err = f.svc.CheckIn(ctx, r.Code)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	f.now = at(friday, 20, 40)
	done, err := f.svc.CompleteReservation(ctx, r.Code)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Status)

	table, err = f.conn.GetTable(ctx, 2)
	require.NoError(t, err)
	assert.False(t, table.IsOccupied())

	_, err = f.svc.CompleteReservation(ctx, r.Code)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestReleaseTableCompletesSeatedParty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.table(t, 1, 4)
	f.fridayHours(t, "12:00", "22:00")
	r := f.book(t, at(friday, 19, 0), 4)

	f.now = at(friday, 19, 5)
	_, err := f.svc.CheckIn(ctx, r.Code)
	require.NoError(t, err)

	f.now = at(friday, 20, 30)
	table, err := f.svc.ReleaseTable(ctx, 1)
	require.NoError(t, err)
	assert.False(t, table.IsOccupied())
	assert.Equal(t, model.StatusCompleted, f.status(t, r.Code))

	_, err = f.svc.ReleaseTable(ctx, 9)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestWaitlist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.table(t, 1, 2)
	f.table(t, 2, 4)

	_, err := f.svc.JoinWaitlist(ctx, 8, model.Party{Phone: "1"})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "no table seats eight")
	_, err = f.svc.JoinWaitlist(ctx, 2, model.Party{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	f.now = at(friday, 18, 0)
	e, err := f.svc.JoinWaitlist(ctx, 3, model.Party{Name: "Walk-in", Phone: "+1"})
	require.NoError(t, err)
	assert.True(t, e.RequestedAt.Equal(f.now))

	left, err := f.svc.JoinWaitlist(ctx, 2, model.Party{Phone: "+2"})
	require.NoError(t, err)
	require.NoError(t, f.svc.LeaveWaitlist(ctx, left.Code))
	assert.True(t, apperr.Is(f.svc.LeaveWaitlist(ctx, left.Code), apperr.KindNotFound))

	f.now = at(friday, 18, 7)
	r, err := f.svc.CheckInWaitlist(ctx, e.Code)
	require.NoError(t, err)
	require.NotNil(t, r.TableNumber)
	assert.Equal(t, 2, *r.TableNumber)
	assert.True(t, r.StartsAt.Equal(at(friday, 18, 7)))
	assert.Equal(t, 3, r.PartySize)

	_, err = f.conn.GetWaitlistEntry(ctx, e.Code)
	assert.ErrorIs(t, err, store.ErrNotFound)
	table, err := f.conn.GetTable(ctx, 2)
	require.NoError(t, err)
	assert.True(t, table.IsOccupied())
}

func TestCheckInWaitlistHonoursOffer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.table(t, 1, 4)
	f.table(t, 2, 4)

	f.now = at(friday, 18, 0)
	e, err := f.svc.JoinWaitlist(ctx, 4, model.Party{Phone: "+1"})
	require.NoError(t, err)
	e.Offer(2, at(friday, 18, 5))
	require.NoError(t, f.conn.UpdateWaitlistEntry(ctx, e))

	f.now = at(friday, 18, 10)
	r, err := f.svc.CheckInWaitlist(ctx, e.Code)
	require.NoError(t, err)
	assert.Equal(t, 2, *r.TableNumber)

	late, err := f.svc.JoinWaitlist(ctx, 4, model.Party{Phone: "+2"})
	require.NoError(t, err)
	late.Offer(1, at(friday, 18, 10))
	require.NoError(t, f.conn.UpdateWaitlistEntry(ctx, late))

	f.now = at(friday, 18, 26)
	_, err = f.svc.CheckInWaitlist(ctx, late.Code)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "offer expired")
}
