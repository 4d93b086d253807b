package availability

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/model"
)

func reservation(id int64, start time.Time, size int, table *int) model.Reservation {
	return model.Reservation{ID: id, StartsAt: start, PartySize: size, Status: model.StatusActive, TableNumber: table}
}

func TestPlanOrdersLargerPartiesFirst(t *testing.T) {
	tables := []model.Table{{Number: 1, Capacity: 4}, {Number: 2, Capacity: 2}}
	start := on(friday, 19, 0)

	// The two-top arrives first by ID, but the four-top must get table 1.
	plan := NewPlan(tables, []model.Reservation{
		reservation(1, start, 2, nil),
		reservation(2, start, 4, nil),
	}, 2*time.Hour, PolicyTableNumber)

	assert.Empty(t, plan.Unplaced())
	n, ok := plan.TableOf(2)
	require.True(t, ok)
	assert.Equal(t, 1, n)
	n, ok = plan.TableOf(1)
	require.True(t, ok)
	assert.Equal(t, 2, n)
}

func TestPlanKeepsSeatedReservations(t *testing.T) {
	tables := []model.Table{{Number: 1, Capacity: 4}, {Number: 2, Capacity: 4}}
	two := 2
	plan := NewPlan(tables, []model.Reservation{
		reservation(1, on(friday, 19, 0), 2, &two),
		reservation(2, on(friday, 19, 0), 2, nil),
	}, 2*time.Hour, PolicyTableNumber)

	n, _ := plan.TableOf(1)
	assert.Equal(t, 2, n)
	n, _ = plan.TableOf(2)
	assert.Equal(t, 1, n)
	assert.Empty(t, plan.Moved())
}

func TestPlanMovesSeatedWhenTableShrinks(t *testing.T) {
	one := 1
	tables := []model.Table{{Number: 1, Capacity: 2}, {Number: 2, Capacity: 4}}
	plan := NewPlan(tables, []model.Reservation{
		reservation(7, on(friday, 19, 0), 4, &one),
	}, 2*time.Hour, PolicyTableNumber)

	n, ok := plan.TableOf(7)
	require.True(t, ok)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{7}, plan.Moved())
}

func TestPlanReportsUnplaced(t *testing.T) {
	tables := []model.Table{{Number: 3, Capacity: 2}}
	plan := NewPlan(tables, []model.Reservation{
		reservation(1, on(friday, 18, 0), 4, nil),
		reservation(2, on(friday, 18, 0), 2, nil),
		reservation(3, on(friday, 19, 0), 2, nil),
	}, 2*time.Hour, PolicyTableNumber)

	var ids []int64
	for _, r := range plan.Unplaced() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestPlanPlaceDoesNotMutate(t *testing.T) {
	plan := NewPlan([]model.Table{{Number: 1, Capacity: 2}}, nil, 2*time.Hour, PolicyTableNumber)
	iv := model.NewInterval(on(friday, 19, 0), 2*time.Hour)

	_, ok := plan.Place(iv, 2, nil)
	require.True(t, ok)
	_, ok = plan.Place(iv, 2, nil)
	assert.True(t, ok)

	_, ok = plan.Add(99, iv, 2)
	require.True(t, ok)
	_, ok = plan.Place(iv, 2, nil)
	assert.False(t, ok)
	assert.False(t, plan.PlaceOn(1, iv, 2))
	assert.False(t, plan.PlaceOn(42, iv, 2), "unknown table never takes a party")
}

func TestPlanAdmitsOnlyWhenEveryoneKeepsATable(t *testing.T) {
	tables := []model.Table{{Number: 1, Capacity: 4}, {Number: 2, Capacity: 2}}
	a := reservation(1, on(friday, 11, 0), 4, nil)
	b := reservation(2, on(friday, 10, 0), 2, nil)

	tests := []struct {
		name      string
		existing  []model.Reservation
		at        time.Time
		size      int
		wantOK    bool
		wantTable int
	}{
		{"second two-top would push the four-top out", []model.Reservation{a, b}, on(friday, 10, 0), 2, false, 0},
		{"four-top after an earlier two-top", []model.Reservation{b}, on(friday, 11, 0), 4, true, 1},
		{"two-top after the four-top", []model.Reservation{a}, on(friday, 10, 0), 2, true, 2},
		{"two-top clear of both", []model.Reservation{a, b}, on(friday, 13, 0), 2, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := NewPlan(tables, tt.existing, 2*time.Hour, PolicyTableNumber)
			require.Empty(t, plan.Unplaced())

			iv := model.NewInterval(tt.at, 2*time.Hour)
			assert.Equal(t, tt.wantOK, plan.Admits(iv, tt.size))
			n, ok := plan.Place(iv, tt.size, nil)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantTable, n)
		})
	}
}

func TestPlanRepacksInsteadOfDropping(t *testing.T) {
	plan := NewPlan([]model.Table{{Number: 1, Capacity: 4}, {Number: 2, Capacity: 3}}, []model.Reservation{
		reservation(1, on(friday, 11, 0), 4, nil),
		reservation(2, on(friday, 10, 0), 2, nil),
	}, 2*time.Hour, PolicyTableNumber)

	assert.Empty(t, plan.Unplaced())
	n, _ := plan.TableOf(1)
	assert.Equal(t, 1, n)
	n, _ = plan.TableOf(2)
	assert.Equal(t, 2, n)
}

func TestPlanDropsNewestFirst(t *testing.T) {
	plan := NewPlan([]model.Table{{Number: 1, Capacity: 2}}, []model.Reservation{
		reservation(5, on(friday, 18, 0), 2, nil),
		reservation(3, on(friday, 19, 0), 2, nil),
	}, 2*time.Hour, PolicyTableNumber)

	require.Len(t, plan.Unplaced(), 1)
	assert.Equal(t, int64(5), plan.Unplaced()[0].ID)
	_, ok := plan.TableOf(3)
	assert.True(t, ok)
}

func TestPlaceOnRespectsOthers(t *testing.T) {
	tables := []model.Table{{Number: 1, Capacity: 4}, {Number: 2, Capacity: 4}}
	plan := NewPlan(tables, []model.Reservation{
		reservation(1, on(friday, 19, 0), 4, nil),
	}, 2*time.Hour, PolicyTableNumber)
	iv := model.NewInterval(on(friday, 20, 0), 2*time.Hour)

	assert.True(t, plan.PlaceOn(1, iv, 4), "the booked party can move to table 2")
	assert.True(t, plan.PlaceOn(2, iv, 4))
	assert.False(t, plan.PlaceOn(2, iv, 6), "too small")

	two := 2
	plan = NewPlan(tables, []model.Reservation{
		reservation(1, on(friday, 19, 0), 4, &two),
	}, 2*time.Hour, PolicyTableNumber)
	assert.False(t, plan.PlaceOn(2, iv, 4), "seated party holds its table")
	assert.True(t, plan.PlaceOn(1, iv, 4))
}

// assignable reports by exhaustive search whether every reservation can get
// a fitting table with no overlap.
func assignable(tables []model.Table, rs []model.Reservation, d time.Duration) bool {
	at := make([]int, len(rs))
	var try func(k int) bool
	try = func(k int) bool {
		if k == len(rs) {
			return true
		}
		for i, t := range tables {
			if !t.Fits(rs[k].PartySize) {
				continue
			}
			ok := true
			for j := 0; j < k; j++ {
				if at[j] == i && model.Overlaps(rs[j].Interval(d), rs[k].Interval(d)) {
					ok = false
					break
				}
			}
			if ok {
				at[k] = i
				if try(k + 1) {
					return true
				}
			}
		}
		return false
	}
	return try(0)
}

func TestPlanMatchesExhaustiveSearch(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	d := 2 * time.Hour

	for round := 0; round < 300; round++ {
		tables := make([]model.Table, 1+rng.Intn(3))
		for i := range tables {
			tables[i] = model.Table{Number: i + 1, Capacity: 2 + 2*rng.Intn(3)}
		}
		rs := make([]model.Reservation, 1+rng.Intn(6))
		for i := range rs {
			rs[i] = reservation(int64(i+1), on(friday, 10+rng.Intn(4), 30*rng.Intn(2)), 1+rng.Intn(6), nil)
		}
		policy := PolicyTableNumber
		if round%2 == 1 {
			policy = PolicySmallestFit
		}

		plan := NewPlan(tables, rs, d, policy)
		assert.Equal(t, assignable(tables, rs, d), len(plan.Unplaced()) == 0, "round %d", round)

		byNumber := make(map[int]model.Table)
		for _, tb := range tables {
			byNumber[tb.Number] = tb
		}
		var placed []model.Reservation
		for _, r := range rs {
			n, ok := plan.TableOf(r.ID)
			if !ok {
				continue
			}
			assert.True(t, byNumber[n].Fits(r.PartySize), "round %d: %d does not fit table %d", round, r.PartySize, n)
			for _, o := range placed {
				m, _ := plan.TableOf(o.ID)
				if m == n {
					assert.False(t, model.Overlaps(r.Interval(d), o.Interval(d)), "round %d: table %d double booked", round, n)
				}
			}
			placed = append(placed, r)
		}

		iv := model.NewInterval(on(friday, 11, 0), d)
		_, ok := plan.Place(iv, 2, nil)
		cand := reservation(100, iv.Start, 2, nil)
		assert.Equal(t, assignable(tables, append(placed, cand), d), ok, "round %d: admission", round)
	}
}

func TestPlaceSkip(t *testing.T) {
	plan := NewPlan([]model.Table{{Number: 1, Capacity: 2}, {Number: 2, Capacity: 2}}, nil, 2*time.Hour, PolicyTableNumber)
	iv := model.NewInterval(on(friday, 19, 0), 2*time.Hour)

	n, ok := plan.Place(iv, 2, func(t model.Table) bool { return t.Number == 1 })
	require.True(t, ok)
	assert.Equal(t, 2, n)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyTableNumber, p)
	p, err = ParsePolicy("smallest_fit")
	require.NoError(t, err)
	assert.Equal(t, PolicySmallestFit, p)
	_, err = ParsePolicy("random")
	assert.Error(t, err)
}

func TestResolveHours(t *testing.T) {
	weekly := &model.OpeningHours{Weekday: time.Friday, Opens: "12:00", Closes: "22:00"}

	h, err := ResolveHours(friday, weekly, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceWeekly, h.Source)
	assert.True(t, h.Admits(on(friday, 20, 0), 2*time.Hour))
	assert.False(t, h.Admits(on(friday, 20, 30), 2*time.Hour))
	assert.True(t, h.IsOpenAt(on(friday, 21, 59)))
	assert.False(t, h.IsOpenAt(on(friday, 22, 0)))

	h, err = ResolveHours(friday, weekly, &model.SpecialHours{Date: friday, Closed: true})
	require.NoError(t, err)
	assert.True(t, h.Closed)
	assert.Equal(t, SourceSpecial, h.Source)

	h, err = ResolveHours(friday, nil, nil)
	require.NoError(t, err)
	assert.True(t, h.Closed)
	assert.Equal(t, SourceNone, h.Source)

	_, err = ResolveHours(friday, &model.OpeningHours{Opens: "22:00", Closes: "12:00"}, nil)
	assert.Error(t, err)
}
