package availability

import (
	"fmt"
	"sort"
	"time"

	"tablebook/internal/model"
)

// Policy is the tie-break used when several tables fit.
type Policy string

const (
	// PolicyTableNumber picks the lowest-numbered fitting table.
	PolicyTableNumber Policy = "table_number"
	// PolicySmallestFit picks the smallest fitting table, then the lowest number.
	PolicySmallestFit Policy = "smallest_fit"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyTableNumber:
		return PolicyTableNumber, nil
	case PolicySmallestFit:
		return PolicySmallestFit, nil
	}
	return "", fmt.Errorf("unknown allocation policy %q", s)
}

// searchBudget caps the nodes one assignment search may visit.
const searchBudget = 200000

// candidateID marks the hypothetical reservation tried by Place.
const candidateID int64 = -1

// Plan is an assignment of reservations to tables in which no two
// overlapping intervals share a table. It is the single place where table
// capacity and interval overlap are combined, so slot listing, allocation,
// creation and cascades agree.
//
// Unseated reservations have no fixed table: the plan only proves that some
// assignment holds all of them. A new interval is admitted only if an
// assignment still exists with it added.
type Plan struct {
	duration time.Duration
	tables   []model.Table
	byNumber map[int]model.Table

	items      []item
	assigned   map[int64]int
	unplaced   []model.Reservation
	moved      []int64
	incomplete bool
}

// item is one interval to be placed.
type item struct {
	id   int64
	iv   model.Interval
	size int
	// pinned holds the item on one table; prefer only tries that table first.
	pinned int
	prefer int
	allow  func(model.Table) bool
	seated bool
	res    model.Reservation
}

// NewPlan assigns reservations to tables. A seated reservation whose table
// still exists, fits and is not claimed by an earlier seated party stays
// where it is; every other reservation may go to any fitting table. When
// no assignment holds everything, the most recently created unseated
// reservations are left out first.
func NewPlan(tables []model.Table, reservations []model.Reservation, duration time.Duration, policy Policy) *Plan {
	ordered := make([]model.Table, len(tables))
	copy(ordered, tables)
	sort.Slice(ordered, func(i, j int) bool {
		if policy == PolicySmallestFit && ordered[i].Capacity != ordered[j].Capacity {
			return ordered[i].Capacity < ordered[j].Capacity
		}
		return ordered[i].Number < ordered[j].Number
	})

	p := &Plan{
		duration: duration,
		tables:   ordered,
		byNumber: make(map[int]model.Table, len(ordered)),
		assigned: make(map[int64]int, len(reservations)),
	}
	for _, t := range ordered {
		p.byNumber[t.Number] = t
	}

	seated := make([]model.Reservation, 0)
	for _, r := range reservations {
		if r.TableNumber != nil {
			seated = append(seated, r)
		}
	}
	sort.SliceStable(seated, func(i, j int) bool {
		if !seated[i].StartsAt.Equal(seated[j].StartsAt) {
			return seated[i].StartsAt.Before(seated[j].StartsAt)
		}
		return seated[i].ID < seated[j].ID
	})
	claimed := make(map[int][]model.Interval)
	pinned := make(map[int64]int)
	for _, r := range seated {
		iv := r.Interval(duration)
		t, ok := p.byNumber[*r.TableNumber]
		if ok && t.Fits(r.PartySize) && free(claimed[t.Number], iv) {
			claimed[t.Number] = append(claimed[t.Number], iv)
			pinned[r.ID] = t.Number
		}
	}

	for _, r := range reservations {
		it := item{id: r.ID, iv: r.Interval(duration), size: r.PartySize, res: r}
		if r.TableNumber != nil {
			it.seated = true
			if n, ok := pinned[r.ID]; ok {
				it.pinned = n
			} else {
				it.prefer = *r.TableNumber
			}
		}
		p.items = append(p.items, it)
	}

	for _, group := range overlapGroups(p.items) {
		p.assignGroup(group)
	}

	sort.Slice(p.unplaced, func(i, j int) bool {
		a, b := p.unplaced[i], p.unplaced[j]
		if !a.StartsAt.Equal(b.StartsAt) {
			return a.StartsAt.Before(b.StartsAt)
		}
		return a.ID < b.ID
	})
	for _, it := range p.items {
		if n, ok := p.assigned[it.id]; ok && it.seated && n != *it.res.TableNumber {
			p.moved = append(p.moved, it.id)
		}
	}
	sort.Slice(p.moved, func(i, j int) bool { return p.moved[i] < p.moved[j] })
	return p
}

// assignGroup places one overlap group, dropping reservations until the
// rest fit when the whole group cannot be held.
func (p *Plan) assignGroup(group []item) {
	s := p.newSolver()
	if at, ok := s.solve(group); ok {
		p.record(at)
		return
	}
	p.incomplete = p.incomplete || s.exhausted

	var kept, rest []item
	for _, it := range group {
		if it.pinned != 0 {
			kept = append(kept, it)
		} else {
			rest = append(rest, it)
		}
	}
	// Seated parties are kept before bookings, then oldest bookings first.
	sort.SliceStable(rest, func(i, j int) bool {
		if rest[i].seated != rest[j].seated {
			return rest[i].seated
		}
		return rest[i].id < rest[j].id
	})

	best, _ := s.solve(kept)
	for _, it := range rest {
		trial := append(append([]item(nil), kept...), it)
		s := p.newSolver()
		at, ok := s.solve(trial)
		p.incomplete = p.incomplete || s.exhausted
		if !ok {
			p.unplaced = append(p.unplaced, it.res)
			continue
		}
		kept, best = trial, at
	}
	p.record(best)
}

func (p *Plan) record(at map[int64]int) {
	for id, n := range at {
		p.assigned[id] = n
	}
}

// placedItems returns the items the plan holds a table for.
func (p *Plan) placedItems() []item {
	out := make([]item, 0, len(p.items))
	for _, it := range p.items {
		if _, ok := p.assigned[it.id]; ok {
			out = append(out, it)
		}
	}
	return out
}

// feasible reports whether cand can join the plan without pushing any
// placed reservation out. It returns the assignment found.
func (p *Plan) feasible(cand item) (map[int64]int, bool) {
	group := groupOf(append(p.placedItems(), cand), cand.id)
	return p.newSolver().solve(group)
}

// Admits reports whether a party of partySize over iv can be added while
// every placed reservation keeps a table.
func (p *Plan) Admits(iv model.Interval, partySize int) bool {
	_, ok := p.feasible(item{id: candidateID, iv: iv, size: partySize})
	return ok
}

// Place returns the table a new interval would get, without changing the
// plan. Tables are tried in policy order and the first one that leaves an
// assignment for everyone else wins. skip, when non-nil, excludes tables.
func (p *Plan) Place(iv model.Interval, partySize int, skip func(model.Table) bool) (int, bool) {
	cand := item{id: candidateID, iv: iv, size: partySize}
	if skip != nil {
		cand.allow = func(t model.Table) bool { return !skip(t) }
	}
	at, ok := p.feasible(cand)
	if !ok {
		return 0, false
	}
	for _, t := range p.tables {
		if !t.Fits(partySize) || (skip != nil && skip(t)) {
			continue
		}
		if t.Number == at[candidateID] {
			return t.Number, true
		}
		if p.PlaceOn(t.Number, iv, partySize) {
			return t.Number, true
		}
	}
	return at[candidateID], true
}

// PlaceOn reports whether a party of partySize can take table number over
// iv while every placed reservation keeps a table.
func (p *Plan) PlaceOn(number int, iv model.Interval, partySize int) bool {
	t, ok := p.byNumber[number]
	if !ok || !t.Fits(partySize) {
		return false
	}
	_, ok = p.feasible(item{id: candidateID, iv: iv, size: partySize, pinned: number})
	return ok
}

// Add places a new interval, records it under id and re-plans its group.
func (p *Plan) Add(id int64, iv model.Interval, partySize int) (int, bool) {
	number, ok := p.Place(iv, partySize, nil)
	if !ok {
		return 0, false
	}
	it := item{id: id, iv: iv, size: partySize, pinned: number,
		res: model.Reservation{ID: id, StartsAt: iv.Start, PartySize: partySize}}
	at, ok := p.newSolver().solve(groupOf(append(p.placedItems(), it), id))
	if !ok {
		return 0, false
	}
	p.record(at)
	it.pinned = 0
	p.items = append(p.items, it)
	return number, true
}

// TableOf returns the table assigned to a reservation.
func (p *Plan) TableOf(id int64) (int, bool) {
	n, ok := p.assigned[id]
	return n, ok
}

// Unplaced returns reservations that no assignment could hold, by start.
func (p *Plan) Unplaced() []model.Reservation {
	return p.unplaced
}

// Moved returns seated reservations that had to change table.
func (p *Plan) Moved() []int64 {
	return p.moved
}

// Incomplete reports whether a search gave up before finishing, in which
// case Unplaced may list reservations that would in fact fit.
func (p *Plan) Incomplete() bool {
	return p.incomplete
}

// Tables returns tables in policy order.
func (p *Plan) Tables() []model.Table {
	return p.tables
}

func (p *Plan) Duration() time.Duration {
	return p.duration
}

func free(placed []model.Interval, iv model.Interval) bool {
	for _, other := range placed {
		if model.Overlaps(iv, other) {
			return false
		}
	}
	return true
}

// overlapGroups splits items into maximal groups connected by overlap.
// Groups are independent: no table choice in one affects another.
func overlapGroups(items []item) [][]item {
	sorted := append([]item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].iv.Start.Before(sorted[j].iv.Start)
	})
	var (
		groups [][]item
		cur    []item
		end    time.Time
	)
	for _, it := range sorted {
		if len(cur) > 0 && !it.iv.Start.Before(end) {
			groups = append(groups, cur)
			cur = nil
		}
		if len(cur) == 0 || it.iv.End.After(end) {
			end = it.iv.End
		}
		cur = append(cur, it)
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

// groupOf returns the overlap group holding id.
func groupOf(items []item, id int64) []item {
	for _, group := range overlapGroups(items) {
		for _, it := range group {
			if it.id == id {
				return group
			}
		}
	}
	return nil
}

// solver searches for an assignment of one group by backtracking. Items go
// in start order, larger parties first; tables are tried smallest first.
type solver struct {
	tables    []model.Table
	index     map[int]int
	class     []int
	busy      [][]model.Interval
	queue     []item
	at        map[int64]int
	budget    int
	exhausted bool
}

func (p *Plan) newSolver() *solver {
	s := &solver{
		tables: make([]model.Table, len(p.tables)),
		index:  make(map[int]int, len(p.tables)),
		budget: searchBudget,
	}
	copy(s.tables, p.tables)
	sort.SliceStable(s.tables, func(i, j int) bool {
		if s.tables[i].Capacity != s.tables[j].Capacity {
			return s.tables[i].Capacity < s.tables[j].Capacity
		}
		return s.tables[i].Number < s.tables[j].Number
	})
	for i, t := range s.tables {
		s.index[t.Number] = i
	}
	return s
}

func (s *solver) solve(group []item) (map[int64]int, bool) {
	s.busy = make([][]model.Interval, len(s.tables))
	s.at = make(map[int64]int, len(group))
	s.queue = s.queue[:0]

	for _, it := range group {
		if it.pinned == 0 {
			s.queue = append(s.queue, it)
			continue
		}
		i, ok := s.index[it.pinned]
		if !ok || !s.admits(i, it) {
			return nil, false
		}
		s.busy[i] = append(s.busy[i], it.iv)
		s.at[it.id] = it.pinned
	}
	sort.SliceStable(s.queue, func(i, j int) bool {
		a, b := s.queue[i], s.queue[j]
		if !a.iv.Start.Equal(b.iv.Start) {
			return a.iv.Start.Before(b.iv.Start)
		}
		if a.size != b.size {
			return a.size > b.size
		}
		return a.id < b.id
	})
	s.classify()

	if !s.place(0) {
		return nil, false
	}
	return s.at, true
}

// classify groups tables that are interchangeable once empty: same
// capacity, same answer from every table filter, and nobody's preferred
// table.
func (s *solver) classify() {
	s.class = make([]int, len(s.tables))
	special := make(map[int]bool)
	var filters []func(model.Table) bool
	for _, it := range s.queue {
		if it.prefer != 0 {
			special[it.prefer] = true
		}
		if it.allow != nil {
			filters = append(filters, it.allow)
		}
	}
	keys := make(map[string]int)
	for i, t := range s.tables {
		if special[t.Number] {
			s.class[i] = -1 - i
			continue
		}
		key := fmt.Sprint(t.Capacity)
		for _, f := range filters {
			if f(t) {
				key += "+"
			} else {
				key += "-"
			}
		}
		c, ok := keys[key]
		if !ok {
			c = len(keys)
			keys[key] = c
		}
		s.class[i] = c
	}
}

func (s *solver) admits(i int, it item) bool {
	t := s.tables[i]
	if !t.Fits(it.size) {
		return false
	}
	if it.allow != nil && !it.allow(t) {
		return false
	}
	return free(s.busy[i], it.iv)
}

// empty reports whether table i holds nothing that ends after from.
func (s *solver) empty(i int, from time.Time) bool {
	for _, iv := range s.busy[i] {
		if iv.End.After(from) {
			return false
		}
	}
	return true
}

func (s *solver) place(k int) bool {
	if k == len(s.queue) {
		return true
	}
	if s.budget == 0 {
		s.exhausted = true
		return false
	}
	s.budget--

	it := s.queue[k]
	order := make([]int, 0, len(s.tables))
	if i, ok := s.index[it.prefer]; ok && it.prefer != 0 {
		order = append(order, i)
	}
	for i := range s.tables {
		if s.tables[i].Number != it.prefer {
			order = append(order, i)
		}
	}

	tried := make(map[int]bool)
	for _, i := range order {
		if !s.admits(i, it) {
			continue
		}
		// Later items start no earlier than this one, so two empty tables
		// of one class lead to the same outcome.
		if s.empty(i, it.iv.Start) {
			if tried[s.class[i]] {
				continue
			}
			tried[s.class[i]] = true
		}
		s.busy[i] = append(s.busy[i], it.iv)
		s.at[it.id] = s.tables[i].Number
		if s.place(k + 1) {
			return true
		}
		s.busy[i] = s.busy[i][:len(s.busy[i])-1]
		delete(s.at, it.id)
		if s.exhausted {
			return false
		}
	}
	return false
}
