// Package memory is an in-process store used for tests and single-node demos.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tablebook/internal/model"
	"tablebook/internal/store"
)

var errConnClosed = errors.New("memory: connection closed")

type state struct {
	tables       map[int]model.Table
	reservations map[int64]model.Reservation
	codes        map[string]int64
	waitlist     map[string]model.WaitlistEntry
	opening      map[time.Weekday]model.OpeningHours
	special      map[string]model.SpecialHours
	nextRes      int64
	nextWait     int64
}

func newState() state {
	return state{
		tables:       make(map[int]model.Table),
		reservations: make(map[int64]model.Reservation),
		codes:        make(map[string]int64),
		waitlist:     make(map[string]model.WaitlistEntry),
		opening:      make(map[time.Weekday]model.OpeningHours),
		special:      make(map[string]model.SpecialHours),
	}
}

func (s *state) clone() state {
	out := newState()
	for k, v := range s.tables {
		out.tables[k] = copyTable(v)
	}
	for k, v := range s.reservations {
		out.reservations[k] = copyReservation(v)
	}
	for k, v := range s.codes {
		out.codes[k] = v
	}
	for k, v := range s.waitlist {
		out.waitlist[k] = copyEntry(v)
	}
	for k, v := range s.opening {
		out.opening[k] = v
	}
	for k, v := range s.special {
		out.special[k] = v
	}
	out.nextRes = s.nextRes
	out.nextWait = s.nextWait
	return out
}

// Dataset is the shared data behind every connection dialed from it.
type Dataset struct {
	mu   sync.RWMutex
	data state

	failMu sync.Mutex
	fail   error
}

func NewDataset() *Dataset {
	return &Dataset{data: newState()}
}

// Dial opens a connection to the dataset. It matches pool.Dialer[store.Conn].
func (d *Dataset) Dial(_ context.Context) (store.Conn, error) {
	return &Conn{view: view{d: d}}, nil
}

// InjectError makes every subsequent operation fail with err until cleared with nil.
func (d *Dataset) InjectError(err error) {
	d.failMu.Lock()
	d.fail = err
	d.failMu.Unlock()
}

func (d *Dataset) injected() error {
	d.failMu.Lock()
	defer d.failMu.Unlock()
	return d.fail
}

// Conn is a connection to a Dataset.
type Conn struct {
	view
	closed bool
}

func (c *Conn) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if c.closed {
		return errConnClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()

	snapshot := c.d.data.clone()
	if err := fn(&view{d: c.d, inTx: true}); err != nil {
		c.d.data = snapshot
		return err
	}
	return nil
}

func (c *Conn) Ping(ctx context.Context) error {
	if c.closed {
		return errConnClosed
	}
	if err := c.d.injected(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Conn) Close() error {
	c.closed = true
	return nil
}

// view implements store.Tx. Inside a transaction the dataset lock is already held.
type view struct {
	d    *Dataset
	inTx bool
}

func (v *view) rlock() (func(), error) {
	if err := v.d.injected(); err != nil {
		return nil, err
	}
	if v.inTx {
		return func() {}, nil
	}
	v.d.mu.RLock()
	return v.d.mu.RUnlock, nil
}

func (v *view) lock() (func(), error) {
	if err := v.d.injected(); err != nil {
		return nil, err
	}
	if v.inTx {
		return func() {}, nil
	}
	v.d.mu.Lock()
	return v.d.mu.Unlock, nil
}

func (v *view) ListTables(_ context.Context) ([]model.Table, error) {
	unlock, err := v.rlock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]model.Table, 0, len(v.d.data.tables))
	for _, t := range v.d.data.tables {
		out = append(out, copyTable(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (v *view) GetTable(_ context.Context, number int) (*model.Table, error) {
	unlock, err := v.rlock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, ok := v.d.data.tables[number]
	if !ok {
		return nil, store.ErrNotFound
	}
	t = copyTable(t)
	return &t, nil
}

func (v *view) UpsertTable(_ context.Context, t *model.Table) error {
	unlock, err := v.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if t.Status == "" {
		t.Status = model.TableAvailable
	}
	v.d.data.tables[t.Number] = copyTable(*t)
	return nil
}

func (v *view) DeleteTable(_ context.Context, number int) error {
	unlock, err := v.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := v.d.data.tables[number]; !ok {
		return store.ErrNotFound
	}
	delete(v.d.data.tables, number)
	return nil
}

func (v *view) CreateReservation(_ context.Context, r *model.Reservation) error {
	unlock, err := v.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if _, exists := v.d.data.codes[r.Code]; exists {
		return fmt.Errorf("reservation code %s: %w", r.Code, store.ErrConflict)
	}
	v.d.data.nextRes++
	r.ID = v.d.data.nextRes
	v.d.data.reservations[r.ID] = copyReservation(*r)
	v.d.data.codes[r.Code] = r.ID
	return nil
}

func (v *view) GetReservation(_ context.Context, code string) (*model.Reservation, error) {
	unlock, err := v.rlock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	id, ok := v.d.data.codes[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	r := copyReservation(v.d.data.reservations[id])
	return &r, nil
}

func (v *view) UpdateReservation(_ context.Context, r *model.Reservation) error {
	unlock, err := v.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := v.d.data.reservations[r.ID]; !ok {
		return store.ErrNotFound
	}
	v.d.data.reservations[r.ID] = copyReservation(*r)
	return nil
}

func (v *view) TransitionReservation(_ context.Context, id int64, from, to model.ReservationStatus, reason string, at time.Time) (bool, error) {
	unlock, err := v.lock()
	if err != nil {
		return false, err
	}
	defer unlock()

	r, ok := v.d.data.reservations[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	r.CancelReason = reason
	r.UpdatedAt = at
	v.d.data.reservations[id] = r
	return true, nil
}

func (v *view) FindReservations(_ context.Context, f store.ReservationFilter) ([]model.Reservation, error) {
	unlock, err := v.rlock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []model.Reservation
	for _, r := range v.d.data.reservations {
		if f.Match(&r) {
			out = append(out, copyReservation(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) CreateWaitlistEntry(_ context.Context, e *model.WaitlistEntry) error {
	unlock, err := v.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if _, exists := v.d.data.waitlist[e.Code]; exists {
		return fmt.Errorf("waitlist code %s: %w", e.Code, store.ErrConflict)
	}
	v.d.data.nextWait++
	e.ID = v.d.data.nextWait
	v.d.data.waitlist[e.Code] = copyEntry(*e)
	return nil
}

func (v *view) GetWaitlistEntry(_ context.Context, code string) (*model.WaitlistEntry, error) {
	unlock, err := v.rlock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, ok := v.d.data.waitlist[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	e = copyEntry(e)
	return &e, nil
}

func (v *view) UpdateWaitlistEntry(_ context.Context, e *model.WaitlistEntry) error {
	unlock, err := v.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := v.d.data.waitlist[e.Code]; !ok {
		return store.ErrNotFound
	}
	v.d.data.waitlist[e.Code] = copyEntry(*e)
	return nil
}

func (v *view) DeleteWaitlistEntry(_ context.Context, code string) error {
	unlock, err := v.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := v.d.data.waitlist[code]; !ok {
		return store.ErrNotFound
	}
	delete(v.d.data.waitlist, code)
	return nil
}

func (v *view) FindWaitlist(_ context.Context, f store.WaitlistFilter) ([]model.WaitlistEntry, error) {
	unlock, err := v.rlock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []model.WaitlistEntry
	for _, e := range v.d.data.waitlist {
		if f.Match(&e) {
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) GetOpeningHours(_ context.Context, weekday time.Weekday) (*model.OpeningHours, error) {
	unlock, err := v.rlock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	h, ok := v.d.data.opening[weekday]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &h, nil
}

func (v *view) ListOpeningHours(_ context.Context) ([]model.OpeningHours, error) {
	unlock, err := v.rlock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]model.OpeningHours, 0, len(v.d.data.opening))
	for _, h := range v.d.data.opening {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weekday < out[j].Weekday })
	return out, nil
}

func (v *view) SetOpeningHours(_ context.Context, h model.OpeningHours) error {
	unlock, err := v.lock()
	if err != nil {
		return err
	}
	defer unlock()

	v.d.data.opening[h.Weekday] = h
	return nil
}

func (v *view) GetSpecialHours(_ context.Context, date time.Time) (*model.SpecialHours, error) {
	unlock, err := v.rlock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	h, ok := v.d.data.special[model.DateKey(date)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &h, nil
}

func (v *view) ListSpecialHours(_ context.Context, from, to time.Time) ([]model.SpecialHours, error) {
	unlock, err := v.rlock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	lo, hi := model.DateKey(from), model.DateKey(to)
	var out []model.SpecialHours
	for key, h := range v.d.data.special {
		if key >= lo && key < hi {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (v *view) SetSpecialHours(_ context.Context, h model.SpecialHours) error {
	unlock, err := v.lock()
	if err != nil {
		return err
	}
	defer unlock()

	h.Date = model.DayStart(h.Date)
	v.d.data.special[model.DateKey(h.Date)] = h
	return nil
}

func (v *view) DeleteSpecialHours(_ context.Context, date time.Time) error {
	unlock, err := v.lock()
	if err != nil {
		return err
	}
	defer unlock()

	key := model.DateKey(date)
	if _, ok := v.d.data.special[key]; !ok {
		return store.ErrNotFound
	}
	delete(v.d.data.special, key)
	return nil
}

func copyTable(t model.Table) model.Table {
	if t.OccupiedSince != nil {
		since := *t.OccupiedSince
		t.OccupiedSince = &since
	}
	return t
}

func copyReservation(r model.Reservation) model.Reservation {
	if r.TableNumber != nil {
		n := *r.TableNumber
		r.TableNumber = &n
	}
	r.Party = copyParty(r.Party)
	return r
}

func copyEntry(e model.WaitlistEntry) model.WaitlistEntry {
	if e.NotifiedAt != nil {
		at := *e.NotifiedAt
		e.NotifiedAt = &at
	}
	if e.OfferedTable != nil {
		n := *e.OfferedTable
		e.OfferedTable = &n
	}
	e.Party = copyParty(e.Party)
	return e
}

func copyParty(p model.Party) model.Party {
	if p.SubscriberID != nil {
		id := *p.SubscriberID
		p.SubscriberID = &id
	}
	return p
}
