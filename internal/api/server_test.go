package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/apperr"
	"tablebook/internal/availability"
	"tablebook/internal/booking"
	"tablebook/internal/events"
	"tablebook/internal/model"
	"tablebook/internal/pool"
	"tablebook/internal/store"
	"tablebook/internal/store/memory"
)

const testAPIKey = "valid-key"

type testServer struct {
	*httptest.Server
	ds *memory.Dataset
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.New(io.Discard)
	ds := memory.NewDataset()
	p := pool.New[store.Conn](pool.Config{IdleCapacity: 2}, ds.Dial, logger)
	t.Cleanup(p.Shutdown)

	conn, err := ds.Dial(context.Background())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, conn.UpsertTable(ctx, &model.Table{Number: 1, Capacity: 2, Status: model.TableAvailable}))
	require.NoError(t, conn.UpsertTable(ctx, &model.Table{Number: 2, Capacity: 4, Status: model.TableAvailable}))
	require.NoError(t, conn.SetOpeningHours(ctx, model.OpeningHours{Weekday: time.Friday, Opens: "18:00", Closes: "22:00"}))

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	engine := availability.NewEngine(p, availability.DefaultRules(), logger,
		availability.WithClock(func() time.Time { return now }))
	svc := booking.NewService(p, engine, nil, events.NewBus(logger), booking.DefaultConfig(), logger)

	srv := NewServer(svc, Options{APIKey: testAPIKey, Location: time.UTC}, logger)
	ts := &testServer{Server: httptest.NewServer(srv.Handler()), ds: ds}
	t.Cleanup(ts.Close)
	return ts
}

type response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error"`
}

func (ts *testServer) do(t *testing.T, method, path string, body any, apiKey string) (int, response) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func reservationBody(clock string, size int) map[string]any {
	return map[string]any{
		"date":       "2026-03-06",
		"time":       clock,
		"party_size": size,
		"party":      map[string]any{"name": "Ada", "email": "ada@example.com"},
	}
}

func TestSlots(t *testing.T) {
	ts := setupTestServer(t)

	status, resp := ts.do(t, http.MethodGet, "/api/slots?date=2026-03-06&party_size=4", nil, "")
	require.Equal(t, http.StatusOK, status)
	var got slotsResponse
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, []string{"18:00", "18:30", "19:00", "19:30", "20:00"}, got.Slots)

	tests := []struct {
		name  string
		query string
	}{
		{"bad date", "/api/slots?date=06.03.2026&party_size=4"},
		{"missing size", "/api/slots?date=2026-03-06"},
		{"zero size", "/api/slots?date=2026-03-06&party_size=0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := ts.do(t, http.MethodGet, tt.query, nil, "")
			assert.Equal(t, http.StatusBadRequest, status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(apperr.KindValidation), resp.Error.Kind)
		})
	}
}

func TestReservationLifecycle(t *testing.T) {
	ts := setupTestServer(t)

	status, resp := ts.do(t, http.MethodPost, "/api/reservations", reservationBody("19:00", 4), "")
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, resp.OK)
	var r model.Reservation
	require.NoError(t, json.Unmarshal(resp.Data, &r))
	assert.Equal(t, model.StatusActive, r.Status)
	assert.True(t, r.StartsAt.Equal(time.Date(2026, 3, 6, 19, 0, 0, 0, time.UTC)))

	status, _ = ts.do(t, http.MethodGet, "/api/reservations/"+r.Code, nil, "")
	assert.Equal(t, http.StatusOK, status)

	status, resp = ts.do(t, http.MethodPost, "/api/reservations", reservationBody("20:00", 4), "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(apperr.KindSlotUnavailable), resp.Error.Kind)

	status, resp = ts.do(t, http.MethodGet, "/api/allocation?date=2026-03-06&time=19:00&party_size=2", nil, "")
	require.Equal(t, http.StatusOK, status)
	var alloc allocationResponse
	require.NoError(t, json.Unmarshal(resp.Data, &alloc))
	assert.True(t, alloc.Available)
	assert.Equal(t, 1, *alloc.Table)

	status, resp = ts.do(t, http.MethodPost, "/api/reservations/"+r.Code+"/cancel", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Data, &r))
	assert.Equal(t, model.StatusCancelled, r.Status)

	status, resp = ts.do(t, http.MethodPost, "/api/reservations/"+r.Code+"/cancel", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, resp.OK)

	status, _ = ts.do(t, http.MethodGet, "/api/reservations/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateReservationValidation(t *testing.T) {
	ts := setupTestServer(t)

	badEmail := reservationBody("19:00", 2)
	badEmail["party"] = map[string]any{"email": "not-an-email"}
	noContact := reservationBody("19:00", 2)
	noContact["party"] = map[string]any{"name": "Ada"}
	unknownField := reservationBody("19:00", 2)
	unknownField["vip"] = true

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantReason string
	}{
		{"zero party", reservationBody("19:00", 0), http.StatusBadRequest, "party_size must be greater than 0"},
		{"bad clock", reservationBody("7pm", 2), http.StatusBadRequest, "time must be HH:MM"},
		{"bad email", badEmail, http.StatusBadRequest, "email must be an email address"},
		{"no contact", noContact, http.StatusBadRequest, model.ErrContactRequired.Error()},
		{"unknown field", unknownField, http.StatusBadRequest, "invalid request body"},
		{"off the grid", reservationBody("19:15", 2), http.StatusBadRequest, ""},
		{"after last slot", reservationBody("21:00", 2), http.StatusConflict, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := ts.do(t, http.MethodPost, "/api/reservations", tt.body, "")
			assert.Equal(t, tt.wantStatus, status)
			require.NotNil(t, resp.Error)
			assert.Contains(t, resp.Error.Reason, tt.wantReason)
		})
	}
}

func TestWaitlistRoutes(t *testing.T) {
	ts := setupTestServer(t)

	body := map[string]any{"party_size": 2, "party": map[string]any{"phone": "+15550100"}}
	status, resp := ts.do(t, http.MethodPost, "/api/waitlist", body, "")
	require.Equal(t, http.StatusCreated, status)
	var e model.WaitlistEntry
	require.NoError(t, json.Unmarshal(resp.Data, &e))

	status, _ = ts.do(t, http.MethodGet, "/api/waitlist/"+e.Code, nil, "")
	assert.Equal(t, http.StatusOK, status)

	status, resp = ts.do(t, http.MethodGet, "/api/admin/waitlist", nil, testAPIKey)
	require.Equal(t, http.StatusOK, status)
	var list []model.WaitlistEntry
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list, 1)

	status, _ = ts.do(t, http.MethodDelete, "/api/waitlist/"+e.Code, nil, "")
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = ts.do(t, http.MethodDelete, "/api/waitlist/"+e.Code, nil, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ts.do(t, http.MethodPost, "/api/waitlist", map[string]any{"party_size": 9, "party": map[string]any{"phone": "1"}}, "")
	assert.Equal(t, http.StatusBadRequest, status, "no table seats nine")
}

func TestAdminRequiresAPIKey(t *testing.T) {
	ts := setupTestServer(t)

	for _, key := range []string{"", "wrong"} {
		status, resp := ts.do(t, http.MethodGet, "/api/admin/tables", nil, key)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "unauthorized", resp.Error.Kind)
	}

	status, resp := ts.do(t, http.MethodGet, "/api/admin/tables", nil, testAPIKey)
	require.Equal(t, http.StatusOK, status)
	var tables []model.Table
	require.NoError(t, json.Unmarshal(resp.Data, &tables))
	assert.Len(t, tables, 2)
}

func TestAdminCascades(t *testing.T) {
	ts := setupTestServer(t)

	status, resp := ts.do(t, http.MethodPost, "/api/reservations", reservationBody("19:00", 4), "")
	require.Equal(t, http.StatusCreated, status)
	var r model.Reservation
	require.NoError(t, json.Unmarshal(resp.Data, &r))

	status, resp = ts.do(t, http.MethodPut, "/api/admin/tables/2", map[string]any{"capacity": 2}, testAPIKey)
	require.Equal(t, http.StatusOK, status)
	var res booking.CascadeResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, []string{r.Code}, res.Cancelled)

	status, _ = ts.do(t, http.MethodPut, "/api/admin/tables/3", map[string]any{"capacity": 0}, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, http.MethodPut, "/api/admin/hours/friday", map[string]any{"opens": "17:00", "closes": "23:00"}, testAPIKey)
	assert.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodPut, "/api/admin/hours/funday", map[string]any{"closed": true}, testAPIKey)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, http.MethodPut, "/api/admin/special-hours/2026-03-06", map[string]any{"closed": true, "reason": "private event"}, testAPIKey)
	assert.Equal(t, http.StatusOK, status)
	status, resp = ts.do(t, http.MethodGet, "/api/slots?date=2026-03-06&party_size=2", nil, "")
	require.Equal(t, http.StatusOK, status)
	var slots slotsResponse
	require.NoError(t, json.Unmarshal(resp.Data, &slots))
	assert.Empty(t, slots.Slots)

	status, _ = ts.do(t, http.MethodDelete, "/api/admin/special-hours/2026-03-06", nil, testAPIKey)
	assert.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodDelete, "/api/admin/special-hours/2026-03-06", nil, testAPIKey)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ts.do(t, http.MethodDelete, "/api/admin/tables/1", nil, testAPIKey)
	assert.Equal(t, http.StatusOK, status)
	status, _ = ts.do(t, http.MethodPost, "/api/admin/tables/1/release", nil, testAPIKey)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStoreFailureHidesDetails(t *testing.T) {
	ts := setupTestServer(t)
	ts.ds.InjectError(errors.New("disk full at sector 7"))

	status, resp := ts.do(t, http.MethodGet, "/api/slots?date=2026-03-06&party_size=2", nil, "")
	assert.Equal(t, http.StatusInternalServerError, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperr.TryAgain, resp.Error.Reason)
	assert.NotContains(t, resp.Error.Reason, "disk")
}
