package report

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"tablebook/internal/model"
)

func fixtures() []model.Reservation {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	table := 3
	return []model.Reservation{
		{
			Code: "AB12CD", StartsAt: time.Date(2026, 3, 6, 19, 0, 0, 0, time.UTC), PartySize: 4,
			Status: model.StatusActive, TableNumber: &table,
			Party:     model.Party{Name: "Ann", Phone: "+15550001"},
			CreatedAt: created,
		},
		{
			Code: "EF34GH", StartsAt: time.Date(2026, 3, 6, 20, 30, 0, 0, time.UTC), PartySize: 2,
			Status: model.StatusCancelled, CancelReason: model.ReasonHoursChanged,
			Party:     model.Party{Name: "Bo", Email: "bo@example.com"},
			CreatedAt: created,
		},
	}
}

func TestRow(t *testing.T) {
	res := fixtures()
	row := Row(&res[0], time.UTC)
	require.Len(t, row, len(Columns))
	assert.Equal(t, []interface{}{
		"AB12CD", "2026-03-06", "19:00", 4, "3", "active", "", "Ann", "+15550001", "", "2026-03-01 09:30:00",
	}, row)

	row = Row(&res[1], time.FixedZone("UTC+2", 2*3600))
	assert.Equal(t, "22:30", row[2])
	assert.Equal(t, "", row[4], "unseated reservations have no table")
	assert.Equal(t, model.ReasonHoursChanged, row[6])
}

func TestWriteExcel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteExcel(&buf, fixtures(), time.UTC))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{reservationsSheet, summarySheet}, f.GetSheetList())

	rows, err := f.GetRows(reservationsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, "AB12CD", rows[1][0])
	assert.Equal(t, "4", rows[1][3])
	assert.Equal(t, "cancelled", rows[2][5])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Status", "Count"},
		{"active", "1"},
		{"cancelled", "1"},
		{"total", "2"},
		{"covers", "4"},
	}, summary)
}

func TestWriteExcelEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteExcel(&buf, nil, time.UTC))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(reservationsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

type sheetsCall struct {
	method string
	path   string
	body   sheets.ValueRange
}

func TestSheetsExport(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []sheetsCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := sheetsCall{method: r.Method, path: r.URL.Path}
		if r.Method == http.MethodPut {
			_ = json.NewDecoder(r.Body).Decode(&c.body)
		}
		mu.Lock()
		calls = append(calls, c)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	svc, err := sheets.NewService(ctx,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	exp := newSheetsExporter(svc, "sheet-id", "")
	require.NoError(t, exp.Export(ctx, fixtures(), time.UTC))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	assert.Equal(t, http.MethodPost, calls[0].method)
	assert.True(t, strings.HasSuffix(calls[0].path, ":clear"), calls[0].path)
	assert.Contains(t, calls[0].path, "sheet-id")

	assert.Equal(t, http.MethodPut, calls[1].method)
	require.Len(t, calls[1].body.Values, 3)
	assert.Equal(t, "Code", calls[1].body.Values[0][0])
	assert.Equal(t, "EF34GH", calls[1].body.Values[2][0])
}

func TestSheetsExportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	ctx := context.Background()
	svc, err := sheets.NewService(ctx,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	err = newSheetsExporter(svc, "sheet-id", "Bookings").Export(ctx, fixtures(), time.UTC)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear sheet Bookings")
}

func TestNewSheetsExporterMissingCredentials(t *testing.T) {
	_, err := NewSheetsExporter(context.Background(), t.TempDir()+"/missing.json", "id", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read credentials")
}
