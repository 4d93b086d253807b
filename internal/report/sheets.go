package report

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"tablebook/internal/model"
)

// SheetsExporter replaces the contents of one sheet with a reservation
// listing.
type SheetsExporter struct {
	svc           *sheets.Service
	spreadsheetID string
	sheet         string
}

// NewSheetsExporter authenticates with a service account credentials file.
func NewSheetsExporter(ctx context.Context, credentialsFile, spreadsheetID, sheet string) (*SheetsExporter, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	svc, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return newSheetsExporter(svc, spreadsheetID, sheet), nil
}

func newSheetsExporter(svc *sheets.Service, spreadsheetID, sheet string) *SheetsExporter {
	if sheet == "" {
		sheet = reservationsSheet
	}
	return &SheetsExporter{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet}
}

// Export clears the sheet and writes the header plus one row per reservation.
func (e *SheetsExporter) Export(ctx context.Context, reservations []model.Reservation, loc *time.Location) error {
	values := toRows(Columns)
	for i := range reservations {
		values = append(values, Row(&reservations[i], loc))
	}

	rng := e.sheet + "!A1"
	if _, err := e.svc.Spreadsheets.Values.Clear(e.spreadsheetID, e.sheet, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet %s: %w", e.sheet, err)
	}
	_, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update sheet %s: %w", e.sheet, err)
	}
	return nil
}
