// Package report exports reservations to spreadsheets.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"tablebook/internal/model"
)

const (
	reservationsSheet = "Reservations"
	summarySheet      = "Summary"
)

// Columns is the header row shared by every export.
var Columns = []string{
	"Code", "Date", "Time", "Party size", "Table", "Status", "Cancel reason",
	"Name", "Phone", "Email", "Created",
}

// Row flattens a reservation into cell values in the order of Columns.
func Row(r *model.Reservation, loc *time.Location) []interface{} {
	start := r.StartsAt.In(loc)
	table := ""
	if r.TableNumber != nil {
		table = fmt.Sprint(*r.TableNumber)
	}
	return []interface{}{
		r.Code,
		start.Format("2006-01-02"),
		start.Format("15:04"),
		r.PartySize,
		table,
		string(r.Status),
		r.CancelReason,
		r.Party.Name,
		r.Party.Phone,
		r.Party.Email,
		r.CreatedAt.In(loc).Format("2006-01-02 15:04:05"),
	}
}

// WriteExcel writes a workbook with one row per reservation and a status
// summary sheet.
func WriteExcel(w io.Writer, reservations []model.Reservation, loc *time.Location) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", reservationsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeRows(f, reservationsSheet, 1, toRows(Columns)); err != nil {
		return err
	}
	boldHeader(f, reservationsSheet, len(Columns))

	rows := make([][]interface{}, 0, len(reservations))
	for i := range reservations {
		rows = append(rows, Row(&reservations[i], loc))
	}
	if err := writeRows(f, reservationsSheet, 2, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", summarySheet, err)
	}
	if err := writeRows(f, summarySheet, 1, summary(reservations)); err != nil {
		return err
	}
	boldHeader(f, summarySheet, 2)

	return f.Write(w)
}

func toRows(cols []string) [][]interface{} {
	row := make([]interface{}, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	return [][]interface{}{row}
}

func summary(reservations []model.Reservation) [][]interface{} {
	counts := map[model.ReservationStatus]int{}
	covers := 0
	for _, r := range reservations {
		counts[r.Status]++
		if r.Status != model.StatusCancelled {
			covers += r.PartySize
		}
	}
	statuses := make([]string, 0, len(counts))
	for st := range counts {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)

	rows := [][]interface{}{{"Status", "Count"}}
	for _, st := range statuses {
		rows = append(rows, []interface{}{st, counts[model.ReservationStatus(st)]})
	}
	rows = append(rows, []interface{}{"total", len(reservations)}, []interface{}{"covers", covers})
	return rows
}

func writeRows(f *excelize.File, sheet string, firstRow int, rows [][]interface{}) error {
	for i, row := range rows {
		for j, val := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, firstRow+i)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, val); err != nil {
				return err
			}
		}
	}
	return nil
}

func boldHeader(f *excelize.File, sheet string, width int) {
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return
	}
	end, _ := excelize.CoordinatesToCellName(width, 1)
	_ = f.SetCellStyle(sheet, "A1", end, style)
}
