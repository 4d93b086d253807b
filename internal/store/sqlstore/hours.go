package sqlstore

import (
	"context"
	"fmt"
	"time"

	"tablebook/internal/model"
)

func (r *repo) GetOpeningHours(ctx context.Context, weekday time.Weekday) (*model.OpeningHours, error) {
	h := model.OpeningHours{Weekday: weekday}
	err := r.queryRow(ctx, "SELECT opens, closes, closed FROM opening_hours WHERE weekday = ?", int(weekday)).
		Scan(&h.Opens, &h.Closes, &h.Closed)
	if err != nil {
		return nil, translate(err)
	}
	return &h, nil
}

func (r *repo) ListOpeningHours(ctx context.Context) ([]model.OpeningHours, error) {
	rows, err := r.query(ctx, "SELECT weekday, opens, closes, closed FROM opening_hours ORDER BY weekday")
	if err != nil {
		return nil, fmt.Errorf("list opening hours: %w", err)
	}
	defer rows.Close()

	var out []model.OpeningHours
	for rows.Next() {
		var (
			h       model.OpeningHours
			weekday int
		)
		if err := rows.Scan(&weekday, &h.Opens, &h.Closes, &h.Closed); err != nil {
			return nil, fmt.Errorf("scan opening hours: %w", err)
		}
		h.Weekday = time.Weekday(weekday)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *repo) SetOpeningHours(ctx context.Context, h model.OpeningHours) error {
	_, err := r.exec(ctx, `INSERT INTO opening_hours (weekday, opens, closes, closed)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (weekday) DO UPDATE SET
            opens = excluded.opens,
            closes = excluded.closes,
            closed = excluded.closed`,
		int(h.Weekday), h.Opens, h.Closes, h.Closed)
	if err != nil {
		return fmt.Errorf("set opening hours for %s: %w", h.Weekday, err)
	}
	return nil
}

func (r *repo) GetSpecialHours(ctx context.Context, date time.Time) (*model.SpecialHours, error) {
	h := model.SpecialHours{Date: model.DayStart(date)}
	err := r.queryRow(ctx, "SELECT opens, closes, closed, reason FROM special_hours WHERE day = ?", model.DateKey(date)).
		Scan(&h.Opens, &h.Closes, &h.Closed, &h.Reason)
	if err != nil {
		return nil, translate(err)
	}
	return &h, nil
}

func (r *repo) ListSpecialHours(ctx context.Context, from, to time.Time) ([]model.SpecialHours, error) {
	rows, err := r.query(ctx,
		"SELECT day, opens, closes, closed, reason FROM special_hours WHERE day >= ? AND day < ? ORDER BY day",
		model.DateKey(from), model.DateKey(to))
	if err != nil {
		return nil, fmt.Errorf("list special hours: %w", err)
	}
	defer rows.Close()

	var out []model.SpecialHours
	for rows.Next() {
		var (
			h   model.SpecialHours
			day string
		)
		if err := rows.Scan(&day, &h.Opens, &h.Closes, &h.Closed, &h.Reason); err != nil {
			return nil, fmt.Errorf("scan special hours: %w", err)
		}
		h.Date, err = time.ParseInLocation("2006-01-02", day, r.db.loc)
		if err != nil {
			return nil, fmt.Errorf("parse special hours date %q: %w", day, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *repo) SetSpecialHours(ctx context.Context, h model.SpecialHours) error {
	_, err := r.exec(ctx, `INSERT INTO special_hours (day, opens, closes, closed, reason)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (day) DO UPDATE SET
            opens = excluded.opens,
            closes = excluded.closes,
            closed = excluded.closed,
            reason = excluded.reason`,
		model.DateKey(h.Date), h.Opens, h.Closes, h.Closed, h.Reason)
	if err != nil {
		return fmt.Errorf("set special hours for %s: %w", model.DateKey(h.Date), err)
	}
	return nil
}

func (r *repo) DeleteSpecialHours(ctx context.Context, date time.Time) error {
	result, err := r.exec(ctx, "DELETE FROM special_hours WHERE day = ?", model.DateKey(date))
	if err != nil {
		return fmt.Errorf("delete special hours for %s: %w", model.DateKey(date), err)
	}
	return requireAffected(result)
}
