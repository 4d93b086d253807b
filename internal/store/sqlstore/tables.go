package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"tablebook/internal/model"
	"tablebook/internal/store"
)

const tableColumns = "number, capacity, location, status, occupied_since"

func (r *repo) scanTable(s scanner) (model.Table, error) {
	var (
		t     model.Table
		since sql.NullInt64
	)
	if err := s.Scan(&t.Number, &t.Capacity, &t.Location, &t.Status, &since); err != nil {
		return model.Table{}, err
	}
	t.OccupiedSince = r.db.fromNullUnix(since)
	return t, nil
}

func (r *repo) ListTables(ctx context.Context) ([]model.Table, error) {
	rows, err := r.query(ctx, "SELECT "+tableColumns+" FROM restaurant_tables ORDER BY number")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []model.Table
	for rows.Next() {
		t, err := r.scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repo) GetTable(ctx context.Context, number int) (*model.Table, error) {
	t, err := r.scanTable(r.queryRow(ctx, "SELECT "+tableColumns+" FROM restaurant_tables WHERE number = ?", number))
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (r *repo) UpsertTable(ctx context.Context, t *model.Table) error {
	if t.Status == "" {
		t.Status = model.TableAvailable
	}
	_, err := r.exec(ctx, `INSERT INTO restaurant_tables (number, capacity, location, status, occupied_since)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (number) DO UPDATE SET
            capacity = excluded.capacity,
            location = excluded.location,
            status = excluded.status,
            occupied_since = excluded.occupied_since`,
		t.Number, t.Capacity, t.Location, string(t.Status), nullUnix(t.OccupiedSince))
	if err != nil {
		return fmt.Errorf("upsert table %d: %w", t.Number, translate(err))
	}
	return nil
}

func (r *repo) DeleteTable(ctx context.Context, number int) error {
	res, err := r.exec(ctx, "DELETE FROM restaurant_tables WHERE number = ?", number)
	if err != nil {
		return fmt.Errorf("delete table %d: %w", number, err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
