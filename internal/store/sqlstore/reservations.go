package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tablebook/internal/model"
	"tablebook/internal/store"
)

const reservationColumns = `id, code, starts_at, party_size, status, table_number, subscriber_id,
    party_name, phone, email, cancel_reason, created_at, updated_at`

func (r *repo) scanReservation(s scanner) (model.Reservation, error) {
	var (
		res                  model.Reservation
		startsAt             int64
		createdAt, updatedAt int64
		table, subscriber    sql.NullInt64
	)
	err := s.Scan(&res.ID, &res.Code, &startsAt, &res.PartySize, &res.Status, &table, &subscriber,
		&res.Party.Name, &res.Party.Phone, &res.Party.Email, &res.CancelReason, &createdAt, &updatedAt)
	if err != nil {
		return model.Reservation{}, err
	}
	res.StartsAt = r.db.fromUnix(startsAt)
	res.CreatedAt = r.db.fromUnix(createdAt)
	res.UpdatedAt = r.db.fromUnix(updatedAt)
	res.TableNumber = intPtr(table)
	res.Party.SubscriberID = int64Ptr(subscriber)
	return res, nil
}

func (r *repo) CreateReservation(ctx context.Context, res *model.Reservation) error {
	err := r.queryRow(ctx, `INSERT INTO reservations
        (code, starts_at, party_size, status, table_number, subscriber_id, party_name, phone, email,
         cancel_reason, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id`,
		res.Code, res.StartsAt.Unix(), res.PartySize, string(res.Status), nullInt(res.TableNumber),
		nullInt64(res.Party.SubscriberID), res.Party.Name, res.Party.Phone, res.Party.Email,
		res.CancelReason, res.CreatedAt.Unix(), res.UpdatedAt.Unix(),
	).Scan(&res.ID)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", translate(err))
	}
	return nil
}

func (r *repo) GetReservation(ctx context.Context, code string) (*model.Reservation, error) {
	res, err := r.scanReservation(r.queryRow(ctx, "SELECT "+reservationColumns+" FROM reservations WHERE code = ?", code))
	if err != nil {
		return nil, translate(err)
	}
	return &res, nil
}

func (r *repo) UpdateReservation(ctx context.Context, res *model.Reservation) error {
	result, err := r.exec(ctx, `UPDATE reservations SET
            starts_at = ?, party_size = ?, status = ?, table_number = ?, subscriber_id = ?,
            party_name = ?, phone = ?, email = ?, cancel_reason = ?, updated_at = ?
        WHERE id = ?`,
		res.StartsAt.Unix(), res.PartySize, string(res.Status), nullInt(res.TableNumber),
		nullInt64(res.Party.SubscriberID), res.Party.Name, res.Party.Phone, res.Party.Email,
		res.CancelReason, res.UpdatedAt.Unix(), res.ID)
	if err != nil {
		return fmt.Errorf("update reservation %d: %w", res.ID, err)
	}
	return requireAffected(result)
}

func (r *repo) TransitionReservation(ctx context.Context, id int64, from, to model.ReservationStatus, reason string, at time.Time) (bool, error) {
	result, err := r.exec(ctx,
		"UPDATE reservations SET status = ?, cancel_reason = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), reason, at.Unix(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition reservation %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var one int
	err = r.queryRow(ctx, "SELECT 1 FROM reservations WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, store.ErrNotFound
	}
	return false, err
}

func (r *repo) FindReservations(ctx context.Context, f store.ReservationFilter) ([]model.Reservation, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Status) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Status))+")")
		for _, s := range f.Status {
			args = append(args, string(s))
		}
	}
	if f.From != nil {
		where = append(where, "starts_at >= ?")
		args = append(args, f.From.Unix())
	}
	if f.Before != nil {
		where = append(where, "starts_at < ?")
		args = append(args, f.Before.Unix())
	}
	if f.After != nil {
		where = append(where, "starts_at > ?")
		args = append(args, f.After.Unix())
	}
	if f.Until != nil {
		where = append(where, "starts_at <= ?")
		args = append(args, f.Until.Unix())
	}
	if f.Unassigned {
		where = append(where, "table_number IS NULL")
	}
	if f.TableNumber != nil {
		where = append(where, "table_number = ?")
		args = append(args, *f.TableNumber)
	}

	q := "SELECT " + reservationColumns + " FROM reservations"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY starts_at, id"

	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find reservations: %w", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		res, err := r.scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
