package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tablebook/internal/model"
	"tablebook/internal/store"
)

const waitlistColumns = `id, code, requested_at, party_size, subscriber_id, party_name, phone, email,
    notified_at, offered_table`

func (r *repo) scanEntry(s scanner) (model.WaitlistEntry, error) {
	var (
		e                           model.WaitlistEntry
		requestedAt                 int64
		subscriber, notified, table sql.NullInt64
	)
	err := s.Scan(&e.ID, &e.Code, &requestedAt, &e.PartySize, &subscriber,
		&e.Party.Name, &e.Party.Phone, &e.Party.Email, &notified, &table)
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	e.RequestedAt = r.db.fromUnix(requestedAt)
	e.Party.SubscriberID = int64Ptr(subscriber)
	e.NotifiedAt = r.db.fromNullUnix(notified)
	e.OfferedTable = intPtr(table)
	return e, nil
}

func (r *repo) CreateWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error {
	err := r.queryRow(ctx, `INSERT INTO waitlist_entries
        (code, requested_at, party_size, subscriber_id, party_name, phone, email, notified_at, offered_table)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id`,
		e.Code, e.RequestedAt.Unix(), e.PartySize, nullInt64(e.Party.SubscriberID),
		e.Party.Name, e.Party.Phone, e.Party.Email, nullUnix(e.NotifiedAt), nullInt(e.OfferedTable),
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert waitlist entry: %w", translate(err))
	}
	return nil
}

func (r *repo) GetWaitlistEntry(ctx context.Context, code string) (*model.WaitlistEntry, error) {
	e, err := r.scanEntry(r.queryRow(ctx, "SELECT "+waitlistColumns+" FROM waitlist_entries WHERE code = ?", code))
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (r *repo) UpdateWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error {
	result, err := r.exec(ctx, `UPDATE waitlist_entries SET
            party_size = ?, subscriber_id = ?, party_name = ?, phone = ?, email = ?,
            notified_at = ?, offered_table = ?
        WHERE code = ?`,
		e.PartySize, nullInt64(e.Party.SubscriberID), e.Party.Name, e.Party.Phone, e.Party.Email,
		nullUnix(e.NotifiedAt), nullInt(e.OfferedTable), e.Code)
	if err != nil {
		return fmt.Errorf("update waitlist entry %s: %w", e.Code, err)
	}
	return requireAffected(result)
}

func (r *repo) DeleteWaitlistEntry(ctx context.Context, code string) error {
	result, err := r.exec(ctx, "DELETE FROM waitlist_entries WHERE code = ?", code)
	if err != nil {
		return fmt.Errorf("delete waitlist entry %s: %w", code, err)
	}
	return requireAffected(result)
}

func (r *repo) FindWaitlist(ctx context.Context, f store.WaitlistFilter) ([]model.WaitlistEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Notified != nil {
		if *f.Notified {
			where = append(where, "notified_at IS NOT NULL")
		} else {
			where = append(where, "notified_at IS NULL")
		}
	}
	if f.NotifiedBy != nil {
		where = append(where, "notified_at <= ?")
		args = append(args, f.NotifiedBy.Unix())
	}

	q := "SELECT " + waitlistColumns + " FROM waitlist_entries"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY requested_at, id"

	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("find waitlist: %w", err)
	}
	defer rows.Close()

	var out []model.WaitlistEntry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan waitlist entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
