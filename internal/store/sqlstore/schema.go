package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// Migrate creates missing tables and indexes.
func (d *DB) Migrate(ctx context.Context) error {
	for _, q := range d.schema() {
		if _, err := d.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func (d *DB) schema() []string {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.driver == DriverPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS restaurant_tables (
            number INTEGER PRIMARY KEY,
            capacity INTEGER NOT NULL CHECK (capacity > 0),
            location TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'available',
            occupied_since BIGINT
        )`,

		// Times are unix seconds in every dialect.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS reservations (
            id %s,
            code TEXT UNIQUE NOT NULL,
            starts_at BIGINT NOT NULL,
            party_size INTEGER NOT NULL CHECK (party_size > 0),
            status TEXT NOT NULL DEFAULT 'active',
            table_number INTEGER,
            subscriber_id BIGINT,
            party_name TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            cancel_reason TEXT NOT NULL DEFAULT '',
            created_at BIGINT NOT NULL,
            updated_at BIGINT NOT NULL
        )`, idColumn),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS waitlist_entries (
            id %s,
            code TEXT UNIQUE NOT NULL,
            requested_at BIGINT NOT NULL,
            party_size INTEGER NOT NULL CHECK (party_size > 0),
            subscriber_id BIGINT,
            party_name TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            notified_at BIGINT,
            offered_table INTEGER
        )`, idColumn),

		`CREATE TABLE IF NOT EXISTS opening_hours (
            weekday INTEGER PRIMARY KEY,
            opens TEXT NOT NULL DEFAULT '',
            closes TEXT NOT NULL DEFAULT '',
            closed BOOLEAN NOT NULL DEFAULT FALSE
        )`,

		`CREATE TABLE IF NOT EXISTS special_hours (
            day TEXT PRIMARY KEY,
            opens TEXT NOT NULL DEFAULT '',
            closes TEXT NOT NULL DEFAULT '',
            closed BOOLEAN NOT NULL DEFAULT FALSE,
            reason TEXT NOT NULL DEFAULT ''
        )`,

		`CREATE INDEX IF NOT EXISTS idx_reservations_status_start ON reservations(status, starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_table ON reservations(table_number)`,
		`CREATE INDEX IF NOT EXISTS idx_waitlist_requested ON waitlist_entries(requested_at)`,
	}
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
