// Package sqlstore implements the store on database/sql with SQLite or PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"tablebook/internal/store"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options configures Open.
type Options struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// DSN is a file path for SQLite or a connection URL for PostgreSQL.
	DSN string
	// Location is used to rebuild timestamps. Defaults to time.Local.
	Location *time.Location
	// MaxOpenConns caps physical connections held by database/sql.
	MaxOpenConns int
}

// DB owns the database handle and dials pooled connections from it.
type DB struct {
	db     *sql.DB
	driver string
	loc    *time.Location
	path   string
}

// Open connects to the database and runs migrations.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.Driver == "" {
		opts.Driver = DriverSQLite
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	var (
		db  *sql.DB
		err error
	)
	switch opts.Driver {
	case DriverSQLite:
		db, err = sql.Open("sqlite3", sqliteDSN(opts.DSN))
	case DriverPostgres:
		db, err = sql.Open("pgx", opts.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	// The resource pool keeps idle connections; database/sql should not.
	db.SetMaxIdleConns(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: db, driver: opts.Driver, loc: opts.Location, path: opts.DSN}
	if err := d.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func sqliteDSN(path string) string {
	if path == "" {
		path = "data/tablebook.db"
	}
	if strings.Contains(path, "?") {
		return path
	}
	return "file:" + path + "?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// Driver returns the configured driver name.
func (d *DB) Driver() string {
	return d.driver
}

// PingContext checks the database handle.
func (d *DB) PingContext(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Dial opens one dedicated connection. It matches pool.Dialer[store.Conn].
func (d *DB) Dial(ctx context.Context) (store.Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Conn{repo: repo{q: conn, db: d}, conn: conn}, nil
}

// queryer is satisfied by *sql.Conn and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn is a pooled connection.
type Conn struct {
	repo
	conn *sql.Conn
}

// InTx runs fn in a transaction. SQLite transactions start with BEGIN IMMEDIATE
// (via _txlock); PostgreSQL transactions take a self-conflicting table lock.
func (c *Conn) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if c.db.driver == DriverPostgres {
		if _, err := tx.ExecContext(ctx, "LOCK TABLE reservations, waitlist_entries, restaurant_tables IN SHARE ROW EXCLUSIVE MODE"); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("lock tables: %w", err)
		}
	}
	if err := fn(&repo{q: tx, db: c.db}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// repo implements store.Tx over a queryer.
type repo struct {
	q  queryer
	db *DB
}

func (r *repo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.db.rebind(query), args...)
}

func (r *repo) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.db.rebind(query), args...)
}

func (r *repo) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.db.rebind(query), args...)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (d *DB) fromUnix(v int64) time.Time {
	return time.Unix(v, 0).In(d.loc)
}

func (d *DB) fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := d.fromUnix(v.Int64)
	return &t
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// translate maps driver errors onto store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}
