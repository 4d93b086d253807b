package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/model"
	"tablebook/internal/store"
	"tablebook/internal/store/storetest"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Options{
		Driver:   DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "tablebook.db"),
		Location: time.UTC,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Conn {
		conn, err := openTestDB(t).Dial(context.Background())
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Migrate(context.Background()))
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)",
		pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)"))

	lite := &DB{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestConcurrentTransactionsSerialise(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// Each writer reads the count and inserts only if below the limit;
	// serialised transactions keep the total at the limit.
	const limit = 3
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := db.Dial(ctx)
			if err != nil {
				return
			}
			defer conn.Close()
			_ = conn.InTx(ctx, func(tx store.Tx) error {
				existing, err := tx.FindReservations(ctx, store.ReservationFilter{})
				if err != nil {
					return err
				}
				if len(existing) >= limit {
					return nil
				}
				return tx.CreateReservation(ctx, &model.Reservation{
					Code:      string(rune('A' + i)),
					StartsAt:  storetest.Base,
					PartySize: 2,
					Status:    model.StatusActive,
					CreatedAt: storetest.Base,
					UpdatedAt: storetest.Base,
				})
			})
		}(i)
	}
	wg.Wait()

	conn, err := db.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()
	all, err := conn.FindReservations(ctx, store.ReservationFilter{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(all), limit)
}

func TestBackupAndCleanup(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	now := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)

	dest := filepath.Join(dir, BackupName(now))
	require.NoError(t, db.Backup(context.Background(), dest))
	_, err := os.Stat(dest)
	require.NoError(t, err)

	old := filepath.Join(dir, BackupName(now.AddDate(0, 0, -30)))
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	require.NoError(t, os.Chtimes(old, now.AddDate(0, 0, -30), now.AddDate(0, 0, -30)))

	deleted, err := CleanupBackups(dir, 14*24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	_, err = os.Stat(dest)
	assert.NoError(t, err)
}
