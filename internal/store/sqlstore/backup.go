package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrBackupUnsupported = errors.New("backup is only supported for sqlite")

// Backup writes a consistent copy of a SQLite database to dest.
func (d *DB) Backup(ctx context.Context, dest string) error {
	if d.driver != DriverSQLite {
		return ErrBackupUnsupported
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}

// BackupName returns the file name for a backup taken at t.
func BackupName(t time.Time) string {
	return fmt.Sprintf("tablebook_%s.db", t.Format("20060102_150405"))
}

// CleanupBackups removes backup files in dir older than retention.
func CleanupBackups(dir string, retention time.Duration, now time.Time) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read backup directory: %w", err)
	}

	cutoff := now.Add(-retention)
	deleted := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), "tablebook_") {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, file.Name())); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}
