package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"tablebook/internal/config"
	"tablebook/internal/model"
	"tablebook/internal/report"
	"tablebook/internal/store/sqlstore"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var backupFirst bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			// Open migrates.
			db, err := sqlstore.Open(cmd.Context(), sqlstore.Options{
				Driver:   cfg.Database.Driver,
				DSN:      cfg.DatabaseDSN(),
				Location: loc,
			})
			if err != nil {
				return err
			}
			defer db.Close()

			if backupFirst {
				dir := cfg.Backup.Path
				if dir == "" {
					dir = "backups"
				}
				if err := backupOnce(cmd.Context(), db, dir, cfg.BackupRetention(), time.Now(), logger); err != nil {
					return fmt.Errorf("backup: %w", err)
				}
			}
			logger.Info().Str("driver", db.Driver()).Msg("schema up to date")
			return nil
		},
	}
	cmd.Flags().BoolVar(&backupFirst, "backup", false, "write a SQLite backup after migrating")
	return cmd
}

type exportOptions struct {
	from, to string
	out      string
	sheets   bool
	statuses []string
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	eo := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export reservations to an .xlsx file or Google Sheets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			return runExport(cmd.Context(), a, cfg, eo)
		},
	}
	cmd.Flags().StringVar(&eo.from, "from", "", "first day, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&eo.to, "to", "", "day after the last one, YYYY-MM-DD (default from + 1 day)")
	cmd.Flags().StringVarP(&eo.out, "out", "o", "reservations.xlsx", "output .xlsx path")
	cmd.Flags().BoolVar(&eo.sheets, "sheets", false, "write to the Google Sheet from the reports config instead of a file")
	cmd.Flags().StringSliceVar(&eo.statuses, "status", nil, "only these statuses (active, cancelled, completed, no_show)")
	return cmd
}

func (eo *exportOptions) window(loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	from := model.DayStart(now.In(loc))
	if eo.from != "" {
		d, err := time.ParseInLocation("2006-01-02", eo.from, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
		}
		from = d
	}
	to := from.AddDate(0, 0, 1)
	if eo.to != "" {
		d, err := time.ParseInLocation("2006-01-02", eo.to, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
		}
		to = d
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to must be after --from")
	}
	return from, to, nil
}

func (eo *exportOptions) statusFilter() ([]model.ReservationStatus, error) {
	out := make([]model.ReservationStatus, 0, len(eo.statuses))
	for _, s := range eo.statuses {
		st := model.ReservationStatus(s)
		if !st.Valid() {
			return nil, fmt.Errorf("unknown status %q", s)
		}
		out = append(out, st)
	}
	return out, nil
}

func runExport(ctx context.Context, a *app, cfg *config.Config, eo *exportOptions) error {
	from, to, err := eo.window(a.loc, time.Now())
	if err != nil {
		return err
	}
	statuses, err := eo.statusFilter()
	if err != nil {
		return err
	}
	list, err := a.svc.ListReservations(ctx, from, to, statuses...)
	if err != nil {
		return err
	}

	if eo.sheets {
		r := cfg.Reports
		if r.CredentialsFile == "" || r.SpreadsheetID == "" {
			return fmt.Errorf("reports.credentials_file and reports.spreadsheet_id are required for --sheets")
		}
		exp, err := report.NewSheetsExporter(ctx, r.CredentialsFile, r.SpreadsheetID, r.SheetName)
		if err != nil {
			return err
		}
		if err := exp.Export(ctx, list, a.loc); err != nil {
			return err
		}
		a.logger.Info().Int("rows", len(list)).Str("spreadsheet", r.SpreadsheetID).Msg("reservations exported")
		return nil
	}

	if dir := filepath.Dir(eo.out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(eo.out)
	if err != nil {
		return err
	}
	if err := report.WriteExcel(f, list, a.loc); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.logger.Info().Int("rows", len(list)).Str("file", eo.out).Msg("reservations exported")
	return nil
}
