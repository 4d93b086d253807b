package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tablebook/internal/api"
	"tablebook/internal/config"
	"tablebook/internal/health"
	"tablebook/internal/lifecycle"
	"tablebook/internal/metrics"
	"tablebook/internal/store/sqlstore"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the lifecycle scheduler and the health endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	metrics.Register()

	dispatcher, closeChannels, err := newDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	defer closeChannels()

	a, err := newApp(ctx, cfg, logger, dispatcher)
	if err != nil {
		return err
	}
	defer a.Close()

	dispatcher.Start(ctx)
	defer dispatcher.Close()

	if err := config.WatchRestaurant(ctx, cfg.RestaurantConfigPath, cfg.RestaurantReload(), logger, func(rc *config.RestaurantConfig) {
		a.applyRestaurant(ctx, rc)
	}); err != nil {
		return fmt.Errorf("restaurant config: %w", err)
	}

	sched := lifecycle.New(lifecycle.Config{
		Interval:        cfg.SchedulerInterval(),
		DetectionWindow: cfg.DetectionWindow(),
		MaxCatchUp:      cfg.MaxCatchUp(),
		ReminderLead:    cfg.ReminderLead(),
		NoShowGrace:     cfg.NoShowGrace(),
		PromotionGrace:  cfg.PromotionGrace(),
	}, a.pool, a.engine, dispatcher, a.bus, logger)

	checks := []health.Check{health.StoreCheck(a.pool)}
	if a.rdb != nil {
		checks = append(checks, health.RedisCheck(a.rdb))
	}
	checker := health.NewChecker(logger, checks...)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { sched.Start(ctx) })

	if cfg.Backup.Enabled {
		run(func() { runBackups(ctx, a.db, cfg, logger) })
	}

	if port := cfg.Monitoring.HealthCheckPort; port > 0 {
		srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: checker.Handler(), ReadHeaderTimeout: 5 * time.Second}
		run(func() { health.Serve(ctx, srv, "health", logger) })
	}
	if cfg.Monitoring.PrometheusEnabled {
		port := cfg.Monitoring.PrometheusPort
		if port == 0 {
			port = 9090
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		run(func() { health.Serve(ctx, srv, "metrics", logger) })
	}
	if addr := cfg.GRPC.Address; addr != "" {
		run(func() {
			if err := checker.ServeGRPC(ctx, addr, cfg.SchedulerInterval()); err != nil {
				logger.Error().Err(err).Msg("grpc health server error")
			}
		})
	}

	apiServer := api.NewServer(a.svc, api.Options{APIKey: cfg.HTTP.APIKey, Location: a.loc}, logger)
	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	health.Serve(ctx, srv, "api", logger)

	// Serve also returns when the listener fails; take the rest down with it.
	cancel()
	sched.Stop()
	wg.Wait()
	logger.Info().Msg("shutdown complete")
	return nil
}

// runBackups copies the SQLite database every backup interval and prunes
// copies past retention.
func runBackups(ctx context.Context, db *sqlstore.DB, cfg *config.Config, logger zerolog.Logger) {
	ticker := time.NewTicker(cfg.BackupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := backupOnce(ctx, db, cfg.Backup.Path, cfg.BackupRetention(), now, logger); err != nil {
				if errors.Is(err, sqlstore.ErrBackupUnsupported) {
					logger.Warn().Str("driver", db.Driver()).Msg("backups disabled for this driver")
					return
				}
				logger.Error().Err(err).Msg("backup failed")
			}
		}
	}
}

func backupOnce(ctx context.Context, db *sqlstore.DB, dir string, retention time.Duration, now time.Time, logger zerolog.Logger) error {
	dest := filepath.Join(dir, sqlstore.BackupName(now))
	if err := db.Backup(ctx, dest); err != nil {
		return err
	}
	deleted, err := sqlstore.CleanupBackups(dir, retention, now)
	if err != nil {
		return err
	}
	logger.Info().Str("file", dest).Int("pruned", deleted).Msg("backup written")
	return nil
}
