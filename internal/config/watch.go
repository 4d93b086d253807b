package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchRestaurant loads restaurant.yaml, calls onUpdate with it, then polls
// the file and calls onUpdate again after every change that still validates.
// The initial load error is returned; later ones are logged and skipped.
func WatchRestaurant(ctx context.Context, path string, interval time.Duration, logger zerolog.Logger, onUpdate func(*RestaurantConfig)) error {
	if path == "" {
		path = "configs/restaurant.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cfg, err := LoadRestaurantConfig(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue // transient errors
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()
				cfg, err := LoadRestaurantConfig(path)
				if err != nil {
					logger.Error().Err(err).Str("path", path).Msg("restaurant config reload failed, keeping previous")
					continue
				}
				logger.Info().Str("path", path).Stringer("config", cfg).Msg("restaurant config reloaded")
				if onUpdate != nil {
					onUpdate(cfg)
				}
			}
		}
	}()

	return nil
}
