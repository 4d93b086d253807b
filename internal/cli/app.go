package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tablebook/internal/availability"
	"tablebook/internal/booking"
	"tablebook/internal/config"
	"tablebook/internal/events"
	"tablebook/internal/notify"
	"tablebook/internal/pool"
	"tablebook/internal/store"
	"tablebook/internal/store/sqlstore"
)

// app is the wired core shared by every command that touches the store.
type app struct {
	cfg    *config.Config
	loc    *time.Location
	logger zerolog.Logger

	db     *sqlstore.DB
	pool   *pool.Pool[store.Conn]
	rdb    *redis.Client
	engine *availability.Engine
	bus    *events.Bus
	svc    *booking.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, notifier notify.Notifier) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	policy, err := availability.ParsePolicy(cfg.AllocationPolicy())
	if err != nil {
		return nil, err
	}

	db, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.DatabaseDSN(),
		Location:     loc,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("driver", db.Driver()).Msg("database opened")

	a := &app{cfg: cfg, loc: loc, logger: logger, db: db}
	a.pool = pool.New[store.Conn](pool.Config{
		Name:          "store",
		IdleCapacity:  cfg.IdleCapacity(),
		MaxOpen:       cfg.Pool.MaxOpen,
		IdleTimeout:   cfg.IdleTimeout(),
		EvictInterval: cfg.EvictInterval(),
	}, db.Dial, logger)

	var cache availability.SlotCache = availability.NopCache{}
	if cfg.Redis.Address != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Address).Msg("redis unavailable, slot cache misses until it recovers")
		}
		cache = availability.NewRedisCache(a.rdb, cfg.SlotCacheTTL(), loc)
	}

	a.engine = availability.NewEngine(a.pool, availability.Rules{
		Duration:   cfg.BookingDuration(),
		SlotStep:   cfg.SlotStep(),
		Policy:     policy,
		MaxAdvance: cfg.MaxAdvance(),
	}, logger, engineOptions(loc, cache)...)

	a.bus = events.NewBus(logger)
	booking.WireEvents(a.bus, a.engine)

	a.svc = booking.NewService(a.pool, a.engine, notifier, a.bus, booking.Config{
		CascadeHorizonDays: cfg.CascadeHorizonDays(),
		PromotionGrace:     cfg.PromotionGrace(),
	}, logger)
	return a, nil
}

// engineOptions reads the clock in the restaurant's zone, so "today" and
// opening hours are resolved on the local calendar.
func engineOptions(loc *time.Location, cache availability.SlotCache) []availability.Option {
	return []availability.Option{
		availability.WithCache(cache),
		availability.WithClock(func() time.Time { return time.Now().In(loc) }),
	}
}

// applyRestaurant syncs the store with a loaded restaurant.yaml.
func (a *app) applyRestaurant(ctx context.Context, rc *config.RestaurantConfig) {
	layout, err := rc.Layout(a.loc)
	if err != nil {
		a.logger.Error().Err(err).Msg("restaurant config rejected")
		return
	}
	res, err := a.svc.ApplyLayout(ctx, layout)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to apply restaurant config")
		return
	}
	a.logger.Info().
		Int("tables", len(layout.Tables)).
		Int("cancelled", len(res.Cancelled)).
		Int("reassigned", len(res.Reassigned)).
		Int("failed", len(res.Failed)).
		Msg("restaurant config applied")
}

func (a *app) Close() {
	a.pool.Shutdown()
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error().Err(err).Msg("close database")
	}
}

// newDispatcher builds the notification dispatcher with every configured
// channel. The returned func closes channels that hold connections.
func newDispatcher(cfg *config.Config, logger zerolog.Logger) (*notify.Dispatcher, func(), error) {
	channels := []notify.Channel{notify.NewLogChannel(logger)}
	var closers []func() error

	n := cfg.Notify
	if n.SMTP.Host != "" {
		channels = append(channels, notify.NewSMTPChannel(notify.SMTPConfig{
			Host:     n.SMTP.Host,
			Port:     n.SMTP.Port,
			Username: n.SMTP.Username,
			Password: n.SMTP.Password,
			From:     n.SMTP.From,
		}))
	}
	if n.AMQP.URL != "" {
		ch, err := notify.DialAMQP(n.AMQP.URL, n.AMQP.Exchange, n.AMQP.Queue)
		if err != nil {
			return nil, nil, fmt.Errorf("amqp channel: %w", err)
		}
		channels = append(channels, ch)
		closers = append(closers, ch.Close)
	}
	if n.Telegram.BotToken != "" {
		ch, err := notify.NewTelegramChannel(n.Telegram.BotToken, n.Telegram.StaffChats)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, fmt.Errorf("telegram channel: %w", err)
		}
		channels = append(channels, ch)
	}

	def := notify.DefaultConfig()
	d := notify.NewDispatcher(notify.Config{
		QueueSize: n.QueueSize,
		Workers:   n.Workers,
		Rate:      n.Rate,
		Burst:     n.Burst,
		Retry:     def.Retry,
	}, logger, channels...)

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("close notification channel")
			}
		}
	}
	return d, closeAll, nil
}
