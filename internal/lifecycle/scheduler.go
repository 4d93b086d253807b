// Package lifecycle runs the periodic sweeps that retire and promote
// reservations and waitlist entries without a client request.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/availability"
	"tablebook/internal/events"
	"tablebook/internal/metrics"
	"tablebook/internal/notify"
	"tablebook/internal/pool"
	"tablebook/internal/store"
)

// Config holds the scheduler timing.
type Config struct {
	// Interval is the tick period.
	Interval time.Duration
	// DetectionWindow is the look-back used on the first tick and after a
	// gap longer than MaxCatchUp. Later ticks cover exactly the time since
	// the previous tick.
	DetectionWindow time.Duration
	MaxCatchUp      time.Duration
	ReminderLead    time.Duration
	NoShowGrace     time.Duration
	PromotionGrace  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:        time.Minute,
		DetectionWindow: time.Minute,
		MaxCatchUp:      10 * time.Minute,
		ReminderLead:    2 * time.Hour,
		NoShowGrace:     15 * time.Minute,
		PromotionGrace:  15 * time.Minute,
	}
}

// TickReport counts what one tick did.
type TickReport struct {
	From      time.Time
	To        time.Time
	Reminders int
	NoShows   int
	BillReady int
	Promoted  int
	Expired   int
	// Failed names the sweeps that returned an error.
	Failed []string
}

// Scheduler runs the five sweeps on a fixed period. Ticks never overlap.
type Scheduler struct {
	cfg      Config
	pool     *pool.Pool[store.Conn]
	engine   *availability.Engine
	notifier notify.Notifier
	bus      *events.Bus
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	tickMu   sync.Mutex
	lastTick time.Time
}

func New(
	cfg Config,
	p *pool.Pool[store.Conn],
	engine *availability.Engine,
	notifier notify.Notifier,
	bus *events.Bus,
	logger zerolog.Logger,
) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.DetectionWindow <= 0 {
		cfg.DetectionWindow = cfg.Interval
	}
	if cfg.MaxCatchUp <= 0 {
		cfg.MaxCatchUp = def.MaxCatchUp
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = def.ReminderLead
	}
	if cfg.NoShowGrace <= 0 {
		cfg.NoShowGrace = def.NoShowGrace
	}
	if cfg.PromotionGrace <= 0 {
		cfg.PromotionGrace = def.PromotionGrace
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Scheduler{
		cfg:      cfg,
		pool:     p,
		engine:   engine,
		notifier: notifier,
		bus:      bus,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start runs the tick loop until ctx ends or Stop is called. A second call
// while running returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	stopCh := make(chan struct{})
	done := make(chan struct{})
	s.stopCh, s.done = stopCh, done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("scheduler started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped by context")
			return
		case <-stopCh:
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx, s.engine.Now())
		}
	}
}

// Stop ends the loop and waits for the in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh, done := s.stopCh, s.done
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	s.mu.Unlock()
	<-done
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// window returns the detection window (from, to] for a tick at now.
func (s *Scheduler) window(now time.Time) (time.Time, time.Time) {
	switch {
	case s.lastTick.IsZero(), now.Sub(s.lastTick) > s.cfg.MaxCatchUp:
		return now.Add(-s.cfg.DetectionWindow), now
	case !now.After(s.lastTick):
		return now, now
	default:
		return s.lastTick, now
	}
}

// RunOnce performs one tick at now. Each sweep borrows a connection only
// for its own duration; a failing sweep is logged and the rest still run.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) TickReport {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	from, to := s.window(now)
	report := TickReport{From: from, To: to}

	sweeps := []struct {
		name string
		run  func() (int, error)
		into *int
	}{
		{"reminders", func() (int, error) { return s.sweepReminders(ctx, from, to) }, &report.Reminders},
		{"no_shows", func() (int, error) { return s.sweepNoShows(ctx, now) }, &report.NoShows},
		{"bill_ready", func() (int, error) { return s.sweepBillReady(ctx, from, to) }, &report.BillReady},
		{"promotions", func() (int, error) { return s.sweepPromotions(ctx, now) }, &report.Promoted},
		{"waitlist_timeouts", func() (int, error) { return s.sweepTimeouts(ctx, now) }, &report.Expired},
	}
	for _, sw := range sweeps {
		start := time.Now()
		n, err := sw.run()
		*sw.into = n
		metrics.ObserveSweep(sw.name, time.Since(start), n, err)
		if err != nil {
			report.Failed = append(report.Failed, sw.name)
			s.logger.Error().Err(err).Str("sweep", sw.name).Msg("sweep failed")
		}
	}

	if now.After(s.lastTick) {
		s.lastTick = now
	}
	if report.Reminders+report.NoShows+report.BillReady+report.Promoted+report.Expired > 0 {
		s.logger.Info().
			Int("reminders", report.Reminders).
			Int("no_shows", report.NoShows).
			Int("bill_ready", report.BillReady).
			Int("promoted", report.Promoted).
			Int("expired", report.Expired).
			Msg("tick finished")
	}
	return report
}
