// Package notify delivers guest and staff notifications. Delivery is
// asynchronous and best-effort: a failed notification never changes
// reservation state.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tablebook/internal/metrics"
)

// Kinds of notification.
const (
	KindConfirmed    = "confirmed"
	KindReminder     = "reminder"
	KindCancelled    = "cancelled"
	KindNoShow       = "no_show"
	KindBillReady    = "bill_ready"
	KindTableOffer   = "table_offer"
	KindOfferExpired = "offer_expired"
)

// Recipient identifies who should receive a notification.
type Recipient struct {
	SubscriberID *int64
	Name         string
	Phone        string
	Email        string
}

type Notification struct {
	Kind      string
	Code      string
	Recipient Recipient
	// Staff marks notifications meant for the floor team rather than the guest.
	Staff   bool
	Subject string
	Body    string
}

// Notifier queues notifications. Implementations must not block the caller
// on delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Channel is one delivery transport.
type Channel interface {
	Name() string
	Accepts(n Notification) bool
	Deliver(ctx context.Context, n Notification) error
}

// ErrPermanent marks failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// RetryAfterError asks the dispatcher to wait a given time before retrying.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

type Config struct {
	QueueSize int
	Workers   int
	// Rate is deliveries per second across all workers. Zero means unlimited.
	Rate  float64
	Burst int
	Retry RetryConfig
}

func DefaultConfig() Config {
	return Config{
		QueueSize: 256,
		Workers:   2,
		Rate:      20,
		Burst:     30,
		Retry:     DefaultRetryConfig(),
	}
}

// Dispatcher fans queued notifications out to every channel that accepts them.
type Dispatcher struct {
	cfg      Config
	channels []Channel
	limiter  *rate.Limiter
	logger   zerolog.Logger

	queue chan Notification

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewDispatcher(cfg Config, logger zerolog.Logger, channels ...Channel) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Dispatcher{
		cfg:      cfg,
		channels: channels,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		logger:   logger.With().Str("component", "notify").Logger(),
		queue:    make(chan Notification, cfg.QueueSize),
	}
}

// Start launches the workers. They stop once Close drains the queue or ctx ends.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	names := make([]string, len(d.channels))
	for i, ch := range d.channels {
		names[i] = ch.Name()
	}
	d.logger.Info().Strs("channels", names).Int("workers", d.cfg.Workers).Msg("notification dispatcher started")
}

// Notify enqueues n. When the queue is full the notification is dropped.
func (d *Dispatcher) Notify(_ context.Context, n Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.IncNotification("queue", "closed")
		return
	}
	select {
	case d.queue <- n:
	default:
		metrics.IncNotification("queue", "dropped")
		d.logger.Warn().Str("kind", n.Kind).Str("code", n.Code).Msg("notification queue full, dropping")
	}
}

// Close stops accepting notifications and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-d.queue:
			if !ok {
				return
			}
			d.dispatch(ctx, n)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, n Notification) {
	for _, ch := range d.channels {
		if !ch.Accepts(n) {
			continue
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		if err := d.deliver(ctx, ch, n); err != nil {
			metrics.IncNotification(ch.Name(), "failed")
			d.logger.Error().Err(err).Str("channel", ch.Name()).Str("kind", n.Kind).Str("code", n.Code).
				Msg("notification delivery failed")
			continue
		}
		metrics.IncNotification(ch.Name(), "sent")
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, n Notification) error {
	delays := d.cfg.Retry.RetryDelays
	var lastErr error
	for attempt := 0; attempt <= d.cfg.Retry.MaxRetries; attempt++ {
		err := ch.Deliver(ctx, n)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrPermanent) {
			return err
		}
		if attempt == d.cfg.Retry.MaxRetries {
			break
		}

		var wait time.Duration
		var ra *RetryAfterError
		if errors.As(err, &ra) && ra.After > 0 {
			wait = ra.After
		} else if len(delays) > 0 {
			wait = delays[min(attempt, len(delays)-1)]
		}
		d.logger.Info().Err(err).Str("channel", ch.Name()).Int("attempt", attempt+1).Dur("delay", wait).
			Msg("retrying notification")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}
