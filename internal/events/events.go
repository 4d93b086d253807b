// Package events is a small in-process pub/sub for reservation changes.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	ReservationCreated   = "reservation.created"
	ReservationCancelled = "reservation.cancelled"
	ReservationCompleted = "reservation.completed"
	ReservationSeated    = "reservation.seated"
	TableChanged         = "table.changed"
	HoursChanged         = "hours.changed"
	WaitlistPromoted     = "waitlist.promoted"
	WaitlistExpired      = "waitlist.expired"
)

// Event describes a committed change.
type Event struct {
	Type string
	// Code identifies the reservation or waitlist entry, when there is one.
	Code string
	// Date is the day whose availability changed.
	Date      time.Time
	Reason    string
	CreatedAt time.Time
}

type Handler func(Event) error

// Bus fans events out to subscribers. Handlers run synchronously on the
// publishing goroutine; a failing handler is logged and does not stop the rest.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
	all         []Handler
	logger      zerolog.Logger
	now         func() time.Time
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]Handler),
		logger:      logger.With().Str("component", "events").Logger(),
		now:         time.Now,
	}
}

// Subscribe registers handler for the given types. With no types it
// receives every event.
func (b *Bus) Subscribe(handler Handler, types ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(types) == 0 {
		b.all = append(b.all, handler)
		return
	}
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[event.Type])+len(b.all))
	handlers = append(handlers, b.subscribers[event.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = b.now()
	}
	for _, h := range handlers {
		if err := h(event); err != nil {
			b.logger.Warn().Err(err).Str("type", event.Type).Str("code", event.Code).Msg("event handler failed")
		}
	}
}
