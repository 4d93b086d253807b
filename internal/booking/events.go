package booking

import (
	"context"

	"tablebook/internal/availability"
	"tablebook/internal/events"
	"tablebook/internal/metrics"
)

// WireEvents keeps the slot cache and the cancellation counters in step with
// committed changes, whoever made them.
func WireEvents(bus *events.Bus, engine *availability.Engine) {
	bus.Subscribe(func(e events.Event) error {
		ctx := context.Background()
		if e.Date.IsZero() {
			engine.InvalidateAll(ctx)
			return nil
		}
		engine.Invalidate(ctx, e.Date)
		return nil
	},
		events.ReservationCreated,
		events.ReservationCancelled,
		events.ReservationCompleted,
		events.ReservationSeated,
		events.TableChanged,
		events.HoursChanged,
	)

	bus.Subscribe(func(e events.Event) error {
		metrics.IncCancelled(e.Reason)
		return nil
	}, events.ReservationCancelled)
}
