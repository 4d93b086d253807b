// Package notifytest provides a recording Notifier for tests.
package notifytest

import (
	"context"
	"sync"

	"tablebook/internal/notify"
)

type Recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *Recorder) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
}

func (r *Recorder) All() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

// Of returns the notifications of one kind in send order.
func (r *Recorder) Of(kind string) []notify.Notification {
	var out []notify.Notification
	for _, n := range r.All() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
