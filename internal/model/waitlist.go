package model

import "time"

// WaitlistEntry is a queued request for a table without a reservation.
type WaitlistEntry struct {
	ID           int64      `json:"id"`
	Code         string     `json:"code"`
	RequestedAt  time.Time  `json:"requested_at"`
	PartySize    int        `json:"party_size"`
	Party        Party      `json:"party"`
	NotifiedAt   *time.Time `json:"notified_at,omitempty"`
	OfferedTable *int       `json:"offered_table,omitempty"`
}

// IsNotified reports whether the entry has been offered a table.
func (w *WaitlistEntry) IsNotified() bool {
	return w.NotifiedAt != nil
}

// Offer stamps the promotion to table at the given time.
func (w *WaitlistEntry) Offer(table int, at time.Time) {
	w.NotifiedAt = &at
	w.OfferedTable = &table
}

// OfferExpired reports whether the response grace period has run out.
func (w *WaitlistEntry) OfferExpired(now time.Time, grace time.Duration) bool {
	return w.NotifiedAt != nil && !now.Before(w.NotifiedAt.Add(grace))
}
