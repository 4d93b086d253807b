package notify

import (
	"fmt"
	"time"

	"tablebook/internal/model"
)

const timeLayout = "Mon 2 Jan 15:04"

func recipient(p model.Party) Recipient {
	return Recipient{SubscriberID: p.SubscriberID, Name: p.Name, Phone: p.Phone, Email: p.Email}
}

func greeting(p model.Party) string {
	if p.Name == "" {
		return "Hello"
	}
	return "Hello " + p.Name
}

func Confirmed(r *model.Reservation) Notification {
	return Notification{
		Kind:      KindConfirmed,
		Code:      r.Code,
		Recipient: recipient(r.Party),
		Subject:   fmt.Sprintf("Reservation confirmed for %s", r.StartsAt.Format(timeLayout)),
		Body: fmt.Sprintf("%s,\n\nyour table for %d on %s is confirmed. Reservation code: %s.",
			greeting(r.Party), r.PartySize, r.StartsAt.Format(timeLayout), r.Code),
	}
}

func Reminder(r *model.Reservation) Notification {
	return Notification{
		Kind:      KindReminder,
		Code:      r.Code,
		Recipient: recipient(r.Party),
		Subject:   fmt.Sprintf("See you at %s", r.StartsAt.Format("15:04")),
		Body: fmt.Sprintf("%s,\n\na reminder of your reservation for %d at %s. Reservation code: %s.",
			greeting(r.Party), r.PartySize, r.StartsAt.Format(timeLayout), r.Code),
	}
}

// Cancelled tells the guest why a reservation was cancelled.
func Cancelled(r *model.Reservation) Notification {
	var why string
	switch r.CancelReason {
	case model.ReasonHoursChanged:
		why = "our opening hours have changed"
	case model.ReasonDateClosed:
		why = "we are closed on that day"
	case model.ReasonTableChanged:
		why = "we can no longer seat your party at that time"
	default:
		why = "it was cancelled on request"
	}
	return Notification{
		Kind:      KindCancelled,
		Code:      r.Code,
		Recipient: recipient(r.Party),
		Subject:   fmt.Sprintf("Reservation for %s cancelled", r.StartsAt.Format(timeLayout)),
		Body: fmt.Sprintf("%s,\n\nyour reservation %s for %d on %s has been cancelled because %s.",
			greeting(r.Party), r.Code, r.PartySize, r.StartsAt.Format(timeLayout), why),
	}
}

func NoShow(r *model.Reservation) Notification {
	return Notification{
		Kind:      KindNoShow,
		Code:      r.Code,
		Recipient: recipient(r.Party),
		Subject:   "Reservation released",
		Body: fmt.Sprintf("%s,\n\nwe held your table for %s but did not see you, so reservation %s was released.",
			greeting(r.Party), r.StartsAt.Format(timeLayout), r.Code),
	}
}

// BillReady alerts staff that a table has reached the end of its slot.
func BillReady(t model.Table, r *model.Reservation) Notification {
	n := Notification{
		Kind:    KindBillReady,
		Staff:   true,
		Subject: fmt.Sprintf("Table %d: time to bring the bill", t.Number),
		Body:    fmt.Sprintf("Table %d is due to turn over.", t.Number),
	}
	if t.OccupiedSince != nil {
		n.Body = fmt.Sprintf("Table %d has been seated since %s.", t.Number, t.OccupiedSince.Format("15:04"))
	}
	if r != nil {
		n.Code = r.Code
		n.Body += fmt.Sprintf(" Reservation %s, party of %d.", r.Code, r.PartySize)
	}
	return n
}

// BillReadyGuest lets the seated party know their slot is ending.
func BillReadyGuest(r *model.Reservation, end time.Time) Notification {
	return Notification{
		Kind:      KindBillReady,
		Code:      r.Code,
		Recipient: recipient(r.Party),
		Subject:   "Your table time is ending",
		Body: fmt.Sprintf("%s,\n\nwe hope you enjoyed your meal. Your table is booked until %s; your bill is on its way.",
			greeting(r.Party), end.Format("15:04")),
	}
}

func TableOffer(e *model.WaitlistEntry, table int, grace time.Duration) Notification {
	return Notification{
		Kind:      KindTableOffer,
		Code:      e.Code,
		Recipient: recipient(e.Party),
		Subject:   fmt.Sprintf("Table %d is ready for you", table),
		Body: fmt.Sprintf("%s,\n\ntable %d is free for your party of %d. Please check in within %d minutes. Waitlist code: %s.",
			greeting(e.Party), table, e.PartySize, int(grace.Minutes()), e.Code),
	}
}

func OfferExpired(e *model.WaitlistEntry) Notification {
	return Notification{
		Kind:      KindOfferExpired,
		Code:      e.Code,
		Recipient: recipient(e.Party),
		Subject:   "Waitlist offer expired",
		Body: fmt.Sprintf("%s,\n\nwe held a table for you but did not hear back, so you have been removed from the waitlist (%s).",
			greeting(e.Party), e.Code),
	}
}
