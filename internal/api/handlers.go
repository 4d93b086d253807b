package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tablebook/internal/apperr"
	"tablebook/internal/booking"
	"tablebook/internal/model"
)

type partyPayload struct {
	SubscriberID *int64 `json:"subscriber_id,omitempty" validate:"omitempty,gt=0"`
	Name         string `json:"name,omitempty" validate:"max=100"`
	Phone        string `json:"phone,omitempty" validate:"max=32"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
}

func (p partyPayload) model() model.Party {
	return model.Party{SubscriberID: p.SubscriberID, Name: p.Name, Phone: p.Phone, Email: p.Email}
}

type reservationPayload struct {
	Date      string       `json:"date" validate:"required,date"`
	Time      string       `json:"time" validate:"required,clock"`
	PartySize int          `json:"party_size" validate:"gt=0,lte=50"`
	Party     partyPayload `json:"party"`
}

type waitlistPayload struct {
	PartySize int          `json:"party_size" validate:"gt=0,lte=50"`
	Party     partyPayload `json:"party"`
}

type tablePayload struct {
	Capacity int    `json:"capacity" validate:"gt=0,lte=50"`
	Location string `json:"location,omitempty" validate:"max=64"`
}

type hoursPayload struct {
	Opens  string `json:"opens,omitempty" validate:"omitempty,clock"`
	Closes string `json:"closes,omitempty" validate:"omitempty,clock"`
	Closed bool   `json:"closed"`
	Reason string `json:"reason,omitempty" validate:"max=200"`
}

type slotsResponse struct {
	Date      string   `json:"date"`
	PartySize int      `json:"party_size"`
	Slots     []string `json:"slots"`
}

type allocationResponse struct {
	Table     *int `json:"table"`
	Available bool `json:"available"`
}

func (s *Server) parseDate(v string) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", v, s.opts.Location)
	if err != nil {
		return time.Time{}, apperr.Validation("date must be YYYY-MM-DD")
	}
	return d, nil
}

// parseStart combines a date and an HH:MM clock time.
func (s *Server) parseStart(date, clock string) (time.Time, error) {
	d, err := s.parseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	t, err := model.ParseClock(d, clock)
	if err != nil {
		return time.Time{}, apperr.Validation("time: %v", err)
	}
	return t, nil
}

func partySizeParam(r *http.Request) (int, error) {
	n, err := strconv.Atoi(r.URL.Query().Get("party_size"))
	if err != nil {
		return 0, apperr.Validation("party_size must be a number")
	}
	return n, nil
}

func tableParam(r *http.Request) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || n <= 0 {
		return 0, apperr.Validation("table number must be a positive number")
	}
	return n, nil
}

// handleSlots lists bookable start times.
// GET /api/slots?date=2026-03-06&party_size=4
func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	date, err := s.parseDate(r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	size, err := partySizeParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	slots, err := s.svc.GetAvailableSlots(r.Context(), date, size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := slotsResponse{Date: model.DateKey(date), PartySize: size, Slots: make([]string, 0, len(slots))}
	for _, t := range slots {
		resp.Slots = append(resp.Slots, t.In(s.opts.Location).Format("15:04"))
	}
	writeData(w, http.StatusOK, resp)
}

// handleAllocation reports which table a party would get.
// GET /api/allocation?date=2026-03-06&time=19:00&party_size=4
func (s *Server) handleAllocation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	at, err := s.parseStart(q.Get("date"), q.Get("time"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	size, err := partySizeParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	number, ok, err := s.svc.AllocateTable(r.Context(), at, size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := allocationResponse{Available: ok}
	if ok {
		resp.Table = &number
	}
	writeData(w, http.StatusOK, resp)
}

// POST /api/reservations
func (s *Server) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req reservationPayload
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.check(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	start, err := s.parseStart(req.Date, req.Time)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.CreateReservation(r.Context(), booking.ReservationRequest{
		StartsAt:  start,
		PartySize: req.PartySize,
		Party:     req.Party.model(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

func (s *Server) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.GetReservation(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.CancelReservation(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.CheckIn(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.CompleteReservation(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// handleListReservations lists reservations in a date range.
// GET /api/admin/reservations?from=2026-03-06&to=2026-03-07&status=active,no_show
func (s *Server) handleListReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := s.parseDate(q.Get("from"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to := from.AddDate(0, 0, 1)
	if v := q.Get("to"); v != "" {
		if to, err = s.parseDate(v); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	var statuses []model.ReservationStatus
	if v := q.Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st := model.ReservationStatus(strings.TrimSpace(part))
			if !st.Valid() {
				s.writeError(w, r, apperr.Validation("unknown status %q", part))
				return
			}
			statuses = append(statuses, st)
		}
	}

	list, err := s.svc.ListReservations(r.Context(), from, to, statuses...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Reservation{}
	}
	writeData(w, http.StatusOK, list)
}

// POST /api/waitlist
func (s *Server) handleJoinWaitlist(w http.ResponseWriter, r *http.Request) {
	var req waitlistPayload
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.check(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.svc.JoinWaitlist(r.Context(), req.PartySize, req.Party.model())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, e)
}

func (s *Server) handleGetWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.GetWaitlistEntry(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, e)
}

func (s *Server) handleLeaveWaitlist(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.LeaveWaitlist(r.Context(), chi.URLParam(r, "code")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckInWaitlist(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.CheckInWaitlist(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

func (s *Server) handleListWaitlist(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListWaitlist(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.WaitlistEntry{}
	}
	writeData(w, http.StatusOK, list)
}
