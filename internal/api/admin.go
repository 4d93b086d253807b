package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tablebook/internal/apperr"
	"tablebook/internal/model"
)

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.svc.ListTables(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tables == nil {
		tables = []model.Table{}
	}
	writeData(w, http.StatusOK, tables)
}

// handleUpsertTable adds a table or changes its capacity, then re-plans.
// PUT /api/admin/tables/{number}
func (s *Server) handleUpsertTable(w http.ResponseWriter, r *http.Request) {
	number, err := tableParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req tablePayload
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.check(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.UpsertTable(r.Context(), model.Table{Number: number, Capacity: req.Capacity, Location: req.Location})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleDeleteTable(w http.ResponseWriter, r *http.Request) {
	number, err := tableParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.DeleteTable(r.Context(), number)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleReleaseTable(w http.ResponseWriter, r *http.Request) {
	number, err := tableParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.svc.ReleaseTable(r.Context(), number)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, t)
}

// PUT /api/admin/hours/{weekday}
func (s *Server) handleSetOpeningHours(w http.ResponseWriter, r *http.Request) {
	day, ok := weekdayNames[strings.ToLower(chi.URLParam(r, "weekday"))]
	if !ok {
		s.writeError(w, r, apperr.Validation("unknown weekday %q", chi.URLParam(r, "weekday")))
		return
	}
	var req hoursPayload
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.check(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.SetOpeningHours(r.Context(), model.OpeningHours{Weekday: day, Opens: req.Opens, Closes: req.Closes, Closed: req.Closed})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// PUT /api/admin/special-hours/{date}
func (s *Server) handleSetSpecialHours(w http.ResponseWriter, r *http.Request) {
	date, err := s.parseDate(chi.URLParam(r, "date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req hoursPayload
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.check(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.svc.SetSpecialHours(r.Context(), model.SpecialHours{
		Date:   date,
		Opens:  req.Opens,
		Closes: req.Closes,
		Closed: req.Closed,
		Reason: req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleClearSpecialHours(w http.ResponseWriter, r *http.Request) {
	date, err := s.parseDate(chi.URLParam(r, "date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.ClearSpecialHours(r.Context(), date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}
