// Package api exposes the booking service over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator"
	"github.com/rs/zerolog"

	"tablebook/internal/apperr"
	"tablebook/internal/booking"
	"tablebook/internal/metrics"
	"tablebook/internal/model"
)

// Booking is the part of the booking service the API calls.
type Booking interface {
	GetAvailableSlots(ctx context.Context, date time.Time, partySize int) ([]time.Time, error)
	AllocateTable(ctx context.Context, at time.Time, partySize int) (int, bool, error)
	CreateReservation(ctx context.Context, req booking.ReservationRequest) (*model.Reservation, error)
	GetReservation(ctx context.Context, code string) (*model.Reservation, error)
	CancelReservation(ctx context.Context, code string) (*model.Reservation, error)
	CheckIn(ctx context.Context, code string) (*model.Reservation, error)
	CompleteReservation(ctx context.Context, code string) (*model.Reservation, error)
	ListReservations(ctx context.Context, from, to time.Time, status ...model.ReservationStatus) ([]model.Reservation, error)

	JoinWaitlist(ctx context.Context, partySize int, party model.Party) (*model.WaitlistEntry, error)
	GetWaitlistEntry(ctx context.Context, code string) (*model.WaitlistEntry, error)
	ListWaitlist(ctx context.Context) ([]model.WaitlistEntry, error)
	LeaveWaitlist(ctx context.Context, code string) error
	CheckInWaitlist(ctx context.Context, code string) (*model.Reservation, error)

	ListTables(ctx context.Context) ([]model.Table, error)
	UpsertTable(ctx context.Context, t model.Table) (booking.CascadeResult, error)
	DeleteTable(ctx context.Context, number int) (booking.CascadeResult, error)
	ReleaseTable(ctx context.Context, number int) (*model.Table, error)
	SetOpeningHours(ctx context.Context, h model.OpeningHours) (booking.CascadeResult, error)
	SetSpecialHours(ctx context.Context, h model.SpecialHours) (booking.CascadeResult, error)
	ClearSpecialHours(ctx context.Context, date time.Time) (booking.CascadeResult, error)
}

type Options struct {
	// APIKey is required in the x-api-key header on admin routes. Empty
	// disables the admin routes.
	APIKey string
	// Location interprets dates and clock times in requests.
	Location *time.Location
}

type Server struct {
	svc      Booking
	opts     Options
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewServer(svc Booking, opts Options, logger zerolog.Logger) *Server {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Server{
		svc:      svc,
		opts:     opts,
		validate: newValidator(),
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.accessLog)

	r.Route("/api", func(r chi.Router) {
		r.Get("/slots", s.handleSlots)
		r.Get("/allocation", s.handleAllocation)

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", s.handleCreateReservation)
			r.Get("/{code}", s.handleGetReservation)
			r.Post("/{code}/cancel", s.handleCancelReservation)
			r.Post("/{code}/check-in", s.handleCheckIn)
			r.Post("/{code}/complete", s.handleComplete)
		})

		r.Route("/waitlist", func(r chi.Router) {
			r.Post("/", s.handleJoinWaitlist)
			r.Get("/{code}", s.handleGetWaitlistEntry)
			r.Delete("/{code}", s.handleLeaveWaitlist)
			r.Post("/{code}/check-in", s.handleCheckInWaitlist)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAPIKey)
			r.Get("/reservations", s.handleListReservations)
			r.Get("/waitlist", s.handleListWaitlist)
			r.Get("/tables", s.handleListTables)
			r.Put("/tables/{number}", s.handleUpsertTable)
			r.Delete("/tables/{number}", s.handleDeleteTable)
			r.Post("/tables/{number}/release", s.handleReleaseTable)
			r.Put("/hours/{weekday}", s.handleSetOpeningHours)
			r.Put("/special-hours/{date}", s.handleSetSpecialHours)
			r.Delete("/special-hours/{date}", s.handleClearSpecialHours)
		})
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.IncHTTP(route, status)
		s.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("took", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("x-api-key")
		if s.opts.APIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.APIKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, envelope{Error: &errorBody{Kind: "unauthorized", Reason: "missing or invalid api key"}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{OK: true, Data: data})
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindSlotUnavailable:
		return http.StatusConflict
	case apperr.KindResourceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and a client-safe body. Internal details
// only reach the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind, reason := apperr.Public(err)
	status := statusOf(kind)
	if status >= http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, envelope{Error: &errorBody{Kind: string(kind), Reason: reason}})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}
