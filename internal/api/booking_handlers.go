package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"parkhub/internal/auth"
	"parkhub/internal/export"
	"parkhub/internal/models"
	"parkhub/internal/service"
)

// BookingService is the booking workflow exposed over HTTP.
type BookingService interface {
	CreateBooking(ctx context.Context, req models.Requester, in service.CreateBookingInput) (*models.Booking, error)
	GetBooking(ctx context.Context, req models.Requester, id int64) (*models.Booking, error)
	ListMyBookings(ctx context.Context, req models.Requester) ([]models.Booking, error)
	ListBookings(ctx context.Context, req models.Requester, f models.BookingFilter) ([]models.Booking, error)
	CancelBooking(ctx context.Context, req models.Requester, id int64) (*models.Booking, error)
	AdminCancelBooking(ctx context.Context, req models.Requester, id int64) (*models.Booking, error)
}

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(next http.Handler) http.Handler
}

// CreateBookingRequest is the body of POST /bookings.
// UserID defaults to the caller; only admins may book for someone else.
type CreateBookingRequest struct {
	LotID  string `json:"lotId" validate:"required,max=64"`
	SpotID string `json:"spotId,omitempty" validate:"max=32"`
	UserID int64  `json:"userId,omitempty" validate:"omitempty,gt=0"`
}

// BookingListResponse wraps booking listings.
type BookingListResponse struct {
	Bookings []models.Booking `json:"bookings"`
	Count    int              `json:"count"`
}

type BookingHandler struct {
	svc    BookingService
	logger *zerolog.Logger
}

func NewBookingHandler(svc BookingService, logger *zerolog.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, logger: logger}
}

// Register mounts the user and admin booking routes on r.
func (h *BookingHandler) Register(r chi.Router, authn Authenticator) {
	r.Group(func(r chi.Router) {
		r.Use(authn.Authenticate)

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.create)
			r.Get("/me", h.listMine)
			r.Get("/{id}", h.get)
			r.Delete("/{id}", h.cancel)
		})

		r.Route("/admin/bookings", func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))
			r.Get("/", h.adminList)
			r.Get("/export", h.adminExport)
			r.Get("/{id}", h.get)
			r.Post("/{id}/cancel", h.adminCancel)
		})
	})
}

// POST /bookings
func (h *BookingHandler) create(w http.ResponseWriter, r *http.Request) {
	req, _ := auth.FromContext(r.Context())

	var body CreateBookingRequest
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	if body.UserID == 0 {
		body.UserID = req.UserID
	}

	b, err := h.svc.CreateBooking(r.Context(), req, service.CreateBookingInput{
		UserID: body.UserID,
		LotID:  body.LotID,
		SpotID: body.SpotID,
	})
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/bookings/%d", b.ID))
	writeJSON(w, http.StatusCreated, b)
}

// GET /bookings/me
func (h *BookingHandler) listMine(w http.ResponseWriter, r *http.Request) {
	req, _ := auth.FromContext(r.Context())
	list, err := h.svc.ListMyBookings(r.Context(), req)
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, BookingListResponse{Bookings: list, Count: len(list)})
}

// GET /bookings/{id} and GET /admin/bookings/{id}
func (h *BookingHandler) get(w http.ResponseWriter, r *http.Request) {
	req, _ := auth.FromContext(r.Context())
	id, err := idParam(r, "id")
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	b, err := h.svc.GetBooking(r.Context(), req, id)
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// DELETE /bookings/{id}
func (h *BookingHandler) cancel(w http.ResponseWriter, r *http.Request) {
	h.doCancel(w, r, h.svc.CancelBooking)
}

// POST /admin/bookings/{id}/cancel
func (h *BookingHandler) adminCancel(w http.ResponseWriter, r *http.Request) {
	h.doCancel(w, r, h.svc.AdminCancelBooking)
}

func (h *BookingHandler) doCancel(w http.ResponseWriter, r *http.Request,
	cancel func(context.Context, models.Requester, int64) (*models.Booking, error),
) {
	req, _ := auth.FromContext(r.Context())
	id, err := idParam(r, "id")
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	b, err := cancel(r.Context(), req, id)
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GET /admin/bookings?status=&userId=&lotId=&limit=
func (h *BookingHandler) adminList(w http.ResponseWriter, r *http.Request) {
	req, _ := auth.FromContext(r.Context())
	f, err := parseFilter(r)
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	list, err := h.svc.ListBookings(r.Context(), req, f)
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, BookingListResponse{Bookings: list, Count: len(list)})
}

// GET /admin/bookings/export
func (h *BookingHandler) adminExport(w http.ResponseWriter, r *http.Request) {
	req, _ := auth.FromContext(r.Context())
	f, err := parseFilter(r)
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	list, err := h.svc.ListBookings(r.Context(), req, f)
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteBookings(&buf, list); err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	name := fmt.Sprintf("bookings_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

var bookingStatuses = map[string]bool{
	models.StatusPending:   true,
	models.StatusConfirmed: true,
	models.StatusCancelled: true,
	models.StatusFailed:    true,
}

func parseFilter(r *http.Request) (models.BookingFilter, error) {
	q := r.URL.Query()
	f := models.BookingFilter{
		Status: strings.ToLower(strings.TrimSpace(q.Get("status"))),
		LotID:  strings.TrimSpace(q.Get("lotId")),
	}
	if f.Status != "" && !bookingStatuses[f.Status] {
		return f, models.Validationf("unknown status %q", f.Status)
	}
	if raw := q.Get("userId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return f, models.Validationf("userId must be a positive integer")
		}
		f.UserID = id
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			return f, models.Validationf("limit must be between 1 and 1000")
		}
		f.Limit = n
	}
	return f, nil
}
