package api

import (
	"bytes"
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"parkhub/internal/auth"
	"parkhub/internal/export"
	"parkhub/internal/models"
)

// ParkingService is the lot administration exposed over HTTP.
type ParkingService interface {
	ListLots(ctx context.Context) ([]models.LotSummary, error)
	GetLot(ctx context.Context, lotID string) (*models.Lot, error)
	ProvisionLot(ctx context.Context, lotID string, spotNumbers []string) (*models.Lot, error)
	AddSpots(ctx context.Context, lotID string, spotNumbers []string) (int, error)
	DeleteLot(ctx context.Context, lotID string) error
}

// LotRequest is the body of the lot and spot provisioning endpoints.
type LotRequest struct {
	LotID       string   `json:"lotId" validate:"required,max=64"`
	SpotNumbers []string `json:"spotNumbers" validate:"required,min=1,max=1000,dive,required,max=32"`
}

type LotListResponse struct {
	Lots  []models.LotSummary `json:"lots"`
	Count int                 `json:"count"`
}

type SpotsAddedResponse struct {
	LotID      string `json:"lotId"`
	SpotsAdded int    `json:"spotsAdded"`
}

type ParkingHandler struct {
	svc    ParkingService
	logger *zerolog.Logger
}

func NewParkingHandler(svc ParkingService, logger *zerolog.Logger) *ParkingHandler {
	return &ParkingHandler{svc: svc, logger: logger}
}

// Register mounts the public lot reads and the admin routes on r.
func (h *ParkingHandler) Register(r chi.Router, authn Authenticator) {
	r.Get("/parking/lots", h.listLots)
	r.Get("/parking/lots/{lotId}", h.getLot)

	r.Route("/admin/parking", func(r chi.Router) {
		r.Use(authn.Authenticate)
		r.Use(auth.RequireRole(models.RoleAdmin))
		r.Get("/lots", h.listLots)
		r.Get("/lots/export", h.exportLots)
		r.Post("/lots", h.createLot)
		r.Delete("/lots/{lotId}", h.deleteLot)
		r.Post("/spots", h.addSpots)
	})
}

// GET /parking/lots and GET /admin/parking/lots
func (h *ParkingHandler) listLots(w http.ResponseWriter, r *http.Request) {
	lots, err := h.svc.ListLots(r.Context())
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, LotListResponse{Lots: lots, Count: len(lots)})
}

// GET /parking/lots/{lotId}
func (h *ParkingHandler) getLot(w http.ResponseWriter, r *http.Request) {
	lot, err := h.svc.GetLot(r.Context(), chi.URLParam(r, "lotId"))
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lot)
}

// POST /admin/parking/lots
func (h *ParkingHandler) createLot(w http.ResponseWriter, r *http.Request) {
	var body LotRequest
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	lot, err := h.svc.ProvisionLot(r.Context(), body.LotID, body.SpotNumbers)
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, lot)
}

// POST /admin/parking/spots
func (h *ParkingHandler) addSpots(w http.ResponseWriter, r *http.Request) {
	var body LotRequest
	if err := decodeJSON(r, &body); err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	added, err := h.svc.AddSpots(r.Context(), body.LotID, body.SpotNumbers)
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, SpotsAddedResponse{LotID: body.LotID, SpotsAdded: added})
}

// DELETE /admin/parking/lots/{lotId}
func (h *ParkingHandler) deleteLot(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteLot(r.Context(), chi.URLParam(r, "lotId")); err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /admin/parking/lots/export
func (h *ParkingHandler) exportLots(w http.ResponseWriter, r *http.Request) {
	lots, err := h.svc.ListLots(r.Context())
	if err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteLots(&buf, lots); err != nil {
		respondErr(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="lots.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
