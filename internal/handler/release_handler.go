package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"stock_reserve/internal/models"
	"stock_reserve/internal/service"
)

type ReleaseHandler struct {
	logger             *log.Logger
	reservationService *service.ReservationService
}

func NewReleaseHandler(logger *log.Logger, reservationService *service.ReservationService) *ReleaseHandler {
	return &ReleaseHandler{
		logger:             logger,
		reservationService: reservationService,
	}
}

type ReleaseResponsePayload struct {
	Status string `json:"status"`
}

func (h *ReleaseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reservationID := r.URL.Query().Get("id")
	if reservationID == "" {
		http.Error(w, "id query parameter is required", http.StatusBadRequest)
		return
	}

	if err := h.reservationService.ReleaseReservation(r.Context(), reservationID); err != nil {
		h.logger.Printf("Error releasing reservation %s: %v", reservationID, err)
		http.Error(w, "Internal server error during release", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ReleaseResponsePayload{Status: "released"})
}

type ReleaseAllHandler struct {
	logger             *log.Logger
	reservationService *service.ReservationService
}

func NewReleaseAllHandler(logger *log.Logger, reservationService *service.ReservationService) *ReleaseAllHandler {
	return &ReleaseAllHandler{
		logger:             logger,
		reservationService: reservationService,
	}
}

type ReleaseAllRequestPayload struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

type ReleaseAllResponsePayload struct {
	Released int `json:"released"`
}

func (h *ReleaseAllHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload ReleaseAllRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	holder := models.Holder{UserID: payload.UserID, SessionID: payload.SessionID}
	var kind *models.Kind
	if payload.Kind != "" {
		k := models.Kind(payload.Kind)
		kind = &k
	}

	released, err := h.reservationService.ReleaseAllForHolder(r.Context(), holder, kind)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidHolder), errors.Is(err, service.ErrInvalidKind):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Printf("Error releasing holder reservations: %v", err)
			http.Error(w, "Internal server error during release", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, ReleaseAllResponsePayload{Released: released})
}
