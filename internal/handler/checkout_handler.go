package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"stock_reserve/internal/models"
	"stock_reserve/internal/service"
)

type CheckoutHandler struct {
	logger             *log.Logger
	reservationService *service.ReservationService
}

func NewCheckoutHandler(logger *log.Logger, reservationService *service.ReservationService) *CheckoutHandler {
	return &CheckoutHandler{
		logger:             logger,
		reservationService: reservationService,
	}
}

type CheckoutRequestPayload struct {
	Items     []models.Item `json:"items"`
	UserID    string        `json:"user_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
}

type CheckoutResponsePayload struct {
	Status         string   `json:"status"`
	ReservationIDs []string `json:"reservation_ids"`
}

func (h *CheckoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload CheckoutRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	holder := models.Holder{UserID: payload.UserID, SessionID: payload.SessionID}
	reservations, err := h.reservationService.ConvertToCheckout(r.Context(), payload.Items, holder)
	if err != nil {
		var insufficient *service.InsufficientStockError
		switch {
		case errors.As(err, &insufficient):
			writeJSON(w, http.StatusConflict, InsufficientStockPayload{
				Status:    "insufficient_stock",
				Message:   insufficient.Error(),
				ProductID: insufficient.ProductID,
				Available: insufficient.Available,
			})
		case errors.Is(err, service.ErrProductNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, service.ErrInvalidHolder),
			errors.Is(err, service.ErrInvalidQuantity),
			errors.Is(err, service.ErrEmptyItems),
			errors.Is(err, service.ErrDuplicateItem):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Printf("Error converting cart to checkout: %v", err)
			http.Error(w, "Internal server error during checkout", http.StatusInternalServerError)
		}
		return
	}

	ids := make([]string, 0, len(reservations))
	for _, res := range reservations {
		ids = append(ids, res.ID)
	}

	writeJSON(w, http.StatusOK, CheckoutResponsePayload{
		Status:         "reserved",
		ReservationIDs: ids,
	})
}

type FinalizeHandler struct {
	logger             *log.Logger
	reservationService *service.ReservationService
}

func NewFinalizeHandler(logger *log.Logger, reservationService *service.ReservationService) *FinalizeHandler {
	return &FinalizeHandler{
		logger:             logger,
		reservationService: reservationService,
	}
}

func (h *FinalizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reservationID := r.URL.Query().Get("id")
	if reservationID == "" {
		http.Error(w, "id query parameter is required", http.StatusBadRequest)
		return
	}

	if err := h.reservationService.FinalizeReservation(r.Context(), reservationID); err != nil {
		switch {
		case errors.Is(err, service.ErrReservationNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, service.ErrReservationNotActive):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Printf("Error finalizing reservation %s: %v", reservationID, err)
			http.Error(w, "Internal server error during finalize", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, ReleaseResponsePayload{Status: "finalized"})
}
