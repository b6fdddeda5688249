package handler

import (
	"errors"
	"log"
	"net/http"

	"stock_reserve/internal/service"
)

type AvailabilityHandler struct {
	logger             *log.Logger
	reservationService *service.ReservationService
}

func NewAvailabilityHandler(logger *log.Logger, reservationService *service.ReservationService) *AvailabilityHandler {
	return &AvailabilityHandler{
		logger:             logger,
		reservationService: reservationService,
	}
}

type AvailabilityResponsePayload struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
}

func (h *AvailabilityHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		http.Error(w, "product_id query parameter is required", http.StatusBadRequest)
		return
	}

	available, err := h.reservationService.AvailableStock(r.Context(), productID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProductNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			h.logger.Printf("Error computing availability for product %s: %v", productID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponsePayload{
		ProductID: productID,
		Available: available,
	})
}

type ReservationHandler struct {
	logger             *log.Logger
	reservationService *service.ReservationService
}

func NewReservationHandler(logger *log.Logger, reservationService *service.ReservationService) *ReservationHandler {
	return &ReservationHandler{
		logger:             logger,
		reservationService: reservationService,
	}
}

func (h *ReservationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reservationID := r.URL.Query().Get("id")
	if reservationID == "" {
		http.Error(w, "id query parameter is required", http.StatusBadRequest)
		return
	}

	res, err := h.reservationService.GetReservation(r.Context(), reservationID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrReservationNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			h.logger.Printf("Error fetching reservation %s: %v", reservationID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}
