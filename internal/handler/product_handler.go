package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"stock_reserve/internal/service"
)

// ProductHandler is the Catalog collaborator boundary: it records physical
// stock counts. The reservation engine itself never changes totals through
// this path.
type ProductHandler struct {
	logger             *log.Logger
	reservationService *service.ReservationService
}

func NewProductHandler(logger *log.Logger, reservationService *service.ReservationService) *ProductHandler {
	return &ProductHandler{
		logger:             logger,
		reservationService: reservationService,
	}
}

type ProductRequestPayload struct {
	ID         string `json:"id"`
	TotalStock int    `json:"total_stock"`
}

func (h *ProductHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload ProductRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if payload.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	if err := h.reservationService.SetProductStock(r.Context(), payload.ID, payload.TotalStock); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidStock), errors.Is(err, service.ErrInvalidProductID):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Printf("Error upserting product %s: %v", payload.ID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, payload)
}
