package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"stock_reserve/internal/models"
	"stock_reserve/internal/service"
)

type ReserveHandler struct {
	logger             *log.Logger
	reservationService *service.ReservationService
}

func NewReserveHandler(logger *log.Logger, reservationService *service.ReservationService) *ReserveHandler {
	return &ReserveHandler{
		logger:             logger,
		reservationService: reservationService,
	}
}

type ReserveRequestPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Kind      string `json:"kind"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type ReserveResponsePayload struct {
	ReservationID string    `json:"reservation_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type InsufficientStockPayload struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
}

func (h *ReserveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload ReserveRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	holder := models.Holder{UserID: payload.UserID, SessionID: payload.SessionID}
	res, err := h.reservationService.CreateReservation(r.Context(), payload.ProductID, payload.Quantity, holder, models.Kind(payload.Kind))
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
		case errors.Is(err, service.ErrInvalidQuantity),
			errors.Is(err, service.ErrInvalidHolder),
			errors.Is(err, service.ErrInvalidKind):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Printf("Error creating reservation: %v", err)
			http.Error(w, "Internal server error during reservation", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, ReserveResponsePayload{
		ReservationID: res.ID,
		ExpiresAt:     res.ExpiresAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
