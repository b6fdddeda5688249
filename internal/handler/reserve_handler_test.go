package handler

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stock_reserve/internal/config"
	"stock_reserve/internal/service"
	"stock_reserve/internal/store"
)

func newTestHandlers(t *testing.T) (*service.ReservationService, *log.Logger) {
	t.Helper()
	mem := store.NewMemStore()
	cfg := &config.Config{
		CartTTL:     15 * time.Minute,
		CheckoutTTL: 10 * time.Minute,
	}
	logger := log.New(io.Discard, "", 0)
	svc := service.NewReservationService(logger, mem, nil, cfg)
	if err := svc.SetProductStock(context.Background(), "p1", 2); err != nil {
		t.Fatalf("SetProductStock: %v", err)
	}
	return svc, logger
}

func TestReserveHandler(t *testing.T) {
	svc, logger := newTestHandlers(t)
	h := NewReserveHandler(logger, svc)

	body := `{"product_id":"p1","quantity":2,"kind":"cart","user_id":"alice"}`
	req := httptest.NewRequest(http.MethodPost, "/reserve", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ReserveResponsePayload
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.ReservationID == "" {
		t.Error("Expected a reservation id in the response")
	}
}

func TestReserveHandler_InsufficientStock(t *testing.T) {
	svc, logger := newTestHandlers(t)
	h := NewReserveHandler(logger, svc)

	first := `{"product_id":"p1","quantity":2,"kind":"cart","user_id":"alice"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reserve", strings.NewReader(first)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Setup reservation failed: %d", rec.Code)
	}

	second := `{"product_id":"p1","quantity":1,"kind":"cart","user_id":"bob"}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reserve", strings.NewReader(second)))

	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp InsufficientStockPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "insufficient_stock" || resp.ProductID != "p1" || resp.Available != 0 {
		t.Errorf("Unexpected payload: %+v", resp)
	}
}

func TestReserveHandler_BadRequests(t *testing.T) {
	svc, logger := newTestHandlers(t)
	h := NewReserveHandler(logger, svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reserve", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reserve", strings.NewReader("not-json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", rec.Code)
	}

	missing := `{"product_id":"ghost","quantity":1,"kind":"cart","user_id":"alice"}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reserve", strings.NewReader(missing)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown product, got %d", rec.Code)
	}

	noHolder := `{"product_id":"p1","quantity":1,"kind":"cart"}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reserve", strings.NewReader(noHolder)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing holder, got %d", rec.Code)
	}
}

func TestCheckoutHandler_AllOrNothing(t *testing.T) {
	svc, logger := newTestHandlers(t)
	reserve := NewReserveHandler(logger, svc)
	checkout := NewCheckoutHandler(logger, svc)

	// Bob takes the whole stock of p1 first.
	bob := `{"product_id":"p1","quantity":2,"kind":"cart","user_id":"bob"}`
	rec := httptest.NewRecorder()
	reserve.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reserve", strings.NewReader(bob)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Setup reservation failed: %d", rec.Code)
	}

	body := `{"items":[{"product_id":"p1","quantity":1}],"user_id":"alice"}`
	rec = httptest.NewRecorder()
	checkout.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body)))

	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp InsufficientStockPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.ProductID != "p1" || resp.Available != 0 {
		t.Errorf("Unexpected payload: %+v", resp)
	}
}

func TestReleaseHandler_Idempotent(t *testing.T) {
	svc, logger := newTestHandlers(t)
	h := NewReleaseHandler(logger, svc)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/release?id=anything", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200 on release attempt %d, got %d", i+1, rec.Code)
		}
	}
}
