package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"stock_reserve/internal/models"
)

func seedProduct(t *testing.T, s *MemStore, id string, stock int) {
	t.Helper()
	if err := s.UpsertProduct(context.Background(), id, stock); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}
}

func reservation(id, productID string, qty int, holder models.Holder, kind models.Kind, ttl time.Duration) *models.Reservation {
	now := time.Now()
	return &models.Reservation{
		ID:        id,
		ProductID: productID,
		Quantity:  qty,
		Holder:    holder,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestMemStore_ReplaceMatchesSessionHolder(t *testing.T) {
	s := NewMemStore()
	seedProduct(t, s, "p1", 5)
	ctx := context.Background()
	anon := models.Holder{SessionID: "sess-1"}

	if _, _, err := s.CreateReservation(ctx, reservation("r1", "p1", 2, anon, models.KindCart, time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.CreateReservation(ctx, reservation("r2", "p1", 3, anon, models.KindCart, time.Hour)); err != nil {
		t.Fatal(err)
	}

	// A session holder must not collide with a user holder of the same
	// string, and the session's first hold must have been replaced.
	available, err := s.AvailableStock(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if available != 2 {
		t.Errorf("Expected 2 available (single hold of 3), got %d", available)
	}

	user := models.Holder{UserID: "sess-1"}
	if _, _, err := s.CreateReservation(ctx, reservation("r3", "p1", 2, user, models.KindCart, time.Hour)); err != nil {
		t.Fatalf("Expected distinct user holder to reserve independently, got: %v", err)
	}
	available, _ = s.AvailableStock(ctx, "p1")
	if available != 0 {
		t.Errorf("Expected 0 available with both holders active, got %d", available)
	}
}

func TestMemStore_ConvertToCheckoutRollsBack(t *testing.T) {
	s := NewMemStore()
	seedProduct(t, s, "p1", 5)
	seedProduct(t, s, "p2", 0)
	ctx := context.Background()
	alice := models.Holder{UserID: "alice"}

	batch := []*models.Reservation{
		reservation("c1", "p1", 2, alice, models.KindCheckout, time.Hour),
		reservation("c2", "p2", 1, alice, models.KindCheckout, time.Hour),
	}
	failedID, available, _, err := s.ConvertToCheckout(ctx, batch)
	if !errors.Is(err, ErrDBInsufficientStock) {
		t.Fatalf("Expected ErrDBInsufficientStock, got: %v", err)
	}
	if failedID != "p2" || available != 0 {
		t.Errorf("Expected failure naming p2 with 0 available, got {%s %d}", failedID, available)
	}

	// The insert for p1 that preceded the failure must be gone.
	if res, _ := s.GetReservation(ctx, "c1"); res != nil {
		t.Error("Expected first-item reservation rolled back")
	}
	if avail, _ := s.AvailableStock(ctx, "p1"); avail != 5 {
		t.Errorf("Expected p1 untouched, got %d available", avail)
	}
}

func TestMemStore_ConvertToCheckoutReplacesOwnHolds(t *testing.T) {
	s := NewMemStore()
	seedProduct(t, s, "p1", 1)
	ctx := context.Background()
	alice := models.Holder{UserID: "alice"}

	first := []*models.Reservation{
		reservation("c1", "p1", 1, alice, models.KindCheckout, time.Hour),
	}
	if _, _, _, err := s.ConvertToCheckout(ctx, first); err != nil {
		t.Fatal(err)
	}

	// A repeated conversion supersedes the earlier checkout hold instead
	// of being rejected by it, even with the whole stock already held.
	second := []*models.Reservation{
		reservation("c2", "p1", 1, alice, models.KindCheckout, time.Hour),
	}
	_, _, replaced, err := s.ConvertToCheckout(ctx, second)
	if err != nil {
		t.Fatalf("Expected repeated conversion to succeed, got: %v", err)
	}
	if len(replaced) != 1 || replaced[0] != "c1" {
		t.Errorf("Expected c1 reported as replaced, got %v", replaced)
	}

	old, _ := s.GetReservation(ctx, "c1")
	if old == nil || old.ReleasedAt == nil {
		t.Error("Expected first checkout hold released by the repeat")
	}
	if avail, _ := s.AvailableStock(ctx, "p1"); avail != 0 {
		t.Errorf("Expected a single active hold of 1, got %d available", avail)
	}
}

func TestMemStore_ConvertToCheckoutRollbackRestoresReplaced(t *testing.T) {
	s := NewMemStore()
	seedProduct(t, s, "p1", 5)
	seedProduct(t, s, "p2", 0)
	ctx := context.Background()
	alice := models.Holder{UserID: "alice"}

	if _, _, err := s.CreateReservation(ctx, reservation("prior", "p1", 2, alice, models.KindCheckout, time.Hour)); err != nil {
		t.Fatal(err)
	}

	batch := []*models.Reservation{
		reservation("c1", "p1", 2, alice, models.KindCheckout, time.Hour),
		reservation("c2", "p2", 1, alice, models.KindCheckout, time.Hour),
	}
	if _, _, _, err := s.ConvertToCheckout(ctx, batch); !errors.Is(err, ErrDBInsufficientStock) {
		t.Fatalf("Expected ErrDBInsufficientStock, got: %v", err)
	}

	// The failed conversion must not have consumed the prior hold its own
	// replace step released mid-transaction.
	prior, _ := s.GetReservation(ctx, "prior")
	if prior == nil || prior.ReleasedAt != nil {
		t.Error("Expected prior checkout hold restored after rollback")
	}
	if avail, _ := s.AvailableStock(ctx, "p1"); avail != 3 {
		t.Errorf("Expected prior hold still counting (3 available), got %d", avail)
	}
}

func TestMemStore_SweepOnlyTouchesExpired(t *testing.T) {
	s := NewMemStore()
	seedProduct(t, s, "p1", 5)
	ctx := context.Background()

	if _, _, err := s.CreateReservation(ctx, reservation("short", "p1", 1, models.Holder{UserID: "a"}, models.KindCart, time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.CreateReservation(ctx, reservation("long", "p1", 1, models.Holder{UserID: "b"}, models.KindCart, time.Hour)); err != nil {
		t.Fatal(err)
	}

	s.Now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	swept, err := s.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if swept != 1 {
		t.Errorf("Expected 1 swept, got %d", swept)
	}

	long, _ := s.GetReservation(ctx, "long")
	if long == nil || long.ReleasedAt != nil {
		t.Error("Expected unexpired reservation untouched by sweep")
	}
}

func TestMemStore_FinalizeDecrementsLedger(t *testing.T) {
	s := NewMemStore()
	seedProduct(t, s, "p1", 5)
	ctx := context.Background()

	if _, _, err := s.CreateReservation(ctx, reservation("r1", "p1", 2, models.Holder{UserID: "a"}, models.KindCheckout, time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.FinalizeReservation(ctx, "r1"); err != nil {
		t.Fatal(err)
	}

	product, err := s.GetProduct(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if product.TotalStock != 3 {
		t.Errorf("Expected total stock 3 after finalize, got %d", product.TotalStock)
	}
	if avail, _ := s.AvailableStock(ctx, "p1"); avail != 3 {
		t.Errorf("Expected 3 available after finalize, got %d", avail)
	}
}
