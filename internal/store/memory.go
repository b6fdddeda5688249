package store

import (
	"context"
	"sync"
	"time"

	"stock_reserve/internal/models"
)

// MemStore is an in-memory reservation store with the same atomic semantics
// as DBStore: every mutating call holds the store mutex for its whole
// check-then-act sequence, so concurrent creates against one product
// serialize exactly as they would through the product row lock. Used by the
// test suite and usable as an embedded single-process mode.
type MemStore struct {
	mu           sync.Mutex
	products     map[string]*models.Product
	reservations map[string]*models.Reservation

	// Now is the clock for the active-reservation predicate. Overridable
	// so expiry behavior can be tested without sleeping.
	Now func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		products:     make(map[string]*models.Product),
		reservations: make(map[string]*models.Reservation),
		Now:          time.Now,
	}
}

func (s *MemStore) activeAt(r *models.Reservation, now time.Time) bool {
	return r.ReleasedAt == nil && r.ExpiresAt.After(now)
}

func (s *MemStore) reservedLocked(productID string, now time.Time) int {
	total := 0
	for _, r := range s.reservations {
		if r.ProductID == productID && s.activeAt(r, now) {
			total += r.Quantity
		}
	}
	return total
}

func (s *MemStore) availableLocked(productID string, now time.Time) (int, error) {
	product, ok := s.products[productID]
	if !ok {
		return 0, ErrDBProductNotFound
	}
	available := product.TotalStock - s.reservedLocked(productID, now)
	if available < 0 {
		available = 0
	}
	return available, nil
}

func holderMatches(r *models.Reservation, holder models.Holder) bool {
	if holder.UserID != "" {
		return r.Holder.UserID == holder.UserID
	}
	return holder.SessionID != "" && r.Holder.SessionID == holder.SessionID
}

func (s *MemStore) UpsertProduct(ctx context.Context, productID string, totalStock int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	if product, ok := s.products[productID]; ok {
		product.TotalStock = totalStock
		product.UpdatedAt = now
		return nil
	}
	s.products[productID] = &models.Product{
		ID:         productID,
		TotalStock: totalStock,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

func (s *MemStore) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, ErrDBProductNotFound
	}
	copied := *product
	return &copied, nil
}

func (s *MemStore) AvailableStock(ctx context.Context, productID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availableLocked(productID, s.Now())
}

// releaseHolderProductLocked drops the holder's active hold on the product
// (replace semantics) and returns the released reservations so callers can
// report or restore them.
func (s *MemStore) releaseHolderProductLocked(productID string, holder models.Holder, now time.Time) []*models.Reservation {
	var replaced []*models.Reservation
	for _, r := range s.reservations {
		if r.ProductID == productID && s.activeAt(r, now) && holderMatches(r, holder) {
			released := now
			r.ReleasedAt = &released
			replaced = append(replaced, r)
		}
	}
	return replaced
}

func (s *MemStore) CreateReservation(ctx context.Context, res *models.Reservation) (int, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	if _, ok := s.products[res.ProductID]; !ok {
		return 0, nil, ErrDBProductNotFound
	}

	replaced := s.releaseHolderProductLocked(res.ProductID, res.Holder, now)

	available, err := s.availableLocked(res.ProductID, now)
	if err != nil {
		return 0, nil, err
	}
	if res.Quantity > available {
		// The failed attempt must leave the holder's previous hold intact.
		for _, r := range replaced {
			r.ReleasedAt = nil
		}
		return available, nil, ErrDBInsufficientStock
	}

	replacedIDs := make([]string, 0, len(replaced))
	for _, r := range replaced {
		replacedIDs = append(replacedIDs, r.ID)
	}

	copied := *res
	s.reservations[res.ID] = &copied
	return available, replacedIDs, nil
}

func (s *MemStore) ReleaseReservation(ctx context.Context, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok || r.ReleasedAt != nil {
		return nil
	}
	released := s.Now()
	r.ReleasedAt = &released
	return nil
}

func (s *MemStore) ReleaseAllForHolder(ctx context.Context, holder models.Holder, kind *models.Kind) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	var released []string
	for _, r := range s.reservations {
		if !s.activeAt(r, now) || !holderMatches(r, holder) {
			continue
		}
		if kind != nil && r.Kind != *kind {
			continue
		}
		ts := now
		r.ReleasedAt = &ts
		released = append(released, r.ID)
	}
	return released, nil
}

func (s *MemStore) ConvertToCheckout(ctx context.Context, reservations []*models.Reservation) (string, int, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	inserted := make([]string, 0, len(reservations))
	var replaced []*models.Reservation
	rollback := func() {
		for _, id := range inserted {
			delete(s.reservations, id)
		}
		for _, r := range replaced {
			r.ReleasedAt = nil
		}
	}

	for _, res := range reservations {
		if _, ok := s.products[res.ProductID]; !ok {
			rollback()
			return res.ProductID, 0, nil, ErrDBProductNotFound
		}

		// Same replace semantics as CreateReservation: the holder's
		// existing hold on this product is superseded, not added to.
		replaced = append(replaced, s.releaseHolderProductLocked(res.ProductID, res.Holder, now)...)

		available, err := s.availableLocked(res.ProductID, now)
		if err != nil {
			rollback()
			return res.ProductID, 0, nil, err
		}
		if res.Quantity > available {
			rollback()
			return res.ProductID, available, nil, ErrDBInsufficientStock
		}
		copied := *res
		s.reservations[res.ID] = &copied
		inserted = append(inserted, res.ID)
	}

	replacedIDs := make([]string, 0, len(replaced))
	for _, r := range replaced {
		replacedIDs = append(replacedIDs, r.ID)
	}
	return "", 0, replacedIDs, nil
}

func (s *MemStore) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	swept := 0
	for _, r := range s.reservations {
		if r.ReleasedAt == nil && !r.ExpiresAt.After(now) {
			ts := now
			r.ReleasedAt = &ts
			swept++
		}
	}
	return swept, nil
}

func (s *MemStore) GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return nil, nil
	}
	copied := *r
	if r.ReleasedAt != nil {
		ts := *r.ReleasedAt
		copied.ReleasedAt = &ts
	}
	return &copied, nil
}

func (s *MemStore) FinalizeReservation(ctx context.Context, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	r, ok := s.reservations[reservationID]
	if !ok {
		return ErrDBReservationNotFound
	}
	if !s.activeAt(r, now) {
		return ErrDBReservationNotActive
	}
	product, ok := s.products[r.ProductID]
	if !ok {
		return ErrDBProductNotFound
	}

	product.TotalStock -= r.Quantity
	product.UpdatedAt = now
	released := now
	r.ReleasedAt = &released
	return nil
}
