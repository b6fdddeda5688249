package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"stock_reserve/internal/config"
	"stock_reserve/internal/models"
	"stock_reserve/internal/store"

	"github.com/google/uuid"
)

var (
	ErrInvalidQuantity      = errors.New("quantity must be a positive integer")
	ErrInvalidHolder        = errors.New("exactly one of user_id or session_id must be set")
	ErrInvalidKind          = errors.New("reservation kind must be cart or checkout")
	ErrInvalidStock         = errors.New("total stock must be non-negative")
	ErrInvalidProductID     = errors.New("product id must not be empty")
	ErrEmptyItems           = errors.New("checkout requires at least one item")
	ErrDuplicateItem        = errors.New("checkout items must name each product at most once")
	ErrProductNotFound      = errors.New("product not found")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrReservationNotActive = errors.New("reservation is no longer active")
)

// InsufficientStockError is the business outcome of a reservation attempt
// that does not fit the product's remaining availability. It is a value,
// not a fault: callers render it as a normal "only N left" state.
type InsufficientStockError struct {
	ProductID string
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: %d available", e.ProductID, e.Available)
}

// ReservationStore is the persistence contract the manager orchestrates.
// Every mutating operation is atomic inside the implementation; the manager
// never performs a bare read-then-write against stock.
type ReservationStore interface {
	UpsertProduct(ctx context.Context, productID string, totalStock int) error
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	AvailableStock(ctx context.Context, productID string) (int, error)
	CreateReservation(ctx context.Context, res *models.Reservation) (int, []string, error)
	ReleaseReservation(ctx context.Context, reservationID string) error
	ReleaseAllForHolder(ctx context.Context, holder models.Holder, kind *models.Kind) ([]string, error)
	ConvertToCheckout(ctx context.Context, reservations []*models.Reservation) (string, int, []string, error)
	SweepExpired(ctx context.Context) (int, error)
	GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error)
	FinalizeReservation(ctx context.Context, reservationID string) error
}

// ReservationCache is a best-effort read cache; failures are logged and
// never surfaced to callers.
type ReservationCache interface {
	StoreReservation(ctx context.Context, res *models.Reservation, ttl time.Duration) error
	GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error)
	DeleteReservation(ctx context.Context, reservationID string) error
}

type ReservationService struct {
	store  ReservationStore
	cache  ReservationCache
	config *config.Config
	logger *log.Logger
}

func NewReservationService(logger *log.Logger, st ReservationStore, cache ReservationCache, cfg *config.Config) *ReservationService {
	return &ReservationService{
		store:  st,
		cache:  cache,
		config: cfg,
		logger: logger,
	}
}

func (s *ReservationService) ttlFor(kind models.Kind) time.Duration {
	if kind == models.KindCheckout {
		return s.config.CheckoutTTL
	}
	return s.config.CartTTL
}

func (s *ReservationService) newReservation(productID string, quantity int, holder models.Holder, kind models.Kind) *models.Reservation {
	now := time.Now()
	return &models.Reservation{
		ID:        uuid.NewString(),
		ProductID: productID,
		Quantity:  quantity,
		Holder:    holder,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttlFor(kind)),
	}
}

// CreateReservation places a time-boxed hold on quantity units of the
// product for the holder. If the holder already has an active reservation
// for the product it is replaced, not added to. Returns
// *InsufficientStockError when the quantity does not fit what is left.
func (s *ReservationService) CreateReservation(ctx context.Context, productID string, quantity int, holder models.Holder, kind models.Kind) (*models.Reservation, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if !holder.Valid() {
		return nil, ErrInvalidHolder
	}
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}

	res := s.newReservation(productID, quantity, holder, kind)
	available, replaced, err := s.store.CreateReservation(ctx, res)
	if err != nil {
		if errors.Is(err, store.ErrDBProductNotFound) {
			return nil, ErrProductNotFound
		}
		if errors.Is(err, store.ErrDBInsufficientStock) {
			return nil, &InsufficientStockError{ProductID: productID, Available: available}
		}
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}

	for _, id := range replaced {
		s.dropCached(ctx, id)
	}
	s.cacheReservation(ctx, res)
	return res, nil
}

// ReleaseReservation drops the hold. Idempotent: releasing an unknown,
// already-released, or expired reservation succeeds silently.
func (s *ReservationService) ReleaseReservation(ctx context.Context, reservationID string) error {
	if err := s.store.ReleaseReservation(ctx, reservationID); err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	s.dropCached(ctx, reservationID)
	return nil
}

// ReleaseAllForHolder releases every active reservation for the holder,
// optionally narrowed to one kind. Used on logout, cart-clear, and
// checkout abandonment. Returns the number of reservations released.
func (s *ReservationService) ReleaseAllForHolder(ctx context.Context, holder models.Holder, kind *models.Kind) (int, error) {
	if !holder.Valid() {
		return 0, ErrInvalidHolder
	}
	if kind != nil && !kind.Valid() {
		return 0, ErrInvalidKind
	}

	ids, err := s.store.ReleaseAllForHolder(ctx, holder, kind)
	if err != nil {
		return 0, fmt.Errorf("failed to release holder reservations: %w", err)
	}
	for _, id := range ids {
		s.dropCached(ctx, id)
	}
	return len(ids), nil
}

// ConvertToCheckout supersedes the holder's cart with checkout holds for
// the given items, all-or-nothing. Each item carries the same replace
// semantics as CreateReservation, so retrying a conversion supersedes the
// holder's earlier checkout holds rather than stacking on them. The cart
// release in step one is committed regardless of the outcome: on failure
// the holder ends with no reservations at all and must retry from the cart
// state. Partial checkout holds are never left behind.
func (s *ReservationService) ConvertToCheckout(ctx context.Context, items []models.Item, holder models.Holder) ([]*models.Reservation, error) {
	if !holder.Valid() {
		return nil, ErrInvalidHolder
	}
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if seen[item.ProductID] {
			return nil, ErrDuplicateItem
		}
		seen[item.ProductID] = true
	}

	cart := models.KindCart
	if _, err := s.ReleaseAllForHolder(ctx, holder, &cart); err != nil {
		return nil, err
	}

	reservations := make([]*models.Reservation, 0, len(items))
	for _, item := range items {
		reservations = append(reservations, s.newReservation(item.ProductID, item.Quantity, holder, models.KindCheckout))
	}

	failedID, available, replaced, err := s.store.ConvertToCheckout(ctx, reservations)
	if err != nil {
		if errors.Is(err, store.ErrDBProductNotFound) {
			return nil, fmt.Errorf("product %s: %w", failedID, ErrProductNotFound)
		}
		if errors.Is(err, store.ErrDBInsufficientStock) {
			return nil, &InsufficientStockError{ProductID: failedID, Available: available}
		}
		return nil, fmt.Errorf("failed to convert to checkout: %w", err)
	}

	for _, id := range replaced {
		s.dropCached(ctx, id)
	}
	for _, res := range reservations {
		s.cacheReservation(ctx, res)
	}
	return reservations, nil
}

// AvailableStock reports total stock minus active holds, floored at zero.
// For display only: reservation writes recompute this under the product
// lock rather than trusting a prior read.
func (s *ReservationService) AvailableStock(ctx context.Context, productID string) (int, error) {
	available, err := s.store.AvailableStock(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrDBProductNotFound) {
			return 0, ErrProductNotFound
		}
		return 0, fmt.Errorf("failed to compute available stock: %w", err)
	}
	return available, nil
}

func (s *ReservationService) GetReservation(ctx context.Context, reservationID string) (*models.Reservation, error) {
	if s.cache != nil {
		res, err := s.cache.GetReservation(ctx, reservationID)
		if err != nil {
			s.logger.Printf("Warning: cache lookup failed for reservation %s: %v. Falling back to store.", reservationID, err)
		}
		if res != nil {
			return res, nil
		}
	}

	res, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if res == nil {
		return nil, ErrReservationNotFound
	}
	return res, nil
}

// FinalizeReservation is the Order/Payment handoff: on payment success the
// checkout hold is consumed in place, decrementing the product's total
// stock by the reserved quantity and releasing the hold atomically.
func (s *ReservationService) FinalizeReservation(ctx context.Context, reservationID string) error {
	err := s.store.FinalizeReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, store.ErrDBReservationNotFound) {
			return ErrReservationNotFound
		}
		if errors.Is(err, store.ErrDBReservationNotActive) {
			return ErrReservationNotActive
		}
		return fmt.Errorf("failed to finalize reservation: %w", err)
	}
	s.dropCached(ctx, reservationID)
	return nil
}

// SetProductStock is the Catalog boundary: it records the physical stock
// count for a product. The engine itself only ever reads this value,
// except for the finalize handoff above.
func (s *ReservationService) SetProductStock(ctx context.Context, productID string, totalStock int) error {
	if productID == "" {
		return ErrInvalidProductID
	}
	if totalStock < 0 {
		return ErrInvalidStock
	}
	if err := s.store.UpsertProduct(ctx, productID, totalStock); err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

// Sweep reclaims expired-but-unreleased reservations. Housekeeping only:
// the active predicate already ignores expired rows, so a failed or late
// sweep never affects correctness. Errors are reported to the scheduler,
// which logs and retries on the next tick.
func (s *ReservationService) Sweep(ctx context.Context) (int, error) {
	swept, err := s.store.SweepExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired reservations: %w", err)
	}
	if swept > 0 {
		s.logger.Printf("Sweep reclaimed %d expired reservations.", swept)
	}
	return swept, nil
}

func (s *ReservationService) cacheReservation(ctx context.Context, res *models.Reservation) {
	if s.cache == nil {
		return
	}
	ttl := time.Until(res.ExpiresAt)
	if err := s.cache.StoreReservation(ctx, res, ttl); err != nil {
		s.logger.Printf("Warning: failed to cache reservation %s: %v", res.ID, err)
	}
}

func (s *ReservationService) dropCached(ctx context.Context, reservationID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteReservation(ctx, reservationID); err != nil {
		s.logger.Printf("Warning: failed to drop cached reservation %s: %v", reservationID, err)
	}
}
