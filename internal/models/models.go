package models

import "time"

// Kind distinguishes a loose cart hold from the stricter hold taken when a
// shopper proceeds to payment. TTLs differ per kind (see config).
type Kind string

const (
	KindCart     Kind = "cart"
	KindCheckout Kind = "checkout"
)

func (k Kind) Valid() bool {
	return k == KindCart || k == KindCheckout
}

// Holder identifies who a reservation belongs to: an authenticated user or
// an anonymous session. Exactly one of the two fields must be set.
type Holder struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (h Holder) Valid() bool {
	return (h.UserID == "") != (h.SessionID == "")
}

type Product struct {
	ID         string    `json:"id"`
	TotalStock int       `json:"total_stock"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Reservation struct {
	ID         string     `json:"id"`
	ProductID  string     `json:"product_id"`
	Quantity   int        `json:"quantity"`
	Holder     Holder     `json:"holder"`
	Kind       Kind       `json:"kind"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// ActiveAt reports whether the reservation counts toward reserved quantity
// at the given instant. Expiry is lazy: an expired-but-unswept row is
// already inactive, so both conditions are always checked together.
func (r *Reservation) ActiveAt(now time.Time) bool {
	return r.ReleasedAt == nil && r.ExpiresAt.After(now)
}

// Item is one line of a checkout conversion request.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
