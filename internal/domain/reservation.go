package domain

import "time"

// DefaultReservationTTL is how long a checkout hold lives unreleased.
const DefaultReservationTTL = 15 * time.Minute

// Reservation is a time-boxed hold on stock placed during checkout.
type Reservation struct {
	ID        string    `json:"id"`
	ProductID string    `json:"productId"`
	Quantity  int64     `json:"quantity"`
	CartID    string    `json:"cartId"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewReservation builds an active hold expiring ttl after now.
func NewReservation(id, productID string, quantity int64, cartID, userID string, now time.Time, ttl time.Duration) *Reservation {
	return &Reservation{
		ID:        id,
		ProductID: productID,
		Quantity:  quantity,
		CartID:    cartID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the hold's TTL has elapsed at now.
func (r *Reservation) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// SettleReason records which terminal transition ended a hold.
type SettleReason string

const (
	SettleReleased SettleReason = "released"
	SettleExpired  SettleReason = "expired"
)
