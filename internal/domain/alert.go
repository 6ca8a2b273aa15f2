package domain

import "time"

// LowStockAlert is derived state: it exists iff available <= threshold.
type LowStockAlert struct {
	ProductID         string    `json:"productId"`
	SellerID          string    `json:"sellerId"`
	AvailableQuantity int64     `json:"availableQuantity"`
	Threshold         int64     `json:"threshold"`
	AlertedAt         time.Time `json:"alertedAt"`
}

// DeriveAlert computes the alert for a stock snapshot.
// It returns nil when the product is above its threshold.
func DeriveAlert(rec *StockRecord, now time.Time) *LowStockAlert {
	if rec == nil || !rec.IsLow() {
		return nil
	}
	return &LowStockAlert{
		ProductID:         rec.ProductID,
		SellerID:          rec.SellerID,
		AvailableQuantity: rec.Available(),
		Threshold:         rec.LowStockThreshold,
		AlertedAt:         now,
	}
}

// AlertChange is published whenever the stored alert state of a product
// moves. Alert is nil when the alert was cleared.
type AlertChange struct {
	ProductID string         `json:"productId"`
	SellerID  string         `json:"sellerId"`
	Alert     *LowStockAlert `json:"alert,omitempty"`
}

// Active reports whether the change raised (or refreshed) an alert.
func (c AlertChange) Active() bool {
	return c.Alert != nil
}
