package domain

import (
	"sort"
	"strings"
	"time"
)

// PoolType classifies how a product's stock is sourced.
type PoolType string

const (
	PoolPhysical    PoolType = "physical"
	PoolVirtual     PoolType = "virtual"
	PoolMadeToOrder PoolType = "made_to_order"
)

// DefaultLowStockThreshold applies when a seller never sets one.
const DefaultLowStockThreshold int64 = 5

// ParsePoolType validates a pool type string. Empty means physical.
func ParsePoolType(s string) (PoolType, error) {
	switch PoolType(strings.ToLower(strings.TrimSpace(s))) {
	case "", PoolPhysical:
		return PoolPhysical, nil
	case PoolVirtual:
		return PoolVirtual, nil
	case PoolMadeToOrder:
		return PoolMadeToOrder, nil
	default:
		return "", &ValidationError{Field: "poolType", Reason: "must be one of physical, virtual, made_to_order"}
	}
}

// StockRecord is the authoritative stock counter of one product.
// Version is the compare-and-swap token; 0 means "not stored yet".
type StockRecord struct {
	ProductID         string    `json:"productId"`
	SellerID          string    `json:"sellerId"`
	Quantity          int64     `json:"quantity"`
	ReservedQuantity  int64     `json:"reservedQuantity"`
	LowStockThreshold int64     `json:"lowStockThreshold"`
	PoolType          PoolType  `json:"poolType"`
	Countries         []string  `json:"countries"`
	UpdatedAt         time.Time `json:"updatedAt"`
	Version           int64     `json:"version"`
}

// Available returns max(0, quantity - reserved).
func (r *StockRecord) Available() int64 {
	if r == nil || r.ReservedQuantity >= r.Quantity {
		return 0
	}
	return r.Quantity - r.ReservedQuantity
}

// IsLow reports whether available quantity is at or below the threshold.
func (r *StockRecord) IsLow() bool {
	return r.Available() <= r.LowStockThreshold
}

// CheckInvariant verifies 0 <= reserved <= quantity.
func (r *StockRecord) CheckInvariant() error {
	if r.Quantity < 0 {
		return &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	if r.ReservedQuantity < 0 || r.ReservedQuantity > r.Quantity {
		return &ValidationError{Field: "reservedQuantity", Reason: "must be between 0 and quantity"}
	}
	return nil
}

// Clone returns a deep copy.
func (r *StockRecord) Clone() *StockRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.Countries != nil {
		c.Countries = append([]string(nil), r.Countries...)
	}
	return &c
}

// StockUpdate is a seller's absolute stock edit. Nil policy fields keep the
// stored value (or the default for a new product).
type StockUpdate struct {
	Quantity          int64
	LowStockThreshold *int64
	PoolType          *PoolType
	Countries         []string
}

// Validate rejects negative quantities and thresholds.
func (u StockUpdate) Validate() error {
	if u.Quantity < 0 {
		return &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	if u.LowStockThreshold != nil && *u.LowStockThreshold < 0 {
		return &ValidationError{Field: "lowStockThreshold", Reason: "must not be negative"}
	}
	if u.PoolType != nil {
		if _, err := ParsePoolType(string(*u.PoolType)); err != nil {
			return err
		}
	}
	return nil
}

// Apply produces the next record from prev (nil for a new product).
// ReservedQuantity is carried over untouched.
func (u StockUpdate) Apply(prev *StockRecord, productID, sellerID string, now time.Time) *StockRecord {
	next := &StockRecord{
		ProductID:         productID,
		LowStockThreshold: DefaultLowStockThreshold,
		PoolType:          PoolPhysical,
		Countries:         []string{},
	}
	if prev != nil {
		next = prev.Clone()
	}
	next.SellerID = sellerID
	next.Quantity = u.Quantity
	if u.LowStockThreshold != nil {
		next.LowStockThreshold = *u.LowStockThreshold
	}
	if u.PoolType != nil {
		next.PoolType = *u.PoolType
	}
	if u.Countries != nil {
		next.Countries = NormalizeCountries(u.Countries)
	}
	next.UpdatedAt = now
	return next
}

// NormalizeCountries upper-cases, trims and de-duplicates market codes.
func NormalizeCountries(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
