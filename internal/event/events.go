package event

import "time"

// Type defines the kind of stock mutation recorded in the audit log.
type Type uint16

const (
	EvStockUpserted Type = iota + 1
	EvStockReserved
	EvReservationReleased
	EvReservationExpired
)

func (t Type) String() string {
	switch t {
	case EvStockUpserted:
		return "STOCK_UPSERTED"
	case EvStockReserved:
		return "STOCK_RESERVED"
	case EvReservationReleased:
		return "RESERVATION_RELEASED"
	case EvReservationExpired:
		return "RESERVATION_EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// StockEvent is one audit entry. Seq is assigned by the log on append.
type StockEvent struct {
	Seq           uint64 `json:"seq"`
	Type          Type   `json:"type"`
	TsUnixM       int64  `json:"ts"` // Unix micros
	ProductID     string `json:"product_id"`
	SellerID      string `json:"seller_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	Delta         int64  `json:"delta"`
	Quantity      int64  `json:"quantity"`
	Reserved      int64  `json:"reserved"`
	Version       int64  `json:"version"`
}

// New stamps an event with the mutation time.
func New(t Type, productID string, at time.Time) StockEvent {
	return StockEvent{Type: t, ProductID: productID, TsUnixM: at.UnixMicro()}
}
