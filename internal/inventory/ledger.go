package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"inventory_go/internal/domain"
	"inventory_go/internal/event"
	"inventory_go/internal/storage"
)

// Ledger owns the quantity and policy fields of every StockRecord.
type Ledger struct {
	store  storage.Store
	alerts *AlertEmitter
	opts   Options
}

func NewLedger(store storage.Store, alerts *AlertEmitter, opts Options) *Ledger {
	return &Ledger{store: store, alerts: alerts, opts: opts.withDefaults()}
}

// GetStock returns the stored record or a NotFoundError.
func (l *Ledger) GetStock(ctx context.Context, productID string) (*domain.StockRecord, error) {
	rec, err := l.store.GetStock(ctx, productID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &domain.NotFoundError{Resource: "stock", ID: productID}
	}
	if err != nil {
		return nil, fmt.Errorf("get stock %s: %w", productID, err)
	}
	return rec, nil
}

// GetAvailableQuantity returns max(0, quantity-reserved), or 0 when the
// product has no record.
func (l *Ledger) GetAvailableQuantity(ctx context.Context, productID string) (int64, error) {
	rec, err := l.store.GetStock(ctx, productID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get stock %s: %w", productID, err)
	}
	return rec.Available(), nil
}

// UpsertStock sets the absolute quantity and policy fields of a product.
// ReservedQuantity is carried over; a quantity below it is rejected.
func (l *Ledger) UpsertStock(ctx context.Context, productID, sellerID string, upd domain.StockUpdate) (*domain.StockRecord, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, &domain.ValidationError{Field: "productId", Reason: "required"}
	}
	if strings.TrimSpace(sellerID) == "" {
		return nil, &domain.ValidationError{Field: "sellerId", Reason: "required"}
	}
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	var next *domain.StockRecord
	var prevQty int64
	err := casLoop(ctx, l.opts, productID, func() error {
		prev, err := l.store.GetStock(ctx, productID)
		if errors.Is(err, storage.ErrNotFound) {
			prev = nil
		} else if err != nil {
			return fmt.Errorf("get stock %s: %w", productID, err)
		}

		u := upd
		if prev == nil && u.LowStockThreshold == nil {
			t := l.opts.DefaultThreshold
			u.LowStockThreshold = &t
		}
		next = u.Apply(prev, productID, sellerID, l.opts.Now())
		if next.Quantity < next.ReservedQuantity {
			return &domain.ValidationError{
				Field:  "quantity",
				Reason: fmt.Sprintf("must be at least the reserved quantity %d", next.ReservedQuantity),
			}
		}
		if prev != nil {
			prevQty = prev.Quantity
		}
		return l.store.SaveStock(ctx, next)
	})
	if err != nil {
		return nil, err
	}

	ev := event.New(event.EvStockUpserted, productID, next.UpdatedAt)
	ev.SellerID = sellerID
	ev.Delta = next.Quantity - prevQty
	fillSnapshot(&ev, next)
	record(ctx, l.opts.Auditor, ev)

	l.alerts.applyAfterMutation(ctx, next)
	return next, nil
}

func fillSnapshot(ev *event.StockEvent, rec *domain.StockRecord) {
	ev.Quantity = rec.Quantity
	ev.Reserved = rec.ReservedQuantity
	ev.Version = rec.Version
	if ev.SellerID == "" {
		ev.SellerID = rec.SellerID
	}
}

// record appends to the audit trail. The mutation is already committed;
// a failed append is logged, not returned.
func record(ctx context.Context, a Auditor, ev event.StockEvent) {
	if err := a.Record(ctx, ev); err != nil {
		slog.Error("Audit append failed",
			slog.String("type", ev.Type.String()),
			slog.String("product_id", ev.ProductID),
			slog.Any("error", err))
	}
}
