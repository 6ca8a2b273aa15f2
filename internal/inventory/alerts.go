package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"inventory_go/internal/domain"
	"inventory_go/internal/storage"
)

// AlertEmitter keeps the stored low-stock alert of each product in line
// with its available quantity, and fans changes out to in-process
// subscribers. Delivery beyond the process is someone else's job.
type AlertEmitter struct {
	store storage.Store
	opts  Options

	mu     sync.RWMutex
	subs   map[uint64]chan domain.AlertChange
	nextID uint64
}

func NewAlertEmitter(store storage.Store, opts Options) *AlertEmitter {
	return &AlertEmitter{
		store: store,
		opts:  opts.withDefaults(),
		subs:  make(map[uint64]chan domain.AlertChange),
	}
}

// Recompute re-derives the alert of productID from its current record.
// A product without a record has no alert.
func (a *AlertEmitter) Recompute(ctx context.Context, productID string) error {
	rec, err := a.store.GetStock(ctx, productID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("recompute alert %s: %w", productID, err)
	}
	_, err = a.apply(ctx, rec)
	return err
}

// apply writes the alert derived from rec, guarded by rec.Version so a
// slower writer holding an older snapshot can never overwrite a newer
// one.
func (a *AlertEmitter) apply(ctx context.Context, rec *domain.StockRecord) (bool, error) {
	alert := domain.DeriveAlert(rec, a.opts.Now())

	watching := a.hasSubscribers()
	var hadAlert bool
	if watching {
		_, err := a.store.GetAlert(ctx, rec.ProductID)
		hadAlert = err == nil
	}

	applied, err := a.store.ApplyAlert(ctx, rec.ProductID, rec.SellerID, rec.Version, alert)
	if err != nil {
		return false, fmt.Errorf("apply alert %s: %w", rec.ProductID, err)
	}
	if applied && watching && (alert != nil || hadAlert) {
		a.publish(domain.AlertChange{ProductID: rec.ProductID, SellerID: rec.SellerID, Alert: alert})
	}
	return applied, nil
}

// applyAfterMutation runs apply for a record that was just committed. The
// mutation stands even if this fails.
func (a *AlertEmitter) applyAfterMutation(ctx context.Context, rec *domain.StockRecord) {
	if _, err := a.apply(ctx, rec); err != nil {
		slog.Error("Low-stock alert recompute failed",
			slog.String("product_id", rec.ProductID),
			slog.Int64("version", rec.Version),
			slog.Any("error", err))
	}
}

// ListAlerts returns the active alerts of a seller, ordered by product.
func (a *AlertEmitter) ListAlerts(ctx context.Context, sellerID string) ([]*domain.LowStockAlert, error) {
	if sellerID == "" {
		return nil, &domain.ValidationError{Field: "sellerId", Reason: "required"}
	}
	alerts, err := a.store.ListAlerts(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list alerts %s: %w", sellerID, err)
	}
	return alerts, nil
}

// Subscribe registers a listener. Changes are dropped for a subscriber
// whose buffer is full. The returned func unsubscribes and closes the
// channel.
func (a *AlertEmitter) Subscribe(buffer int) (<-chan domain.AlertChange, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan domain.AlertChange, buffer)

	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = ch
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
			close(ch)
		})
	}
}

func (a *AlertEmitter) hasSubscribers() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.subs) > 0
}

func (a *AlertEmitter) publish(change domain.AlertChange) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for id, ch := range a.subs {
		select {
		case ch <- change:
		default:
			slog.Debug("Alert subscriber lagging, change dropped",
				slog.Uint64("subscriber", id),
				slog.String("product_id", change.ProductID))
		}
	}
}
