package inventory

import (
	"context"
	"time"

	"inventory_go/internal/domain"
	"inventory_go/internal/storage"
)

// Engine wires the ledger, reservation manager and alert emitter over one
// store. It holds no state of its own; any number of engines (processes)
// may share a store.
type Engine struct {
	Ledger       *Ledger
	Reservations *ReservationManager
	Alerts       *AlertEmitter

	store storage.Store
	opts  Options
}

// New builds an engine. Start from DefaultOptions when overriding fields.
func New(store storage.Store, opts Options) *Engine {
	opts = opts.withDefaults()
	alerts := NewAlertEmitter(store, opts)
	return &Engine{
		Ledger:       NewLedger(store, alerts, opts),
		Reservations: NewReservationManager(store, alerts, opts),
		Alerts:       alerts,
		store:        store,
		opts:         opts,
	}
}

// NewSweeper returns an expiry sweeper bound to this engine.
func (e *Engine) NewSweeper(interval time.Duration, batch int) *Sweeper {
	return NewSweeper(e.store, e.Reservations, interval, batch)
}

func (e *Engine) GetStock(ctx context.Context, productID string) (*domain.StockRecord, error) {
	return e.Ledger.GetStock(ctx, productID)
}

func (e *Engine) UpsertStock(ctx context.Context, productID, sellerID string, upd domain.StockUpdate) (*domain.StockRecord, error) {
	return e.Ledger.UpsertStock(ctx, productID, sellerID, upd)
}

func (e *Engine) GetAvailableQuantity(ctx context.Context, productID string) (int64, error) {
	return e.Ledger.GetAvailableQuantity(ctx, productID)
}

func (e *Engine) Reserve(ctx context.Context, productID string, quantity int64, cartID, userID string) (*domain.Reservation, error) {
	return e.Reservations.Reserve(ctx, productID, quantity, cartID, userID)
}

func (e *Engine) Release(ctx context.Context, reservationID string) error {
	return e.Reservations.Release(ctx, reservationID)
}

func (e *Engine) GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	return e.Reservations.GetReservation(ctx, reservationID)
}

func (e *Engine) ListAlerts(ctx context.Context, sellerID string) ([]*domain.LowStockAlert, error) {
	return e.Alerts.ListAlerts(ctx, sellerID)
}

// RecomputeAlerts re-derives alerts for the given products, e.g. after a
// snapshot restore. It stops at the first failure.
func (e *Engine) RecomputeAlerts(ctx context.Context, productIDs []string) error {
	for _, id := range productIDs {
		if err := e.Alerts.Recompute(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}
