package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"inventory_go/internal/domain"
	"inventory_go/internal/event"
	"inventory_go/internal/storage"
	"inventory_go/pkg/safe"
)

// ReservationManager is the only writer of ReservedQuantity. Every admit
// and every settle is one compare-and-swap commit in the store, so two
// buyers can never both take the last unit and a hold is never returned
// twice.
type ReservationManager struct {
	store  storage.Store
	alerts *AlertEmitter
	opts   Options
}

func NewReservationManager(store storage.Store, alerts *AlertEmitter, opts Options) *ReservationManager {
	return &ReservationManager{store: store, alerts: alerts, opts: opts.withDefaults()}
}

// Reserve holds quantity units of productID for a cart until the TTL
// elapses.
func (m *ReservationManager) Reserve(ctx context.Context, productID string, quantity int64, cartID, userID string) (*domain.Reservation, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, &domain.ValidationError{Field: "productId", Reason: "required"}
	}
	if quantity <= 0 {
		return nil, &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if strings.TrimSpace(cartID) == "" {
		return nil, &domain.ValidationError{Field: "cartId", Reason: "required"}
	}

	id := m.opts.NewID()
	var rec *domain.StockRecord
	var res *domain.Reservation
	err := casLoop(ctx, m.opts, productID, func() error {
		var err error
		rec, err = m.store.GetStock(ctx, productID)
		if errors.Is(err, storage.ErrNotFound) {
			return &domain.NotFoundError{Resource: "stock", ID: productID}
		}
		if err != nil {
			return fmt.Errorf("get stock %s: %w", productID, err)
		}

		available := rec.Available()
		if available < quantity {
			return &domain.InsufficientStockError{ProductID: productID, Available: available, Requested: quantity}
		}
		reserved, err := safe.AddQty(rec.ReservedQuantity, quantity)
		if err != nil {
			return &domain.ValidationError{Field: "quantity", Reason: "out of range"}
		}

		now := m.opts.Now()
		rec.ReservedQuantity = reserved
		rec.UpdatedAt = now
		res = domain.NewReservation(id, productID, quantity, cartID, userID, now, m.opts.TTL)
		return m.store.CommitReservation(ctx, rec, res)
	})
	if err != nil {
		return nil, err
	}

	ev := event.New(event.EvStockReserved, productID, res.CreatedAt)
	ev.ReservationID = res.ID
	ev.Delta = quantity
	fillSnapshot(&ev, rec)
	record(ctx, m.opts.Auditor, ev)

	m.alerts.applyAfterMutation(ctx, rec)
	return res, nil
}

// Release returns a hold's units to the available pool. An unknown,
// already released or already expired id is a successful no-op.
func (m *ReservationManager) Release(ctx context.Context, reservationID string) error {
	res, err := m.store.GetReservation(ctx, reservationID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get reservation %s: %w", reservationID, err)
	}
	_, err = m.settle(ctx, res, domain.SettleReleased)
	return err
}

// Expire settles a hold whose TTL has elapsed. It reports whether this
// call was the one that returned the units.
func (m *ReservationManager) Expire(ctx context.Context, reservationID string) (bool, error) {
	res, err := m.store.GetReservation(ctx, reservationID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get reservation %s: %w", reservationID, err)
	}
	return m.settleExpired(ctx, res, m.opts.Now())
}

// settleExpired settles a hold the sweeper found due at now.
func (m *ReservationManager) settleExpired(ctx context.Context, res *domain.Reservation, now time.Time) (bool, error) {
	if !res.Expired(now) {
		return false, nil
	}
	return m.settle(ctx, res, domain.SettleExpired)
}

// GetReservation returns an unsettled hold (it may be past its expiry
// and awaiting the sweeper).
func (m *ReservationManager) GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	res, err := m.store.GetReservation(ctx, reservationID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &domain.NotFoundError{Resource: "reservation", ID: reservationID}
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", reservationID, err)
	}
	return res, nil
}

// settle is the single terminal transition shared by release and expiry.
// Deleting the reservation and decrementing the counter commit together,
// and the commit fails with ErrNotFound if another path got there first,
// so the decrement happens at most once.
func (m *ReservationManager) settle(ctx context.Context, res *domain.Reservation, reason domain.SettleReason) (bool, error) {
	var rec *domain.StockRecord
	settled := true
	err := casLoop(ctx, m.opts, res.ProductID, func() error {
		var err error
		rec, err = m.store.GetStock(ctx, res.ProductID)
		if errors.Is(err, storage.ErrNotFound) {
			// Stock record vanished; drop the orphaned hold.
			rec = nil
		} else if err != nil {
			return fmt.Errorf("get stock %s: %w", res.ProductID, err)
		}

		if rec != nil {
			rec.ReservedQuantity = safe.ClampSub(rec.ReservedQuantity, res.Quantity)
			rec.UpdatedAt = m.opts.Now()
		}
		err = m.store.CommitRelease(ctx, rec, res.ID)
		if errors.Is(err, storage.ErrNotFound) {
			settled = false
			return nil
		}
		return err
	})
	if err != nil {
		return false, err
	}
	if !settled {
		slog.Debug("Reservation already settled",
			slog.String("reservation_id", res.ID),
			slog.String("reason", string(reason)))
		return false, nil
	}

	evType := event.EvReservationReleased
	if reason == domain.SettleExpired {
		evType = event.EvReservationExpired
	}
	ev := event.New(evType, res.ProductID, m.opts.Now())
	ev.ReservationID = res.ID
	ev.Delta = -res.Quantity
	if rec != nil {
		fillSnapshot(&ev, rec)
		m.alerts.applyAfterMutation(ctx, rec)
	}
	record(ctx, m.opts.Auditor, ev)
	return true, nil
}
