// Package replay folds the audit trail back into stock counters so it can
// be checked against the live store.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"inventory_go/internal/event"
	"inventory_go/internal/storage"
)

// EventSource is satisfied by storage.AuditLog.
type EventSource interface {
	LoadEvents(ctx context.Context, productID string, fromSeq uint64) ([]event.StockEvent, error)
}

// ProductState is what the audit trail says about one product.
type ProductState struct {
	ProductID string
	Quantity  int64 // from the highest-version snapshot seen
	Reserved  int64 // sum of reservation deltas
	Version   int64
	OpenHolds int
}

// Result of a replay. Violations are holds settled more than once or
// settled without ever being granted.
type Result struct {
	Events     int
	Products   map[string]*ProductState
	Violations []string
}

// Replayer reads audit events and folds them per product.
type Replayer struct {
	source EventSource
}

func NewReplayer(source EventSource) *Replayer {
	return &Replayer{source: source}
}

// Run replays every event for productID (all products when empty).
func (r *Replayer) Run(ctx context.Context, productID string) (*Result, error) {
	events, err := r.source.LoadEvents(ctx, productID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	res := &Result{Products: make(map[string]*ProductState)}
	granted := make(map[string]bool)
	settled := make(map[string]bool)

	for _, ev := range events {
		res.Events++
		st := res.Products[ev.ProductID]
		if st == nil {
			st = &ProductState{ProductID: ev.ProductID}
			res.Products[ev.ProductID] = st
		}
		if ev.Version > st.Version {
			st.Version = ev.Version
			st.Quantity = ev.Quantity
		}

		switch ev.Type {
		case event.EvStockUpserted:
		case event.EvStockReserved:
			st.Reserved += ev.Delta
			st.OpenHolds++
			granted[ev.ReservationID] = true
		case event.EvReservationReleased, event.EvReservationExpired:
			st.Reserved += ev.Delta
			st.OpenHolds--
			if settled[ev.ReservationID] {
				res.Violations = append(res.Violations, fmt.Sprintf("reservation %s settled twice (seq %d)", ev.ReservationID, ev.Seq))
			}
			settled[ev.ReservationID] = true
		default:
			slog.Warn("Unknown event type in audit log", slog.Any("type", ev.Type), slog.Uint64("seq", ev.Seq))
		}
	}

	// Settle events can be appended before their reserve event, so this
	// check runs after the fold.
	ids := make([]string, 0, len(settled))
	for id := range settled {
		if !granted[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		res.Violations = append(res.Violations, fmt.Sprintf("reservation %s settled but never granted", id))
	}
	return res, nil
}

// Verify compares the replayed counters with the store. It returns one
// line per mismatch.
func (res *Result) Verify(ctx context.Context, store storage.Store) ([]string, error) {
	ids := make([]string, 0, len(res.Products))
	for id := range res.Products {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var mismatches []string
	for _, id := range ids {
		st := res.Products[id]
		rec, err := store.GetStock(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			mismatches = append(mismatches, fmt.Sprintf("%s: in audit log but not in store", id))
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.ReservedQuantity != st.Reserved {
			mismatches = append(mismatches, fmt.Sprintf("%s: reserved store=%d audit=%d", id, rec.ReservedQuantity, st.Reserved))
		}
		if rec.Version == st.Version && rec.Quantity != st.Quantity {
			mismatches = append(mismatches, fmt.Sprintf("%s: quantity store=%d audit=%d", id, rec.Quantity, st.Quantity))
		}
	}
	return mismatches, nil
}
