package storage

import (
	"context"
	"path/filepath"
	"testing"

	"inventory_go/internal/event"
)

func TestAuditLog_SaveAndLoad(t *testing.T) {
	log, err := NewAuditLog(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Failed to create audit log: %v", err)
	}
	defer log.Close()

	ctx := context.Background()

	seq, err := log.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("GetLastSeq failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("Expected empty log, got seq %d", seq)
	}

	ev1 := event.New(event.EvStockUpserted, "P1", t0)
	ev1.SellerID = "S1"
	ev1.Quantity = 10
	ev1.Version = 1

	ev2 := event.New(event.EvStockReserved, "P1", t0)
	ev2.ReservationID = "r1"
	ev2.Delta = 3
	ev2.Reserved = 3

	ev3 := event.New(event.EvStockUpserted, "P2", t0)

	for _, ev := range []event.StockEvent{ev1, ev2, ev3} {
		if _, err := log.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("SaveEvent failed: %v", err)
		}
	}

	last, err := log.GetLastSeq(ctx)
	if err != nil {
		t.Fatalf("GetLastSeq failed: %v", err)
	}
	if last != 3 {
		t.Errorf("Expected last seq 3, got %d", last)
	}

	all, err := log.LoadEvents(ctx, "", 1)
	if err != nil {
		t.Fatalf("LoadEvents failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(all))
	}
	for i, ev := range all {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d: expected seq %d, got %d", i, i+1, ev.Seq)
		}
	}

	p1, err := log.LoadEvents(ctx, "P1", 2)
	if err != nil {
		t.Fatalf("LoadEvents failed: %v", err)
	}
	if len(p1) != 1 {
		t.Fatalf("Expected 1 event for P1 from seq 2, got %d", len(p1))
	}
	if p1[0].Type != event.EvStockReserved || p1[0].ReservationID != "r1" || p1[0].Delta != 3 {
		t.Errorf("Event mismatch: %+v", p1[0])
	}
}

func TestAuditLog_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	log, err := NewAuditLog(path)
	if err != nil {
		t.Fatalf("Failed to create audit log: %v", err)
	}
	if err := log.Record(ctx, event.New(event.EvReservationExpired, "P1", t0)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	log.Close()

	log, err = NewAuditLog(path)
	if err != nil {
		t.Fatalf("Failed to reopen audit log: %v", err)
	}
	defer log.Close()

	seq, err := log.SaveEvent(ctx, event.New(event.EvReservationReleased, "P1", t0))
	if err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	if seq != 2 {
		t.Errorf("Expected seq 2 after reopen, got %d", seq)
	}
}
