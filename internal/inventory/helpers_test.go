package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"inventory_go/internal/domain"
	"inventory_go/internal/event"
	"inventory_go/internal/infra"
	"inventory_go/internal/storage"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock { return &testClock{t: epoch} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []event.StockEvent
}

func (a *recordingAuditor) Record(_ context.Context, ev event.StockEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *recordingAuditor) Types() []event.Type {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]event.Type, len(a.events))
	for i, ev := range a.events {
		out[i] = ev.Type
	}
	return out
}

func testOptions(clock *testClock) Options {
	opts := DefaultOptions()
	opts.Now = clock.Now
	var n atomic.Int64
	opts.NewID = func() string { return fmt.Sprintf("res-%d", n.Add(1)) }
	// Plenty of retries: contention tests must never see a transient
	// conflict.
	opts.MaxCASRetries = 10000
	opts.RetryBackoff = infra.Backoff{Base: 50 * time.Microsecond, Max: time.Millisecond}
	return opts
}

func int64p(v int64) *int64 { return &v }

// conflictStore loses every reservation race.
type conflictStore struct {
	*storage.MemoryStore
	attempts atomic.Int64
}

func (s *conflictStore) CommitReservation(context.Context, *domain.StockRecord, *domain.Reservation) error {
	s.attempts.Add(1)
	return storage.ErrVersionConflict
}

// brokenAlertStore cannot persist alert state.
type brokenAlertStore struct {
	*storage.MemoryStore
}

func (brokenAlertStore) ApplyAlert(context.Context, string, string, int64, *domain.LowStockAlert) (bool, error) {
	return false, errors.New("alert store down")
}

// flakyDueStore fails the first n DueReservations calls.
type flakyDueStore struct {
	*storage.MemoryStore
	failures atomic.Int64
}

func (s *flakyDueStore) DueReservations(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	if s.failures.Add(-1) >= 0 {
		return nil, errors.New("store unavailable")
	}
	return s.MemoryStore.DueReservations(ctx, now, limit)
}
