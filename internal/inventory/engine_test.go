package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"inventory_go/internal/domain"
	"inventory_go/internal/event"
	"inventory_go/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryEngine(t *testing.T) (*Engine, *testClock, *recordingAuditor) {
	t.Helper()
	clock := newTestClock()
	auditor := &recordingAuditor{}
	opts := testOptions(clock)
	opts.Auditor = auditor
	return New(storage.NewMemoryStore(), opts), clock, auditor
}

func TestReserveReleaseAlertScenario(t *testing.T) {
	eng, _, _ := newMemoryEngine(t)
	ctx := context.Background()

	_, err := eng.UpsertStock(ctx, "P1", "S1", domain.StockUpdate{Quantity: 10, LowStockThreshold: int64p(3)})
	require.NoError(t, err)

	avail, err := eng.GetAvailableQuantity(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), avail)
	alerts, err := eng.ListAlerts(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, alerts)

	res, err := eng.Reserve(ctx, "P1", 8, "cart1", "")
	require.NoError(t, err)

	avail, err = eng.GetAvailableQuantity(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), avail)

	alerts, err = eng.ListAlerts(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "P1", alerts[0].ProductID)
	assert.Equal(t, int64(2), alerts[0].AvailableQuantity)
	assert.Equal(t, int64(3), alerts[0].Threshold)

	require.NoError(t, eng.Release(ctx, res.ID))

	avail, err = eng.GetAvailableQuantity(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), avail)
	alerts, err = eng.ListAlerts(ctx, "S1")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestExpiryReturnsCapacityOnce(t *testing.T) {
	eng, clock, auditor := newMemoryEngine(t)
	ctx := context.Background()

	_, err := eng.UpsertStock(ctx, "P1", "S1", domain.StockUpdate{Quantity: 10})
	require.NoError(t, err)
	res, err := eng.Reserve(ctx, "P1", 5, "cart1", "u1")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(domain.DefaultReservationTTL), res.ExpiresAt)

	sweeper := eng.NewSweeper(time.Minute, 10)

	// Not yet due.
	n, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(domain.DefaultReservationTTL)
	n, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	avail, err := eng.GetAvailableQuantity(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), avail)

	// A late release must not decrement again.
	require.NoError(t, eng.Release(ctx, res.ID))
	rec, err := eng.GetStock(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.ReservedQuantity)

	assert.Equal(t, []event.Type{event.EvStockUpserted, event.EvStockReserved, event.EvReservationExpired}, auditor.Types())
}

func TestReleaseIsIdempotent(t *testing.T) {
	eng, _, _ := newMemoryEngine(t)
	ctx := context.Background()

	_, err := eng.UpsertStock(ctx, "P1", "S1", domain.StockUpdate{Quantity: 10})
	require.NoError(t, err)
	r1, err := eng.Reserve(ctx, "P1", 3, "cart1", "")
	require.NoError(t, err)
	_, err = eng.Reserve(ctx, "P1", 2, "cart2", "")
	require.NoError(t, err)

	require.NoError(t, eng.Release(ctx, r1.ID))
	require.NoError(t, eng.Release(ctx, r1.ID))
	require.NoError(t, eng.Release(ctx, "does-not-exist"))

	rec, err := eng.GetStock(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.ReservedQuantity)

	_, err = eng.GetReservation(ctx, r1.ID)
	assert.True(t, domain.IsNotFound(err))
}

func TestReserveErrors(t *testing.T) {
	eng, _, _ := newMemoryEngine(t)
	ctx := context.Background()

	_, err := eng.Reserve(ctx, "missing", 1, "cart", "")
	assert.True(t, domain.IsNotFound(err), "got %v", err)

	_, err = eng.UpsertStock(ctx, "P1", "S1", domain.StockUpdate{Quantity: 4})
	require.NoError(t, err)

	_, err = eng.Reserve(ctx, "P1", 0, "cart", "")
	assert.True(t, domain.IsValidation(err), "got %v", err)
	_, err = eng.Reserve(ctx, "P1", 1, "", "")
	assert.True(t, domain.IsValidation(err), "got %v", err)

	_, err = eng.Reserve(ctx, "P1", 5, "cart", "")
	var insufficient *domain.InsufficientStockError
	require.True(t, errors.As(err, &insufficient), "got %v", err)
	assert.Equal(t, int64(4), insufficient.Available)
	assert.Equal(t, int64(5), insufficient.Requested)
}

func TestUpsertStock(t *testing.T) {
	eng, clock, _ := newMemoryEngine(t)
	ctx := context.Background()

	_, err := eng.UpsertStock(ctx, "P1", "S1", domain.StockUpdate{Quantity: -1})
	assert.True(t, domain.IsValidation(err))

	bad := domain.PoolType("warehouse")
	_, err = eng.UpsertStock(ctx, "P1", "S1", domain.StockUpdate{Quantity: 1, PoolType: &bad})
	assert.True(t, domain.IsValidation(err))

	rec, err := eng.UpsertStock(ctx, "P1", "S1", domain.StockUpdate{Quantity: 10, Countries: []string{"us", "IN", "us"}})
	require.NoError(t, err)
	assert.Equal(t, int64(domain.DefaultLowStockThreshold), rec.LowStockThreshold)
	assert.Equal(t, domain.PoolPhysical, rec.PoolType)
	assert.Equal(t, []string{"IN", "US"}, rec.Countries)
	assert.Equal(t, epoch, rec.UpdatedAt)

	_, err = eng.Reserve(ctx, "P1", 6, "cart", "")
	require.NoError(t, err)

	// Below the reserved quantity.
	_, err = eng.UpsertStock(ctx, "P1", "S1", domain.StockUpdate{Quantity: 5})
	assert.True(t, domain.IsValidation(err), "got %v", err)

	clock.Advance(time.Minute)
	virtual := domain.PoolVirtual
	rec, err = eng.UpsertStock(ctx, "P1", "S1", domain.StockUpdate{Quantity: 20, PoolType: &virtual})
	require.NoError(t, err)
	assert.Equal(t, int64(6), rec.ReservedQuantity, "reserved quantity is preserved")
	assert.Equal(t, int64(14), rec.Available())
	assert.Equal(t, domain.PoolVirtual, rec.PoolType)
	assert.Equal(t, []string{"IN", "US"}, rec.Countries, "omitted countries keep the stored set")
	assert.Equal(t, epoch.Add(time.Minute), rec.UpdatedAt)
}

func TestGetAvailableQuantityMissingIsZero(t *testing.T) {
	eng, _, _ := newMemoryEngine(t)
	avail, err := eng.GetAvailableQuantity(context.Background(), "nope")
	require.NoError(t, err)
	assert.Zero(t, avail)

	_, err = eng.GetStock(context.Background(), "nope")
	assert.True(t, domain.IsNotFound(err))
}

func TestDefaultThresholdFromOptions(t *testing.T) {
	clock := newTestClock()
	opts := testOptions(clock)
	opts.DefaultThreshold = 2
	eng := New(storage.NewMemoryStore(), opts)

	rec, err := eng.UpsertStock(context.Background(), "P1", "S1", domain.StockUpdate{Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.LowStockThreshold)
}

func TestTransientConflictAfterRetries(t *testing.T) {
	store := &conflictStore{MemoryStore: storage.NewMemoryStore()}
	clock := newTestClock()
	opts := testOptions(clock)
	opts.MaxCASRetries = 3
	eng := New(store, opts)
	ctx := context.Background()

	_, err := eng.UpsertStock(ctx, "P1", "S1", domain.StockUpdate{Quantity: 5})
	require.NoError(t, err)

	_, err = eng.Reserve(ctx, "P1", 1, "cart", "")
	var conflict *domain.TransientConflictError
	require.True(t, errors.As(err, &conflict), "got %v", err)
	assert.Equal(t, 3, conflict.Attempts)
	assert.Equal(t, int64(3), store.attempts.Load())
	assert.False(t, domain.IsInsufficientStock(err))
}

func TestAlertFailureDoesNotUndoMutation(t *testing.T) {
	clock := newTestClock()
	eng := New(brokenAlertStore{storage.NewMemoryStore()}, testOptions(clock))
	ctx := context.Background()

	rec, err := eng.UpsertStock(ctx, "P1", "S1", domain.StockUpdate{Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Quantity)

	_, err = eng.Reserve(ctx, "P1", 1, "cart", "")
	require.NoError(t, err)
	avail, err := eng.GetAvailableQuantity(ctx, "P1")
	require.NoError(t, err)
	assert.Zero(t, avail)
}

func TestAlertSubscription(t *testing.T) {
	eng, _, _ := newMemoryEngine(t)
	ctx := context.Background()

	changes, cancel := eng.Alerts.Subscribe(8)
	defer cancel()

	_, err := eng.UpsertStock(ctx, "P1", "S1", domain.StockUpdate{Quantity: 10, LowStockThreshold: int64p(3)})
	require.NoError(t, err)
	res, err := eng.Reserve(ctx, "P1", 8, "cart", "")
	require.NoError(t, err)
	require.NoError(t, eng.Release(ctx, res.ID))

	// Upsert above threshold publishes nothing; reserve raises; release clears.
	raised := <-changes
	assert.True(t, raised.Active())
	assert.Equal(t, int64(2), raised.Alert.AvailableQuantity)

	cleared := <-changes
	assert.False(t, cleared.Active())
	assert.Equal(t, "P1", cleared.ProductID)

	select {
	case extra := <-changes:
		t.Fatalf("unexpected change %+v", extra)
	default:
	}

	cancel()
	_, open := <-changes
	assert.False(t, open, "channel closes on unsubscribe")
	cancel() // second call is harmless
}

func TestRecomputeAlerts(t *testing.T) {
	store := storage.NewMemoryStore()
	rec := &domain.StockRecord{ProductID: "P1", SellerID: "S1", Quantity: 2, LowStockThreshold: 5, PoolType: domain.PoolPhysical}
	require.NoError(t, store.SaveStock(context.Background(), rec))

	eng := New(store, testOptions(newTestClock()))
	require.NoError(t, eng.RecomputeAlerts(context.Background(), []string{"P1", "unknown"}))

	alerts, err := eng.ListAlerts(context.Background(), "S1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, epoch, alerts[0].AlertedAt)
}
