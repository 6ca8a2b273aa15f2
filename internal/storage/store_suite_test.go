package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"inventory_go/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// StoreSuite runs the Store contract against one backend.
type StoreSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store

	ctx   context.Context
	store Store
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore(s.T())
}

func (s *StoreSuite) TearDownTest() {
	s.store.Close()
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(*testing.T) Store {
		return NewMemoryStore()
	}})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(t *testing.T) Store {
		st, err := OpenSQLite(filepath.Join(t.TempDir(), "stock.db"))
		require.NoError(t, err)
		return st
	}})
}

func TestRedisStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(t *testing.T) Store {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return NewRedisStoreFromClient(rdb, DefaultOptions())
	}})
}

func newRecord(productID, sellerID string, qty int64) *domain.StockRecord {
	return &domain.StockRecord{
		ProductID:         productID,
		SellerID:          sellerID,
		Quantity:          qty,
		LowStockThreshold: domain.DefaultLowStockThreshold,
		PoolType:          domain.PoolPhysical,
		Countries:         []string{"IN", "US"},
		UpdatedAt:         t0,
	}
}

func (s *StoreSuite) TestStockCompareAndSwap() {
	_, err := s.store.GetStock(s.ctx, "P1")
	s.ErrorIs(err, ErrNotFound)

	rec := newRecord("P1", "S1", 10)
	s.Require().NoError(s.store.SaveStock(s.ctx, rec))
	s.Equal(int64(1), rec.Version)

	dup := newRecord("P1", "S1", 99)
	s.ErrorIs(s.store.SaveStock(s.ctx, dup), ErrVersionConflict)

	got, err := s.store.GetStock(s.ctx, "P1")
	s.Require().NoError(err)
	s.Equal(int64(10), got.Quantity)
	s.Equal("S1", got.SellerID)
	s.Equal(domain.PoolPhysical, got.PoolType)
	s.Equal([]string{"IN", "US"}, got.Countries)
	s.True(got.UpdatedAt.Equal(t0))
	s.Equal(int64(1), got.Version)

	got.Quantity = 12
	s.Require().NoError(s.store.SaveStock(s.ctx, got))
	s.Equal(int64(2), got.Version)

	// rec still carries version 1.
	rec.Quantity = 1
	s.ErrorIs(s.store.SaveStock(s.ctx, rec), ErrVersionConflict)

	final, err := s.store.GetStock(s.ctx, "P1")
	s.Require().NoError(err)
	s.Equal(int64(12), final.Quantity)
}

func (s *StoreSuite) TestSaveRejectsReservedAboveQuantity() {
	rec := newRecord("P1", "S1", 2)
	rec.ReservedQuantity = 3
	err := s.store.SaveStock(s.ctx, rec)
	s.True(domain.IsValidation(err), "got %v", err)

	_, err = s.store.GetStock(s.ctx, "P1")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestReserveThenRelease() {
	rec := newRecord("P1", "S1", 10)
	s.Require().NoError(s.store.SaveStock(s.ctx, rec))

	res := domain.NewReservation("r1", "P1", 3, "cart1", "u1", t0, domain.DefaultReservationTTL)
	rec.ReservedQuantity += 3
	s.Require().NoError(s.store.CommitReservation(s.ctx, rec, res))
	s.Equal(int64(2), rec.Version)

	got, err := s.store.GetReservation(s.ctx, "r1")
	s.Require().NoError(err)
	s.Equal("P1", got.ProductID)
	s.Equal(int64(3), got.Quantity)
	s.Equal("cart1", got.CartID)
	s.Equal("u1", got.UserID)
	s.True(got.ExpiresAt.Equal(t0.Add(domain.DefaultReservationTTL)))

	stock, err := s.store.GetStock(s.ctx, "P1")
	s.Require().NoError(err)
	s.Equal(int64(3), stock.ReservedQuantity)

	stock.ReservedQuantity -= 3
	s.Require().NoError(s.store.CommitRelease(s.ctx, stock, "r1"))

	_, err = s.store.GetReservation(s.ctx, "r1")
	s.ErrorIs(err, ErrNotFound)

	// A second settle must change nothing.
	again, err := s.store.GetStock(s.ctx, "P1")
	s.Require().NoError(err)
	s.Equal(int64(0), again.ReservedQuantity)
	version := again.Version
	again.ReservedQuantity = 0
	s.ErrorIs(s.store.CommitRelease(s.ctx, again, "r1"), ErrNotFound)

	after, err := s.store.GetStock(s.ctx, "P1")
	s.Require().NoError(err)
	s.Equal(version, after.Version)
}

func (s *StoreSuite) TestCommitReservationConflictWritesNothing() {
	rec := newRecord("P1", "S1", 10)
	s.Require().NoError(s.store.SaveStock(s.ctx, rec))

	stale := rec.Clone()
	stale.Version = 0
	stale.ReservedQuantity = 1
	res := domain.NewReservation("r1", "P1", 1, "cart1", "", t0, time.Minute)
	s.ErrorIs(s.store.CommitReservation(s.ctx, stale, res), ErrVersionConflict)

	_, err := s.store.GetReservation(s.ctx, "r1")
	s.ErrorIs(err, ErrNotFound)
	due, err := s.store.DueReservations(s.ctx, t0.Add(time.Hour), 10)
	s.Require().NoError(err)
	s.Empty(due)
}

func (s *StoreSuite) TestCommitReleaseConflictKeepsReservation() {
	rec := newRecord("P1", "S1", 10)
	s.Require().NoError(s.store.SaveStock(s.ctx, rec))
	rec.ReservedQuantity = 4
	res := domain.NewReservation("r1", "P1", 4, "cart1", "", t0, time.Minute)
	s.Require().NoError(s.store.CommitReservation(s.ctx, rec, res))

	stale := rec.Clone()
	stale.Version = 1
	stale.ReservedQuantity = 0
	s.ErrorIs(s.store.CommitRelease(s.ctx, stale, "r1"), ErrVersionConflict)

	_, err := s.store.GetReservation(s.ctx, "r1")
	s.NoError(err)
	stock, err := s.store.GetStock(s.ctx, "P1")
	s.Require().NoError(err)
	s.Equal(int64(4), stock.ReservedQuantity)
}

func (s *StoreSuite) TestCommitReleaseWithoutStock() {
	rec := newRecord("P1", "S1", 10)
	s.Require().NoError(s.store.SaveStock(s.ctx, rec))
	rec.ReservedQuantity = 1
	res := domain.NewReservation("r1", "P1", 1, "cart1", "", t0, time.Minute)
	s.Require().NoError(s.store.CommitReservation(s.ctx, rec, res))

	s.Require().NoError(s.store.CommitRelease(s.ctx, nil, "r1"))
	s.ErrorIs(s.store.CommitRelease(s.ctx, nil, "r1"), ErrNotFound)
	s.ErrorIs(s.store.CommitRelease(s.ctx, nil, "never-existed"), ErrNotFound)
}

func (s *StoreSuite) TestDueReservationsOldestFirst() {
	rec := newRecord("P1", "S1", 10)
	s.Require().NoError(s.store.SaveStock(s.ctx, rec))

	for i, ttl := range []time.Duration{10 * time.Minute, time.Minute, 2 * time.Minute} {
		rec.ReservedQuantity++
		id := []string{"late", "first", "second"}[i]
		res := domain.NewReservation(id, "P1", 1, "cart", "", t0, ttl)
		s.Require().NoError(s.store.CommitReservation(s.ctx, rec, res))
	}

	due, err := s.store.DueReservations(s.ctx, t0.Add(5*time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(due, 2)
	s.Equal("first", due[0].ID)
	s.Equal("second", due[1].ID)

	due, err = s.store.DueReservations(s.ctx, t0.Add(5*time.Minute), 1)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal("first", due[0].ID)

	// Boundary: expiresAt == now is due.
	due, err = s.store.DueReservations(s.ctx, t0.Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(due, 1)

	due, err = s.store.DueReservations(s.ctx, t0, 10)
	s.Require().NoError(err)
	s.Empty(due)
}

func (s *StoreSuite) TestApplyAlertNeverRegresses() {
	alert := &domain.LowStockAlert{ProductID: "P1", SellerID: "S1", AvailableQuantity: 2, Threshold: 3, AlertedAt: t0}

	applied, err := s.store.ApplyAlert(s.ctx, "P1", "S1", 2, alert)
	s.Require().NoError(err)
	s.True(applied)

	got, err := s.store.GetAlert(s.ctx, "P1")
	s.Require().NoError(err)
	s.Equal(int64(2), got.AvailableQuantity)
	s.Equal(int64(3), got.Threshold)

	// Older stock version loses.
	applied, err = s.store.ApplyAlert(s.ctx, "P1", "S1", 1, nil)
	s.Require().NoError(err)
	s.False(applied)
	_, err = s.store.GetAlert(s.ctx, "P1")
	s.NoError(err)

	applied, err = s.store.ApplyAlert(s.ctx, "P1", "S1", 3, nil)
	s.Require().NoError(err)
	s.True(applied)
	_, err = s.store.GetAlert(s.ctx, "P1")
	s.ErrorIs(err, ErrNotFound)

	alerts, err := s.store.ListAlerts(s.ctx, "S1")
	s.Require().NoError(err)
	s.NotNil(alerts)
	s.Empty(alerts)
}

func (s *StoreSuite) TestListAlertsBySeller() {
	for _, a := range []struct{ product, seller string }{{"P2", "S1"}, {"P1", "S1"}, {"P3", "S2"}} {
		alert := &domain.LowStockAlert{ProductID: a.product, SellerID: a.seller, AvailableQuantity: 1, Threshold: 5, AlertedAt: t0}
		_, err := s.store.ApplyAlert(s.ctx, a.product, a.seller, 1, alert)
		s.Require().NoError(err)
	}

	alerts, err := s.store.ListAlerts(s.ctx, "S1")
	s.Require().NoError(err)
	s.Require().Len(alerts, 2)
	s.Equal("P1", alerts[0].ProductID)
	s.Equal("P2", alerts[1].ProductID)

	alerts, err = s.store.ListAlerts(s.ctx, "S3")
	s.Require().NoError(err)
	s.Empty(alerts)
}

func (s *StoreSuite) TestPing() {
	s.NoError(s.store.Ping(s.ctx))
}

func TestRebindPostgres(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &SQLStore{dialect: DialectSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestRedisDueDropsVanishedPayload(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedisStoreFromClient(rdb, Options{RetentionGrace: time.Second})
	defer st.Close()
	ctx := context.Background()

	rec := newRecord("P1", "S1", 5)
	require.NoError(t, st.SaveStock(ctx, rec))
	rec.ReservedQuantity = 1
	res := domain.NewReservation("r1", "P1", 1, "cart", "", t0, time.Minute)
	require.NoError(t, st.CommitReservation(ctx, rec, res))

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists("reservation:r1"))

	due, err := st.DueReservations(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	members, err := rdb.ZRange(ctx, dueReservationsKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Empty(t, members)
	assert.True(t, errors.Is(st.CommitRelease(ctx, nil, "r1"), ErrNotFound))
}
