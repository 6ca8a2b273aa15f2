package storage

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"inventory_go/internal/domain"
)

const memoryShards = 32

type alertEntry struct {
	version  int64
	sellerID string
	alert    *domain.LowStockAlert
}

// memoryShard owns every key of the products hashed to it. Holding its
// mutex makes a stock swap and its reservation write one atomic unit.
type memoryShard struct {
	mu           sync.Mutex
	stocks       map[string]*domain.StockRecord
	reservations map[string]*domain.Reservation
	alerts       map[string]alertEntry
}

// MemoryStore is an in-process Store with striped per-product locks.
// Products on different shards never contend.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
	owner  sync.Map // reservation id -> product id
}

// Verify interface compliance
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &memoryShard{
			stocks:       make(map[string]*domain.StockRecord),
			reservations: make(map[string]*domain.Reservation),
			alerts:       make(map[string]alertEntry),
		}
	}
	return s
}

func (s *MemoryStore) shardFor(productID string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(productID))
	return s.shards[h.Sum32()%memoryShards]
}

func (s *MemoryStore) GetStock(_ context.Context, productID string) (*domain.StockRecord, error) {
	sh := s.shardFor(productID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.stocks[productID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// swapLocked performs the version check and write. Caller holds sh.mu.
func (sh *memoryShard) swapLocked(rec *domain.StockRecord) error {
	var stored int64
	if cur, ok := sh.stocks[rec.ProductID]; ok {
		stored = cur.Version
	}
	if stored != rec.Version {
		return ErrVersionConflict
	}
	if err := rec.CheckInvariant(); err != nil {
		return err
	}
	next := rec.Clone()
	next.Version++
	sh.stocks[rec.ProductID] = next
	rec.Version = next.Version
	return nil
}

func (s *MemoryStore) SaveStock(_ context.Context, rec *domain.StockRecord) error {
	sh := s.shardFor(rec.ProductID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.swapLocked(rec)
}

func (s *MemoryStore) CommitReservation(_ context.Context, rec *domain.StockRecord, res *domain.Reservation) error {
	if rec.ProductID != res.ProductID {
		return fmt.Errorf("reservation %s belongs to %s, not %s", res.ID, res.ProductID, rec.ProductID)
	}
	sh := s.shardFor(rec.ProductID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if err := sh.swapLocked(rec); err != nil {
		return err
	}
	stored := *res
	sh.reservations[res.ID] = &stored
	s.owner.Store(res.ID, res.ProductID)
	return nil
}

func (s *MemoryStore) CommitRelease(_ context.Context, rec *domain.StockRecord, reservationID string) error {
	v, ok := s.owner.Load(reservationID)
	if !ok {
		return ErrNotFound
	}
	productID := v.(string)

	sh := s.shardFor(productID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.reservations[reservationID]; !ok {
		return ErrNotFound
	}
	if rec != nil {
		if rec.ProductID != productID {
			return fmt.Errorf("reservation %s belongs to %s, not %s", reservationID, productID, rec.ProductID)
		}
		if err := sh.swapLocked(rec); err != nil {
			return err
		}
	}
	delete(sh.reservations, reservationID)
	s.owner.Delete(reservationID)
	return nil
}

func (s *MemoryStore) GetReservation(_ context.Context, id string) (*domain.Reservation, error) {
	v, ok := s.owner.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	sh := s.shardFor(v.(string))
	sh.mu.Lock()
	defer sh.mu.Unlock()

	res, ok := sh.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func (s *MemoryStore) DueReservations(_ context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	var due []*domain.Reservation
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, res := range sh.reservations {
			if res.Expired(now) {
				cp := *res
				due = append(due, &cp)
			}
		}
		sh.mu.Unlock()
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].ExpiresAt.Before(due[j].ExpiresAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) ApplyAlert(_ context.Context, productID, sellerID string, version int64, alert *domain.LowStockAlert) (bool, error) {
	sh := s.shardFor(productID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if cur, ok := sh.alerts[productID]; ok && cur.version > version {
		return false, nil
	}
	entry := alertEntry{version: version, sellerID: sellerID}
	if alert != nil {
		cp := *alert
		entry.alert = &cp
	}
	sh.alerts[productID] = entry
	return true, nil
}

func (s *MemoryStore) GetAlert(_ context.Context, productID string) (*domain.LowStockAlert, error) {
	sh := s.shardFor(productID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.alerts[productID]
	if !ok || entry.alert == nil {
		return nil, ErrNotFound
	}
	cp := *entry.alert
	return &cp, nil
}

func (s *MemoryStore) ListAlerts(_ context.Context, sellerID string) ([]*domain.LowStockAlert, error) {
	alerts := []*domain.LowStockAlert{}
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, entry := range sh.alerts {
			if entry.alert != nil && entry.sellerID == sellerID {
				cp := *entry.alert
				alerts = append(alerts, &cp)
			}
		}
		sh.mu.Unlock()
	}
	sortAlerts(alerts)
	return alerts, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// Export returns copies of every stock record and reservation, sorted by
// key.
func (s *MemoryStore) Export() ([]*domain.StockRecord, []*domain.Reservation) {
	stocks := []*domain.StockRecord{}
	reservations := []*domain.Reservation{}
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, rec := range sh.stocks {
			stocks = append(stocks, rec.Clone())
		}
		for _, res := range sh.reservations {
			cp := *res
			reservations = append(reservations, &cp)
		}
		sh.mu.Unlock()
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].ProductID < stocks[j].ProductID })
	sort.Slice(reservations, func(i, j int) bool { return reservations[i].ID < reservations[j].ID })
	return stocks, reservations
}

// Restore loads a snapshot into the store, keeping stored versions, and
// returns the restored product ids. Records violating the reserved/quantity
// invariant are rejected.
func (s *MemoryStore) Restore(snap *Snapshot) ([]string, error) {
	ids := make([]string, 0, len(snap.Stocks))
	for _, rec := range snap.Stocks {
		if err := rec.CheckInvariant(); err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", snap.Seq, err)
		}
		sh := s.shardFor(rec.ProductID)
		sh.mu.Lock()
		sh.stocks[rec.ProductID] = rec.Clone()
		sh.mu.Unlock()
		ids = append(ids, rec.ProductID)
	}
	for _, res := range snap.Reservations {
		cp := *res
		sh := s.shardFor(res.ProductID)
		sh.mu.Lock()
		sh.reservations[res.ID] = &cp
		sh.mu.Unlock()
		s.owner.Store(res.ID, res.ProductID)
	}
	return ids, nil
}
