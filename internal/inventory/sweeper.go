package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"inventory_go/internal/storage"
)

// Sweeper periodically settles reservations whose TTL has elapsed. It is
// the compensating path for holds nobody releases; capacity comes back
// within TTL + interval.
type Sweeper struct {
	store    storage.Store
	manager  *ReservationManager
	interval time.Duration
	batch    int
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(store storage.Store, manager *ReservationManager, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 200
	}
	return &Sweeper{
		store:    store,
		manager:  manager,
		interval: interval,
		batch:    batch,
		now:      manager.opts.Now,
	}
}

// Start runs one sweep immediately, then one per interval until Stop or
// ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("sweeper already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.cycle(ctx)
		for {
			select {
			case <-ctx.Done():
				slog.Info("Expiry sweeper stopped")
				return
			case <-ticker.C:
				s.cycle(ctx)
			}
		}
	}()

	slog.Info("Expiry sweeper started",
		slog.Duration("interval", s.interval),
		slog.Int("batch_size", s.batch))
	return nil
}

// cycle runs one sweep, keeping the loop alive across failures.
func (s *Sweeper) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Expiry sweep panic recovered", slog.Any("panic", r))
		}
	}()

	n, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Expiry sweep failed, retrying next cycle", slog.Any("error", err))
		}
		return
	}
	if n > 0 {
		slog.Info("Expired reservations reclaimed", slog.Int("count", n))
	}
}

// RunOnce settles every reservation due at the current time and returns
// how many this sweep reclaimed. A failure on one hold is logged and the
// hold is left for the next sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	reclaimed := 0
	for {
		due, err := s.store.DueReservations(ctx, now, s.batch)
		if err != nil {
			return reclaimed, fmt.Errorf("list due reservations: %w", err)
		}

		failed := 0
		for _, res := range due {
			if err := ctx.Err(); err != nil {
				return reclaimed, err
			}
			settled, err := s.manager.settleExpired(ctx, res, now)
			if err != nil {
				failed++
				slog.Warn("Reservation expiry failed",
					slog.String("reservation_id", res.ID),
					slog.String("product_id", res.ProductID),
					slog.Any("error", err))
				continue
			}
			if settled {
				reclaimed++
			}
		}

		// A short batch means the backlog is drained. A batch made only of
		// failures would be fetched again unchanged.
		if len(due) < s.batch || failed == len(due) {
			return reclaimed, nil
		}
	}
}

// Stop stops the sweep loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
}
