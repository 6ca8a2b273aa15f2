package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"inventory_go/internal/domain"
)

var (
	// ErrNotFound is returned when a key is absent.
	ErrNotFound = errors.New("storage: not found")
	// ErrVersionConflict is returned when a compare-and-swap loses a race.
	ErrVersionConflict = errors.New("storage: version conflict")
)

// Store is the shared persistence layer of the engine. Every method that
// changes stock is an atomic unit with respect to the same product; units
// on different products never contend.
type Store interface {
	// GetStock returns a copy of the stored record (ErrNotFound if absent).
	GetStock(ctx context.Context, productID string) (*domain.StockRecord, error)

	// SaveStock writes rec if the stored version still equals rec.Version
	// (0 = create). On success rec.Version is advanced.
	SaveStock(ctx context.Context, rec *domain.StockRecord) error

	// CommitReservation swaps rec (as SaveStock) and persists res in the
	// same atomic unit.
	CommitReservation(ctx context.Context, rec *domain.StockRecord, res *domain.Reservation) error

	// CommitRelease deletes the reservation and swaps rec in the same atomic
	// unit. It returns ErrNotFound, changing nothing, if the reservation is
	// already gone. A nil rec deletes the reservation only.
	CommitRelease(ctx context.Context, rec *domain.StockRecord, reservationID string) error

	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)

	// DueReservations lists holds with ExpiresAt <= now, oldest first.
	DueReservations(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)

	// ApplyAlert records the derived alert state for a stock version. A nil
	// alert clears it. Writes older than the stored version are ignored and
	// reported as applied=false.
	ApplyAlert(ctx context.Context, productID, sellerID string, version int64, alert *domain.LowStockAlert) (bool, error)

	GetAlert(ctx context.Context, productID string) (*domain.LowStockAlert, error)
	ListAlerts(ctx context.Context, sellerID string) ([]*domain.LowStockAlert, error)

	Ping(ctx context.Context) error
	Close() error
}

// Options tune backend behaviour shared by all implementations.
type Options struct {
	// RetentionGrace keeps a reservation's payload around this long after
	// its ExpiresAt so the sweeper can still compensate it. Backends with
	// native key TTL (redis) use ExpiresAt + RetentionGrace.
	RetentionGrace time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{RetentionGrace: time.Hour}
}

func sortAlerts(alerts []*domain.LowStockAlert) {
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].ProductID < alerts[j].ProductID
	})
}
