package inventory

import (
	"context"
	"errors"
	"time"

	"inventory_go/internal/domain"
	"inventory_go/internal/event"
	"inventory_go/internal/infra"
	"inventory_go/internal/storage"

	"github.com/google/uuid"
)

// Options tune the engine. Zero fields take the DefaultOptions value.
type Options struct {
	TTL              time.Duration
	DefaultThreshold int64
	MaxCASRetries    int
	RetryBackoff     infra.Backoff
	Now              func() time.Time
	NewID            func() string
	Auditor          Auditor
}

// DefaultOptions matches the shipped configuration.
func DefaultOptions() Options {
	return Options{
		TTL:              domain.DefaultReservationTTL,
		DefaultThreshold: domain.DefaultLowStockThreshold,
		MaxCASRetries:    8,
		RetryBackoff:     infra.Backoff{Base: 2 * time.Millisecond, Max: 100 * time.Millisecond},
		Now:              time.Now,
		NewID:            uuid.NewString,
		Auditor:          NopAuditor{},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TTL <= 0 {
		o.TTL = d.TTL
	}
	if o.DefaultThreshold < 0 {
		o.DefaultThreshold = d.DefaultThreshold
	}
	if o.MaxCASRetries <= 0 {
		o.MaxCASRetries = d.MaxCASRetries
	}
	if o.RetryBackoff == (infra.Backoff{}) {
		o.RetryBackoff = d.RetryBackoff
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	if o.NewID == nil {
		o.NewID = d.NewID
	}
	if o.Auditor == nil {
		o.Auditor = d.Auditor
	}
	return o
}

// Auditor receives one event per committed stock mutation.
type Auditor interface {
	Record(ctx context.Context, ev event.StockEvent) error
}

// NopAuditor discards events.
type NopAuditor struct{}

func (NopAuditor) Record(context.Context, event.StockEvent) error { return nil }

// casLoop runs attempt until it returns anything other than a version
// conflict, sleeping a jittered backoff between tries. Exhaustion yields
// a TransientConflictError.
func casLoop(ctx context.Context, o Options, productID string, attempt func() error) error {
	for i := 0; i < o.MaxCASRetries; i++ {
		err := attempt()
		if !errors.Is(err, storage.ErrVersionConflict) {
			return err
		}
		if i == o.MaxCASRetries-1 {
			break
		}
		if err := sleepCtx(ctx, o.RetryBackoff.Jittered(i)); err != nil {
			return err
		}
	}
	return &domain.TransientConflictError{ProductID: productID, Attempts: o.MaxCASRetries}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
