// Package erp is the boundary to seller ERP systems. No wire protocol is
// implemented; StubAdapter records calls and reports success.
package erp

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"inventory_go/internal/domain"
	"inventory_go/internal/infra"
)

// ErrRateLimited is returned when a provider's token bucket is empty.
var ErrRateLimited = errors.New("erp provider rate limited")

// SyncResult is the outcome of a pull.
type SyncResult struct {
	Provider string   `json:"provider"`
	Synced   int      `json:"synced"`
	Errors   []string `json:"errors"`
}

// Adapter talks to one ERP provider.
type Adapter interface {
	Pull(ctx context.Context, sellerID string) (SyncResult, error)
	Push(ctx context.Context, productID string, available int64) (bool, error)
}

// StubAdapter accepts every call without contacting anything.
type StubAdapter struct {
	name   string
	logger *slog.Logger
}

func NewStubAdapter(name string) *StubAdapter {
	return &StubAdapter{name: name, logger: slog.Default().With("component", "erp", "provider", name)}
}

func (s *StubAdapter) Pull(ctx context.Context, sellerID string) (SyncResult, error) {
	if err := ctx.Err(); err != nil {
		return SyncResult{}, err
	}
	s.logger.Info("🔄 ERP pull (stub)", slog.String("seller", sellerID))
	return SyncResult{Provider: s.name, Errors: []string{}}, nil
}

func (s *StubAdapter) Push(ctx context.Context, productID string, available int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.logger.Info("🔄 ERP push (stub)", slog.String("product", productID), slog.Int64("available", available))
	return true, nil
}

// GuardedConfig sizes the per-provider breaker and bucket.
type GuardedConfig struct {
	FailureThreshold  int
	OpenTimeout       time.Duration
	RequestsPerSecond float64
	Burst             int
	Now               func() time.Time
}

// GuardedConfigFrom reads the erp section of the application config.
func GuardedConfigFrom(cfg *infra.Config) GuardedConfig {
	return GuardedConfig{
		FailureThreshold:  cfg.ERP.FailureThreshold,
		OpenTimeout:       time.Duration(cfg.ERP.OpenTimeoutSec) * time.Second,
		RequestsPerSecond: cfg.ERP.RequestsPerSecond,
	}
}

// GuardedAdapter routes calls to named providers, each behind its own
// circuit breaker and token bucket.
type GuardedAdapter struct {
	cfg      GuardedConfig
	mu       sync.RWMutex
	adapters map[string]Adapter
	breakers map[string]*infra.CircuitBreaker
	limits   *infra.KeyedRateLimiter
}

func NewGuardedAdapter(cfg GuardedConfig) *GuardedAdapter {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	return &GuardedAdapter{
		cfg:      cfg,
		adapters: make(map[string]Adapter),
		breakers: make(map[string]*infra.CircuitBreaker),
		limits:   infra.NewKeyedRateLimiter(cfg.Burst, cfg.RequestsPerSecond),
	}
}

// Register adds or replaces a provider.
func (g *GuardedAdapter) Register(name string, a Adapter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adapters[name] = a
	g.breakers[name] = infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
		Name:             "erp:" + name,
		FailureThreshold: g.cfg.FailureThreshold,
		SuccessThreshold: 1,
		Timeout:          g.cfg.OpenTimeout,
		Now:              g.cfg.Now,
		OnStateChange: func(_ string, from, to infra.State) {
			if to == infra.StateOpen {
				slog.Warn("⚠️ ERP provider isolated", slog.String("provider", name), slog.String("from", from.String()))
			}
		},
	})
}

// Providers lists registered provider names.
func (g *GuardedAdapter) Providers() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.adapters))
	for name := range g.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// State exposes a provider's breaker state.
func (g *GuardedAdapter) State(provider string) (infra.State, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cb, ok := g.breakers[provider]
	if !ok {
		return infra.StateClosed, false
	}
	return cb.GetState(), true
}

// Status reports every provider's breaker.
func (g *GuardedAdapter) Status() map[string]infra.BreakerStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]infra.BreakerStats, len(g.breakers))
	for name, cb := range g.breakers {
		out[name] = cb.Stats()
	}
	return out
}

func (g *GuardedAdapter) lookup(provider string) (Adapter, *infra.CircuitBreaker, error) {
	g.mu.RLock()
	a, ok := g.adapters[provider]
	cb := g.breakers[provider]
	g.mu.RUnlock()
	if !ok {
		return nil, nil, &domain.NotFoundError{Resource: "erp provider", ID: provider}
	}
	if !g.limits.Allow(provider) {
		return nil, nil, ErrRateLimited
	}
	return a, cb, nil
}

func (g *GuardedAdapter) Pull(ctx context.Context, provider, sellerID string) (SyncResult, error) {
	a, cb, err := g.lookup(provider)
	if err != nil {
		return SyncResult{}, err
	}
	var res SyncResult
	err = cb.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = a.Pull(ctx, sellerID)
		return err
	})
	return res, err
}

func (g *GuardedAdapter) Push(ctx context.Context, provider, productID string, available int64) (bool, error) {
	a, cb, err := g.lookup(provider)
	if err != nil {
		return false, err
	}
	var ok bool
	err = cb.Do(ctx, func(ctx context.Context) error {
		var err error
		ok, err = a.Push(ctx, productID, available)
		return err
	})
	return ok, err
}
