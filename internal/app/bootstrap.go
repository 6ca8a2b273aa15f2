package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"inventory_go/internal/api"
	"inventory_go/internal/csvmap"
	"inventory_go/internal/erp"
	"inventory_go/internal/infra"
	"inventory_go/internal/inventory"
	"inventory_go/internal/storage"
)

const keepSnapshots = 3

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Store   storage.Store
	Audit   *storage.AuditLog
	Engine  *inventory.Engine
	Sweeper *inventory.Sweeper
	Hub     *api.AlertHub
	ERP     *erp.GuardedAdapter
	Mapper  *csvmap.Mapper

	memory    *storage.MemoryStore
	snapshots *storage.SnapshotManager
	snapSeq   uint64
	unlock    func()
	hubDone   chan struct{}
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config file and wires every component.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err
	}
	return b.InitializeWith(ctx, cfg)
}

// InitializeWith wires every component from an already loaded config.
func (b *Bootstrap) InitializeWith(ctx context.Context, cfg *infra.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	b.Config = cfg

	// 1. Logger
	slog.SetDefault(infra.NewLogger(cfg, os.Stdout))
	slog.Info("🚀 Bootstrapping inventory engine...", slog.String("backend", cfg.Store.Backend))

	// 2. Stock store
	if err := b.openStore(ctx); err != nil {
		return err
	}

	// 3. Audit trail
	opts := inventory.DefaultOptions()
	opts.TTL = cfg.ReservationTTL()
	opts.DefaultThreshold = cfg.Alerts.DefaultThreshold
	opts.MaxCASRetries = cfg.Reservation.MaxCASRetries
	opts.RetryBackoff = cfg.RetryBackoff()
	if cfg.Audit.Enabled {
		path, err := infra.ResolveDataPath(cfg.Audit.Path)
		if err != nil {
			return err
		}
		audit, err := storage.NewAuditLog(path)
		if err != nil {
			return err
		}
		b.Audit = audit
		opts.Auditor = audit
		slog.Info("✅ Audit log initialized (WAL-mode)", slog.String("path", path))
	}

	// 4. Engine
	b.Engine = inventory.New(b.Store, opts)
	b.Sweeper = b.Engine.NewSweeper(cfg.SweepInterval(), cfg.Sweeper.BatchSize)

	if err := b.restoreSnapshot(ctx); err != nil {
		return err
	}

	// 5. Edges
	rules, err := csvmap.RulesFromConfig(cfg.CSV.Rules)
	if err != nil {
		return err
	}
	b.Mapper = csvmap.NewMapper(rules)

	b.ERP = erp.NewGuardedAdapter(erp.GuardedConfigFrom(cfg))
	b.ERP.Register("stub", erp.NewStubAdapter("stub"))

	b.Hub = api.NewAlertHub(b.Engine.Alerts)

	slog.Info("✅ Inventory engine ready",
		slog.Duration("reservation_ttl", cfg.ReservationTTL()),
		slog.Duration("sweep_interval", cfg.SweepInterval()),
		slog.Duration("expiry_visible_within", cfg.ReservationTTL()+cfg.SweepInterval()))
	return nil
}

func (b *Bootstrap) openStore(ctx context.Context) error {
	cfg := b.Config
	sopts := storage.Options{RetentionGrace: cfg.RetentionGrace()}

	switch cfg.Store.Backend {
	case infra.BackendMemory:
		b.memory = storage.NewMemoryStore()
		b.Store = b.memory
		if cfg.Store.SnapshotDir != "" {
			dir, err := filepath.Abs(cfg.Store.SnapshotDir)
			if err != nil {
				return err
			}
			b.snapshots = storage.NewSnapshotManager(dir)
		}
		slog.Warn("⚠️ Memory backend: stock is lost on exit unless snapshots are enabled")

	case infra.BackendSQLite:
		path, err := infra.ResolveDataPath(cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		unlock, err := infra.CreateLockFile(filepath.Dir(path))
		if err != nil {
			return err
		}
		b.unlock = unlock
		st, err := storage.OpenSQLite(path)
		if err != nil {
			return err
		}
		b.Store = st
		slog.Info("✅ SQLite store opened (WAL-mode)", slog.String("path", path))

	case infra.BackendPostgres:
		st, err := storage.OpenPostgres(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		b.Store = st
		slog.Info("✅ Postgres store connected")

	case infra.BackendRedis:
		st, err := storage.NewRedisStore(ctx, cfg.Store.RedisURL, sopts)
		if err != nil {
			return err
		}
		b.Store = st
		slog.Info("✅ Redis store connected")

	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return nil
}

func (b *Bootstrap) restoreSnapshot(ctx context.Context) error {
	if b.snapshots == nil {
		return nil
	}
	snap, err := b.snapshots.LoadLatest()
	if err != nil {
		return err
	}
	if snap == nil {
		slog.Info("No snapshot found, starting empty")
		return nil
	}
	ids, err := b.memory.Restore(snap)
	if err != nil {
		return err
	}
	b.snapSeq = snap.Seq
	if err := b.Engine.RecomputeAlerts(ctx, ids); err != nil {
		return fmt.Errorf("recompute alerts after restore: %w", err)
	}
	slog.Info("♻️ Stock restored from snapshot",
		slog.Uint64("seq", snap.Seq),
		slog.Int("products", len(ids)),
		slog.Int("reservations", len(snap.Reservations)))
	return nil
}

// Start launches the expiry sweeper and the alert stream hub.
func (b *Bootstrap) Start(ctx context.Context) error {
	if err := b.Sweeper.Start(ctx); err != nil {
		return err
	}
	b.hubDone = make(chan struct{})
	go func() {
		defer close(b.hubDone)
		b.Hub.Run(ctx)
	}()
	slog.Info("✅ Expiry sweeper and alert stream started")
	return nil
}

// Handler returns the HTTP surface.
func (b *Bootstrap) Handler() http.Handler {
	return api.NewRouter(api.Deps{
		Engine:      b.Engine,
		Mapper:      b.Mapper,
		ERP:         b.ERP,
		Hub:         b.Hub,
		ReserveRate: infra.NewKeyedRateLimiter(b.Config.RateLimit.ReserveBurst, b.Config.RateLimit.ReservePerSecond),
		Logger:      slog.Default(),
	})
}

// Shutdown stops background work, writes a final snapshot and closes
// the store. The hub stops with the context passed to Start.
func (b *Bootstrap) Shutdown(ctx context.Context) error {
	var errs []error
	if b.Sweeper != nil {
		b.Sweeper.Stop()
	}
	if b.hubDone != nil {
		select {
		case <-b.hubDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("alert hub: %w", ctx.Err()))
		}
	}
	if b.snapshots != nil && b.memory != nil {
		if err := b.saveSnapshot(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if b.Audit != nil {
		if err := b.Audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit log: %w", err))
		}
	}
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if b.unlock != nil {
		b.unlock()
	}
	return errors.Join(errs...)
}

func (b *Bootstrap) saveSnapshot(ctx context.Context) error {
	seq := b.snapSeq + 1
	if b.Audit != nil {
		if last, err := b.Audit.GetLastSeq(ctx); err == nil && last > seq {
			seq = last
		}
	}
	snap := storage.CreateSnapshot(seq, b.memory, time.Now())
	if err := b.snapshots.Save(snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	b.snapSeq = seq
	if err := b.snapshots.Cleanup(keepSnapshots); err != nil {
		slog.Warn("Snapshot cleanup failed", slog.Any("error", err))
	}
	slog.Info("💾 Snapshot written", slog.Uint64("seq", seq), slog.Int("products", len(snap.Stocks)))
	return nil
}
