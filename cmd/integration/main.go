package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"inventory_go/internal/app"
	"inventory_go/internal/domain"
	"inventory_go/internal/inventory"
	"inventory_go/internal/replay"

	"github.com/google/uuid"
)

// Drill against the configured store: many buyers race for scarce stock,
// every hold is released twice, and the counters must come back to zero.
func main() {
	stockFlag := flag.Int64("stock", 25, "units available to the drill product")
	buyersFlag := flag.Int("buyers", 200, "concurrent buyers reserving one unit each")
	flag.Parse()

	ctx := context.Background()
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	productID := "drill-" + uuid.NewString()
	err := drill(ctx, bootstrap.Engine, productID, *stockFlag, *buyersFlag)
	if err == nil && bootstrap.Audit != nil {
		err = checkAudit(ctx, bootstrap, productID)
	}
	if shutdownErr := bootstrap.Shutdown(ctx); shutdownErr != nil {
		slog.Error("Shutdown failed", slog.Any("error", shutdownErr))
	}
	if err != nil {
		slog.Error("❌ Drill failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("🎉 Drill passed!")
}

func drill(ctx context.Context, eng *inventory.Engine, productID string, stock int64, buyers int) error {
	slog.Info("🚀 Starting no-oversell drill",
		slog.String("product", productID),
		slog.Int64("stock", stock),
		slog.Int("buyers", buyers))

	// STEP 1: seed
	if _, err := eng.UpsertStock(ctx, productID, "drill-seller", domain.StockUpdate{Quantity: stock}); err != nil {
		return fmt.Errorf("seed stock: %w", err)
	}

	// STEP 2: race
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		granted  []string
		short    atomic.Int64
		conflict atomic.Int64
	)
	start := time.Now()
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := eng.Reserve(ctx, productID, 1, fmt.Sprintf("cart-%d", i), "")
			switch {
			case err == nil:
				mu.Lock()
				granted = append(granted, res.ID)
				mu.Unlock()
			case domain.IsInsufficientStock(err):
				short.Add(1)
			case domain.IsTransientConflict(err):
				conflict.Add(1)
			default:
				slog.Error("Unexpected reserve error", slog.Any("error", err))
			}
		}(i)
	}
	wg.Wait()
	slog.Info("STEP 2 done",
		slog.Int("granted", len(granted)),
		slog.Int64("insufficient", short.Load()),
		slog.Int64("transient_conflict", conflict.Load()),
		slog.Duration("elapsed", time.Since(start)))

	rec, err := eng.GetStock(ctx, productID)
	if err != nil {
		return fmt.Errorf("read stock: %w", err)
	}
	if int64(len(granted)) > stock || rec.ReservedQuantity != int64(len(granted)) {
		return fmt.Errorf("oversell: granted=%d reserved=%d stock=%d", len(granted), rec.ReservedQuantity, stock)
	}
	slog.Info("✅ No oversell", slog.Int64("reserved", rec.ReservedQuantity))

	// STEP 3: double release
	for _, id := range granted {
		wg.Add(2)
		for k := 0; k < 2; k++ {
			go func(id string) {
				defer wg.Done()
				if err := eng.Release(ctx, id); err != nil {
					slog.Error("Release failed", slog.String("reservation", id), slog.Any("error", err))
				}
			}(id)
		}
	}
	wg.Wait()

	rec, err = eng.GetStock(ctx, productID)
	if err != nil {
		return fmt.Errorf("read stock: %w", err)
	}
	if rec.ReservedQuantity != 0 || rec.Available() != stock {
		return fmt.Errorf("release: reserved=%d available=%d", rec.ReservedQuantity, rec.Available())
	}
	slog.Info("✅ Every hold returned exactly once", slog.Int64("available", rec.Available()))
	return nil
}

// checkAudit replays the drill product's audit trail and compares it with
// the store.
func checkAudit(ctx context.Context, b *app.Bootstrap, productID string) error {
	res, err := replay.NewReplayer(b.Audit).Run(ctx, productID)
	if err != nil {
		return err
	}
	if len(res.Violations) > 0 {
		return fmt.Errorf("audit violations: %v", res.Violations)
	}
	mismatches, err := res.Verify(ctx, b.Store)
	if err != nil {
		return err
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("audit does not match store: %v", mismatches)
	}
	slog.Info("✅ Audit trail matches store", slog.Int("events", res.Events))
	return nil
}
