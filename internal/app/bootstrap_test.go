package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"inventory_go/internal/domain"
	"inventory_go/internal/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *infra.Config {
	cfg := infra.DefaultConfig()
	cfg.Server.PprofAddr = ""
	cfg.Logging.Level = "warn"
	cfg.Store.SnapshotDir = filepath.Join(t.TempDir(), "snapshots")
	return cfg
}

func TestMemorySnapshotSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	b := NewBootstrap()
	require.NoError(t, b.InitializeWith(ctx, cfg))
	runCtx, cancel := context.WithCancel(ctx)
	require.NoError(t, b.Start(runCtx))

	threshold := int64(3)
	_, err := b.Engine.UpsertStock(ctx, "P1", "S1", domain.StockUpdate{Quantity: 10, LowStockThreshold: &threshold})
	require.NoError(t, err)
	res, err := b.Engine.Reserve(ctx, "P1", 8, "cart1", "")
	require.NoError(t, err)

	cancel()
	require.NoError(t, b.Shutdown(ctx))

	b2 := NewBootstrap()
	require.NoError(t, b2.InitializeWith(ctx, cfg))
	defer b2.Shutdown(ctx)

	rec, err := b2.Engine.GetStock(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.Quantity)
	assert.Equal(t, int64(8), rec.ReservedQuantity)

	got, err := b2.Engine.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "cart1", got.CartID)

	alerts, err := b2.Engine.ListAlerts(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, alerts, 1, "alerts are recomputed after restore")

	require.NoError(t, b2.Engine.Release(ctx, res.ID))
	n, err := b2.Engine.GetAvailableQuantity(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestSQLiteBackendWithAudit(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Store.Backend = infra.BackendSQLite
	cfg.Store.SQLitePath = filepath.Join(dir, "stock.db")
	cfg.Audit.Enabled = true
	cfg.Audit.Path = filepath.Join(dir, "audit.db")
	ctx := context.Background()

	b := NewBootstrap()
	require.NoError(t, b.InitializeWith(ctx, cfg))

	// a second process on the same file is refused
	require.Error(t, NewBootstrap().InitializeWith(ctx, cfg))

	_, err := b.Engine.UpsertStock(ctx, "P1", "S1", domain.StockUpdate{Quantity: 4})
	require.NoError(t, err)
	_, err = b.Engine.Reserve(ctx, "P1", 1, "cart1", "")
	require.NoError(t, err)

	events, err := b.Audit.LoadEvents(ctx, "P1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	srv := httptest.NewServer(b.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, b.Shutdown(ctx))
}

func TestInitializeRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "etcd"
	assert.Error(t, NewBootstrap().InitializeWith(context.Background(), cfg))
}
