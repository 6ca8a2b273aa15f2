package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"inventory_go/internal/domain"
	"inventory_go/internal/storage"

	"github.com/cucumber/godog"
)

type reservationFeature struct {
	eng     *Engine
	clock   *testClock
	last    *domain.Reservation
	lastErr error
	ok      int
	short   int
}

func (f *reservationFeature) reset() {
	f.clock = newTestClock()
	f.eng = New(storage.NewMemoryStore(), testOptions(f.clock))
	f.last = nil
	f.lastErr = nil
	f.ok, f.short = 0, 0
}

func (f *reservationFeature) anEmptyInventory() error {
	f.reset()
	return nil
}

func (f *reservationFeature) sellerSetsProduct(ctx context.Context, seller, product string, qty, threshold int) error {
	t := int64(threshold)
	_, err := f.eng.UpsertStock(ctx, product, seller, domain.StockUpdate{Quantity: int64(qty), LowStockThreshold: &t})
	return err
}

func (f *reservationFeature) cartReserves(ctx context.Context, cart string, qty int, product string) error {
	res, err := f.eng.Reserve(ctx, product, int64(qty), cart, "")
	f.lastErr = err
	if err == nil {
		f.last = res
	}
	return nil
}

func (f *reservationFeature) theReservationSucceeds() error {
	return f.lastErr
}

func (f *reservationFeature) theLastReservationIsReleased(ctx context.Context) error {
	if f.last == nil {
		return errors.New("no reservation to release")
	}
	return f.eng.Release(ctx, f.last.ID)
}

func (f *reservationFeature) minutesPass(minutes int) error {
	f.clock.Advance(time.Duration(minutes) * time.Minute)
	return nil
}

func (f *reservationFeature) theExpirySweepRuns(ctx context.Context) error {
	_, err := f.eng.NewSweeper(time.Minute, 100).RunOnce(ctx)
	return err
}

func (f *reservationFeature) productHasAvailable(ctx context.Context, product string, want int) error {
	got, err := f.eng.GetAvailableQuantity(ctx, product)
	if err != nil {
		return err
	}
	if got != int64(want) {
		return fmt.Errorf("expected %d available, got %d", want, got)
	}
	return nil
}

func (f *reservationFeature) productHasReserved(ctx context.Context, product string, want int) error {
	rec, err := f.eng.GetStock(ctx, product)
	if err != nil {
		return err
	}
	if rec.ReservedQuantity != int64(want) {
		return fmt.Errorf("expected %d reserved, got %d", want, rec.ReservedQuantity)
	}
	return nil
}

func (f *reservationFeature) sellerHasNoAlerts(ctx context.Context, seller string) error {
	alerts, err := f.eng.ListAlerts(ctx, seller)
	if err != nil {
		return err
	}
	if len(alerts) != 0 {
		return fmt.Errorf("expected no alerts, got %d", len(alerts))
	}
	return nil
}

func (f *reservationFeature) sellerHasAlert(ctx context.Context, seller, product string, available int) error {
	alerts, err := f.eng.ListAlerts(ctx, seller)
	if err != nil {
		return err
	}
	for _, a := range alerts {
		if a.ProductID == product {
			if a.AvailableQuantity != int64(available) {
				return fmt.Errorf("alert shows %d available, want %d", a.AvailableQuantity, available)
			}
			return nil
		}
	}
	return fmt.Errorf("no alert for product %s", product)
}

func (f *reservationFeature) failsWithInsufficientStock(available, requested int) error {
	var e *domain.InsufficientStockError
	if !errors.As(f.lastErr, &e) {
		return fmt.Errorf("expected insufficient stock, got %v", f.lastErr)
	}
	if e.Available != int64(available) || e.Requested != int64(requested) {
		return fmt.Errorf("got available=%d requested=%d", e.Available, e.Requested)
	}
	return nil
}

func (f *reservationFeature) failsWithNotFound() error {
	if !domain.IsNotFound(f.lastErr) {
		return fmt.Errorf("expected not found, got %v", f.lastErr)
	}
	return nil
}

func (f *reservationFeature) cartsRaceForProduct(ctx context.Context, carts int, product string) error {
	var mu sync.Mutex
	var wg sync.WaitGroup
	var unexpected error
	for i := 0; i < carts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.eng.Reserve(ctx, product, 1, fmt.Sprintf("cart-%d", i), "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				f.ok++
			case domain.IsInsufficientStock(err):
				f.short++
			default:
				unexpected = err
			}
		}(i)
	}
	wg.Wait()
	return unexpected
}

func (f *reservationFeature) raceOutcome(ok, short int) error {
	if f.ok != ok || f.short != short {
		return fmt.Errorf("got %d successes and %d insufficient, want %d and %d", f.ok, f.short, ok, short)
	}
	return nil
}

func InitializeReservationScenario(ctx *godog.ScenarioContext) {
	f := &reservationFeature{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		f.reset()
		return ctx, nil
	})

	ctx.Step(`^an empty inventory$`, f.anEmptyInventory)
	ctx.Step(`^seller "([^"]*)" sets product "([^"]*)" to (\d+) units with low-stock threshold (\d+)$`, f.sellerSetsProduct)
	ctx.Step(`^cart "([^"]*)" reserves (\d+) units of product "([^"]*)"$`, f.cartReserves)
	ctx.Step(`^the last reservation is released$`, f.theLastReservationIsReleased)
	ctx.Step(`^(\d+) minutes pass$`, f.minutesPass)
	ctx.Step(`^the expiry sweep runs$`, f.theExpirySweepRuns)
	ctx.Step(`^(\d+) carts each reserve 1 unit of product "([^"]*)" at the same time$`, f.cartsRaceForProduct)

	ctx.Step(`^the reservation succeeds$`, f.theReservationSucceeds)
	ctx.Step(`^product "([^"]*)" has (\d+) units available$`, f.productHasAvailable)
	ctx.Step(`^product "([^"]*)" has (\d+) units reserved$`, f.productHasReserved)
	ctx.Step(`^seller "([^"]*)" has no low-stock alerts$`, f.sellerHasNoAlerts)
	ctx.Step(`^seller "([^"]*)" has a low-stock alert for product "([^"]*)" with (\d+) units available$`, f.sellerHasAlert)
	ctx.Step(`^the reservation fails with insufficient stock, (\d+) available and (\d+) requested$`, f.failsWithInsufficientStock)
	ctx.Step(`^the reservation fails with not found$`, f.failsWithNotFound)
	ctx.Step(`^(\d+) reservations succeed and (\d+) fail with insufficient stock$`, f.raceOutcome)
}

func TestReservationFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeReservationScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../../features/reservation.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
