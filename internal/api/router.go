// Package api exposes the inventory engine over JSON/HTTP.
package api

import (
	"log/slog"
	"net/http"

	"inventory_go/internal/csvmap"
	"inventory_go/internal/erp"
	"inventory_go/internal/infra"
	"inventory_go/internal/inventory"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the collaborators of the router.
type Deps struct {
	Engine      *inventory.Engine
	Mapper      *csvmap.Mapper
	ERP         *erp.GuardedAdapter
	Hub         *AlertHub
	ReserveRate *infra.KeyedRateLimiter
	Logger      *slog.Logger
}

// NewRouter builds the HTTP handler. The hub must be running for the
// alert stream to deliver anything.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Mapper == nil {
		d.Mapper = csvmap.NewMapper(nil)
	}
	if d.ERP == nil {
		d.ERP = erp.NewGuardedAdapter(erp.GuardedConfig{})
		d.ERP.Register("stub", erp.NewStubAdapter("stub"))
	}
	if d.Hub == nil {
		d.Hub = NewAlertHub(d.Engine.Alerts)
	}
	if d.ReserveRate == nil {
		d.ReserveRate = infra.NewKeyedRateLimiter(100, 200)
	}

	h := &Handler{
		engine:   d.Engine,
		mapper:   d.Mapper,
		importer: csvmap.NewImporter(d.Mapper, d.Engine),
		erp:      d.ERP,
		hub:      d.Hub,
		logger:   d.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)

	r.Route("/inventory", func(r chi.Router) {
		r.Get("/product/{id}", h.GetStock)
		r.Get("/product/{id}/available", h.GetAvailable)

		r.With(rateLimit(d.ReserveRate)).Post("/reserve", h.Reserve)
		r.Get("/reserve/{id}", h.GetReservation)
		r.Delete("/reserve/{id}", h.Release)

		r.Group(func(r chi.Router) {
			r.Use(requireSeller)

			r.Put("/product/{id}", h.UpsertStock)
			r.Post("/product/{id}/forecast", h.Forecast)

			r.Get("/alerts", h.ListAlerts)
			r.Get("/alerts/stream", d.Hub.ServeWS)

			r.Post("/csv/map", h.MapCSV)
			r.Post("/csv/import", h.ImportCSV)

			r.Post("/sync/{provider}", h.SyncPull)
			r.Post("/sync/{provider}/push/{id}", h.SyncPush)
		})
	})

	return r
}
