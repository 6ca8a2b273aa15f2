package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"inventory_go/internal/csvmap"
	"inventory_go/internal/domain"
	"inventory_go/internal/erp"
	"inventory_go/internal/inventory"

	"github.com/go-chi/chi/v5"
)

const maxImportBytes = 10 << 20

// Handler serves the inventory HTTP surface.
type Handler struct {
	engine   *inventory.Engine
	mapper   *csvmap.Mapper
	importer *csvmap.Importer
	erp      *erp.GuardedAdapter
	hub      *AlertHub
	logger   *slog.Logger
}

type stockRequest struct {
	Quantity          *int64   `json:"quantity"`
	LowStockThreshold *int64   `json:"lowStockThreshold"`
	PoolType          *string  `json:"poolType"`
	Countries         []string `json:"countries"`
}

type reserveRequest struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	CartID    string `json:"cartId"`
}

type availableResponse struct {
	ProductID         string `json:"productId"`
	AvailableQuantity int64  `json:"availableQuantity"`
}

type pushResponse struct {
	Provider  string `json:"provider"`
	ProductID string `json:"productId"`
	Available int64  `json:"available"`
	Accepted  bool   `json:"accepted"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		writeFail(w, http.StatusServiceUnavailable, "store_unavailable", err.Error(), nil)
		return
	}
	providers := make(map[string]string)
	for name, st := range h.erp.Status() {
		providers[name] = st.State.String()
	}
	writeData(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"streamClients": h.hub.Clients(),
		"erp":           providers,
	})
}

func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.GetStock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (h *Handler) GetAvailable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.engine.GetAvailableQuantity(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, availableResponse{ProductID: id, AvailableQuantity: n})
}

func (h *Handler) UpsertStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Quantity == nil {
		writeError(w, r, &domain.ValidationError{Field: "quantity", Reason: "required"})
		return
	}
	upd := domain.StockUpdate{
		Quantity:          *req.Quantity,
		LowStockThreshold: req.LowStockThreshold,
		Countries:         req.Countries,
	}
	if req.PoolType != nil {
		pt, err := domain.ParsePoolType(*req.PoolType)
		if err != nil {
			writeError(w, r, err)
			return
		}
		upd.PoolType = &pt
	}

	rec, err := h.engine.UpsertStock(r.Context(), chi.URLParam(r, "id"), sellerFrom(r.Context()), upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	res, err := h.engine.Reserve(r.Context(), req.ProductID, req.Quantity, req.CartID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// Release is idempotent: unknown and already settled ids succeed.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.Release(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"reservationId": id})
}

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.engine.ListAlerts(r.Context(), sellerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, alerts)
}

// MapCSV accepts {"headers": [...]}. Any non-string header rejects the
// whole request.
func (h *Handler) MapCSV(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Headers []any `json:"headers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Headers == nil {
		writeError(w, r, &domain.ValidationError{Field: "headers", Reason: "required"})
		return
	}
	headers := make([]string, len(req.Headers))
	for i, v := range req.Headers {
		s, ok := v.(string)
		if !ok {
			writeError(w, r, &domain.ValidationError{Field: "headers", Reason: fmt.Sprintf("element %d is not a string", i)})
			return
		}
		headers[i] = s
	}
	writeData(w, http.StatusOK, h.mapper.DetectMapping(headers))
}

func (h *Handler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, r, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	rep, err := h.importer.Import(r.Context(), bytes.NewReader(body), sellerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, rep)
}

func (h *Handler) SyncPull(w http.ResponseWriter, r *http.Request) {
	res, err := h.erp.Pull(r.Context(), chi.URLParam(r, "provider"), sellerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// SyncPush sends the product's current available quantity. Only the
// owning seller may push; other sellers see not found.
func (h *Handler) SyncPush(w http.ResponseWriter, r *http.Request) {
	provider, id := chi.URLParam(r, "provider"), chi.URLParam(r, "id")
	rec, err := h.engine.GetStock(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rec.SellerID != sellerFrom(r.Context()) {
		writeError(w, r, &domain.NotFoundError{Resource: "stock", ID: id})
		return
	}
	ok, err := h.erp.Push(r.Context(), provider, id, rec.Available())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, pushResponse{Provider: provider, ProductID: id, Available: rec.Available(), Accepted: ok})
}

func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	writeFail(w, http.StatusNotImplemented, "not_implemented", "demand forecasting is not available", nil)
}
