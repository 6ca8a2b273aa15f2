package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"inventory_go/internal/domain"
	"inventory_go/internal/erp"
	"inventory_go/internal/infra"
)

// Response is the envelope of every JSON answer.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Response encode failed", slog.Any("error", err))
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Success: true, Data: data})
}

func writeFail(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, Response{Error: &ErrorBody{Code: code, Message: message, Details: details}})
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound     *domain.NotFoundError
		invalid      *domain.ValidationError
		insufficient *domain.InsufficientStockError
		conflict     *domain.TransientConflictError
	)
	switch {
	case errors.As(err, &insufficient):
		writeFail(w, http.StatusConflict, "insufficient_stock", err.Error(), map[string]any{
			"productId": insufficient.ProductID,
			"available": insufficient.Available,
			"requested": insufficient.Requested,
		})
	case errors.As(err, &conflict):
		writeFail(w, http.StatusConflict, "conflict_retry", err.Error(), map[string]any{
			"productId": conflict.ProductID,
			"attempts":  conflict.Attempts,
		})
	case errors.As(err, &notFound):
		writeFail(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &invalid):
		var details map[string]any
		if invalid.Field != "" {
			details = map[string]any{"field": invalid.Field}
		}
		writeFail(w, http.StatusBadRequest, "validation_failed", err.Error(), details)
	case errors.Is(err, erp.ErrRateLimited):
		writeFail(w, http.StatusTooManyRequests, "rate_limited", err.Error(), nil)
	case errors.Is(err, infra.ErrCircuitOpen):
		writeFail(w, http.StatusServiceUnavailable, "provider_unavailable", err.Error(), nil)
	default:
		slog.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		writeFail(w, http.StatusInternalServerError, "internal_error", "internal server error", nil)
	}
}
