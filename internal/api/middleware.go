package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"inventory_go/internal/infra"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	HeaderSellerID = "X-Seller-ID"
	HeaderUserID   = "X-User-ID"
)

type ctxKey int

const sellerKey ctxKey = iota

// requireSeller rejects requests without a seller identity. Authentication
// itself happens upstream; the header is trusted as-is.
func requireSeller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seller := strings.TrimSpace(r.Header.Get(HeaderSellerID))
		if seller == "" {
			writeFail(w, http.StatusUnauthorized, "unauthorized", "missing "+HeaderSellerID+" header", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sellerKey, seller)))
	})
}

func sellerFrom(ctx context.Context) string {
	s, _ := ctx.Value(sellerKey).(string)
	return s
}

// rateLimit answers 429 once a client's bucket is empty. Clients are
// keyed by user id when present, else by remote host.
func rateLimit(limits *infra.KeyedRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limits.Allow(clientKey(r)) {
				writeFail(w, http.StatusTooManyRequests, "rate_limited", "too many reservation attempts", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get(HeaderUserID)); u != "" {
		return "user:" + u
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "HTTP request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
