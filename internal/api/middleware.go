package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// RequireUserID rejects any request that does not carry a non-blank
// X-User-Id header. Every route under the API prefix is user scoped.
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("X-User-Id")) == "" {
			respondError(w, http.StatusBadRequest, "X-User-Id header is required", r.Method, r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireIdempotencyKey rejects mutating requests without a non-blank
// Idempotency-Key header. Reads pass through untouched.
func RequireIdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.TrimSpace(r.Header.Get("Idempotency-Key")) == "" {
			respondError(w, http.StatusBadRequest, "Idempotency-Key header is required", r.Method, r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
