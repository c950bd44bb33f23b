package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/ledgerpay/internal/domain"
	"github.com/punchamoorthee/ledgerpay/internal/index"
	"github.com/punchamoorthee/ledgerpay/internal/ledger"
	"github.com/punchamoorthee/ledgerpay/internal/orders"
	"github.com/punchamoorthee/ledgerpay/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerpay_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerpay_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	ledger  *ledger.Service
	orders  *orders.Service
	index   *index.Service
	timeout time.Duration
	log     *slog.Logger
}

func NewHandler(l *ledger.Service, o *orders.Service, idx *index.Service, timeout time.Duration, log *slog.Logger) *Handler {
	return &Handler{ledger: l, orders: o, index: idx, timeout: timeout, log: log.With("component", "api")}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/payments/account"))
	defer timer.ObserveDuration()

	op, body, ok := h.mutationOp(w, r, "POST", "/payments/account")
	if !ok {
		return
	}
	if err := ensureEmptyBody(body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "POST", "/payments/account")
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	resp, replay, err := h.ledger.CreateAccount(ctx, op)
	if err != nil {
		h.respondMapped(w, err, "POST", "/payments/account")
		return
	}
	if replay != nil {
		writeReplay(w, replay, "POST", "/payments/account")
		return
	}
	respondJSON(w, http.StatusCreated, resp, "POST", "/payments/account")
}

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/payments/account/topup"))
	defer timer.ObserveDuration()

	op, body, ok := h.mutationOp(w, r, "POST", "/payments/account/topup")
	if !ok {
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeStrict(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/payments/account/topup")
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	resp, replay, err := h.ledger.TopUp(ctx, op, req.Amount)
	if err != nil {
		h.respondMapped(w, err, "POST", "/payments/account/topup")
		return
	}
	if replay != nil {
		writeReplay(w, replay, "POST", "/payments/account/topup")
		return
	}
	respondJSON(w, http.StatusOK, resp, "POST", "/payments/account/topup")
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/payments/account/balance"))
	defer timer.ObserveDuration()

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	resp, err := h.ledger.GetBalance(ctx, userID(r))
	if err != nil {
		h.respondMapped(w, err, "GET", "/payments/account/balance")
		return
	}
	respondJSON(w, http.StatusOK, resp, "GET", "/payments/account/balance")
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/orders"))
	defer timer.ObserveDuration()

	op, body, ok := h.mutationOp(w, r, "POST", "/orders")
	if !ok {
		return
	}

	var req struct {
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
	}
	if err := decodeStrict(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/orders")
		return
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	resp, replay, err := h.orders.CreateOrder(ctx, op, req.Amount, req.Description)
	if err != nil {
		h.respondMapped(w, err, "POST", "/orders")
		return
	}
	if replay != nil {
		writeReplay(w, replay, "POST", "/orders")
		return
	}
	respondJSON(w, http.StatusCreated, resp, "POST", "/orders")
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/orders/{order_id}"))
	defer timer.ObserveDuration()

	orderID := mux.Vars(r)["order_id"]

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	resp, err := h.orders.GetOrder(ctx, userID(r), orderID)
	if err != nil {
		h.respondMapped(w, err, "GET", "/orders/{order_id}")
		return
	}
	respondJSON(w, http.StatusOK, resp, "GET", "/orders/{order_id}")
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/orders"))
	defer timer.ObserveDuration()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", "GET", "/orders")
			return
		}
		limit = n
	}

	ctx, cancel := h.withTimeout(r)
	defer cancel()

	resp, err := h.index.ListOrders(ctx, userID(r), limit, r.URL.Query().Get("page_token"))
	if err != nil {
		h.respondMapped(w, err, "GET", "/orders")
		return
	}
	respondJSON(w, http.StatusOK, resp, "GET", "/orders")
}

// mutationOp reads the raw body once, hashes it, and builds the idempotency
// scope for a mutating request. The hash pins the key to this exact payload.
func (h *Handler) mutationOp(w http.ResponseWriter, r *http.Request, method, endpoint string) (store.Op, []byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Stream read error", method, endpoint)
		return store.Op{}, nil, false
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	hash := sha256.Sum256(body)
	return store.Op{
		UserID:      userID(r),
		Key:         r.Header.Get("Idempotency-Key"),
		RequestHash: hex.EncodeToString(hash[:]),
	}, body, true
}

func (h *Handler) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *Handler) respondMapped(w http.ResponseWriter, err error, method, endpoint string) {
	code, msg := statusFor(err)
	if code == http.StatusInternalServerError {
		h.log.Error("request failed", "method", method, "endpoint", endpoint, "err", err)
	}
	respondError(w, code, msg, method, endpoint)
}

// statusFor maps the error taxonomy to HTTP exactly once, at this boundary.
// Insufficient funds is 402 and non-replay duplicate account creation is 409;
// both are stable, documented choices.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidDescription),
		errors.Is(err, domain.ErrInvalidPageToken):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrAccountExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired, err.Error()
	case errors.Is(err, domain.ErrIdempotencyMismatch):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrIdempotencyInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request timed out"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-Id"))
}

func decodeStrict(body []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// ensureEmptyBody accepts an absent body or an empty JSON object, matching
// the account-creation contract, and rejects anything else.
func ensureEmptyBody(body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return errors.New("request body must be empty")
	}
	if len(payload) > 0 {
		return errors.New("request body must be empty")
	}
	return nil
}

// writeReplay serves a stored response verbatim so every retry observes
// bytes identical to the first.
func writeReplay(w http.ResponseWriter, rec *domain.IdempotencyRecord, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(rec.ResponseStatus)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rec.ResponseStatus)
	w.Write(rec.ResponseBody)
}

func respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	body, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

func respondError(w http.ResponseWriter, code int, message string, method, endpoint string) {
	respondJSON(w, code, map[string]string{"error": message}, method, endpoint)
}
