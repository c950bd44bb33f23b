package api

import (
	"log/slog"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *Handler, basePath string, log *slog.Logger) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods("GET")

	api := r.PathPrefix(basePath).Subrouter()
	api.Use(RequestLogger(log))
	api.Use(RequireUserID)
	api.Use(RequireIdempotencyKey)

	api.HandleFunc("/payments/account", h.CreateAccount).Methods("POST")
	api.HandleFunc("/payments/account/topup", h.TopUp).Methods("POST")
	api.HandleFunc("/payments/account/balance", h.GetBalance).Methods("GET")

	api.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	api.HandleFunc("/orders", h.ListOrders).Methods("GET")
	api.HandleFunc("/orders/{order_id}", h.GetOrder).Methods("GET")

	return r
}
