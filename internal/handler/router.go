package handler

import (
	"net/http"

	"github.com/Dan9191/ledger-service/internal/config"
	"github.com/Dan9191/ledger-service/internal/middleware"
	"github.com/gorilla/mux"
)

// NewRouter binds every endpoint; all but the public ones require a bearer token
func NewRouter(h *Handler, cfg *config.Config) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(h.log))

	// Public routes
	r.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/key-rate", h.KeyRate).Methods(http.MethodGet)

	// Protected routes
	auth := r.PathPrefix("/").Subrouter()
	auth.Use(middleware.AuthMiddleware(cfg))
	auth.HandleFunc("/accounts", h.CreateAccount).Methods(http.MethodPost)
	auth.HandleFunc("/accounts/{id}", h.GetAccount).Methods(http.MethodGet)
	auth.HandleFunc("/accounts/{id}/deposit", h.Deposit).Methods(http.MethodPost)
	auth.HandleFunc("/accounts/{id}/withdraw", h.Withdraw).Methods(http.MethodPost)
	auth.HandleFunc("/accounts/{id}/transactions", h.Transactions).Methods(http.MethodGet)
	auth.HandleFunc("/accounts/{id}/report", h.Report).Methods(http.MethodGet)
	auth.HandleFunc("/accounts/{id}/status", h.SetStatus).Methods(http.MethodPost)
	auth.HandleFunc("/transfers", h.Transfer).Methods(http.MethodPost)
	auth.HandleFunc("/transactions/{id}/reverse", h.Reverse).Methods(http.MethodPost)

	return r
}
