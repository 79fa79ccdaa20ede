package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Dan9191/ledger-service/internal/ledger"
	"github.com/Dan9191/ledger-service/internal/middleware"
	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Dan9191/ledger-service/internal/report"
	"github.com/Dan9191/ledger-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

type Handler struct {
	svc    *service.Service
	log    *logrus.Logger
	checks map[string]HealthCheck
}

func NewHandler(svc *service.Service, log *logrus.Logger, checks map[string]HealthCheck) *Handler {
	return &Handler{svc: svc, log: log, checks: checks}
}

// requestID prefers the body field over the Idempotency-Key header
func requestID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get("Idempotency-Key")
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return id, ok
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required,max=64"`
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8"`
	}
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	user, err := h.svc.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Health reports the state of every registered dependency
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	code := http.StatusOK
	status := map[string]string{"status": "ok"}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, status)
}

// KeyRate returns the central bank key rate
func (h *Handler) KeyRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.svc.KeyRate(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key_rate": rate.String()})
}

// CreateAccount handles account creation
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req service.OpenAccountRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	account, err := h.svc.OpenAccount(r.Context(), userID, req)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// GetAccount returns an account with its balance
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	account, err := h.svc.GetAccount(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

type movementRequest struct {
	Amount    int64  `json:"amount"`
	Memo      string `json:"memo" validate:"max=256"`
	RequestID string `json:"request_id" validate:"max=128"`
}

// Deposit credits an account
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.svc.Deposit)
}

// Withdraw debits an account
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.svc.Withdraw)
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request,
	op func(context.Context, int64, ledger.Request) (*ledger.Result, error)) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req movementRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	res, err := op(r.Context(), userID, ledger.Request{
		ID:        requestID(r, req.RequestID),
		AccountID: mux.Vars(r)["id"],
		Amount:    req.Amount,
		Memo:      req.Memo,
	})
	h.writeResult(w, r, http.StatusOK, res, err)
}

// Transfer moves money between accounts
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		FromID    string `json:"from_id" validate:"required"`
		ToID      string `json:"to_id" validate:"required"`
		Amount    int64  `json:"amount"`
		Memo      string `json:"memo" validate:"max=256"`
		RequestID string `json:"request_id" validate:"max=128"`
	}
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	res, err := h.svc.Transfer(r.Context(), userID, ledger.TransferRequest{
		ID:     requestID(r, req.RequestID),
		FromID: req.FromID,
		ToID:   req.ToID,
		Amount: req.Amount,
		Memo:   req.Memo,
	})
	h.writeResult(w, r, http.StatusOK, res, err)
}

// Reverse posts the opposite of a committed transaction
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Memo      string `json:"memo" validate:"max=256"`
		RequestID string `json:"request_id" validate:"max=128"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.writeErr(w, r, err)
			return
		}
	}
	res, err := h.svc.Reverse(r.Context(), userID, ledger.ReverseRequest{
		ID:            requestID(r, req.RequestID),
		TransactionID: mux.Vars(r)["id"],
		Memo:          req.Memo,
	})
	h.writeResult(w, r, http.StatusOK, res, err)
}

// SetStatus freezes, unfreezes or closes an account
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status models.AccountStatus `json:"status" validate:"required,oneof=active frozen closed"`
	}
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	account, err := h.svc.SetStatus(r.Context(), userID, mux.Vars(r)["id"], req.Status)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func parsePeriod(r *http.Request) (report.Period, error) {
	var p report.Period
	q := r.URL.Query()
	for name, dst := range map[string]*time.Time{"from": &p.From, "to": &p.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return p, fmt.Errorf("%w: %s must be RFC3339", service.ErrInvalidInput, name)
		}
		*dst = t
	}
	return p, nil
}

// Transactions lists an account's log entries, oldest first
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	period, err := parsePeriod(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			h.writeErr(w, r, fmt.Errorf("%w: limit must be a non-negative integer", service.ErrInvalidInput))
			return
		}
	}
	txs, err := h.svc.History(r.Context(), userID, mux.Vars(r)["id"], period, limit)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// Report returns the account summary
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	period, err := parsePeriod(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	sum, err := h.svc.Report(r.Context(), userID, mux.Vars(r)["id"], period)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
