package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Dan9191/ledger-service/internal/ledger"
	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Dan9191/ledger-service/internal/repository"
	"github.com/Dan9191/ledger-service/internal/service"
)

type errorResponse struct {
	Error  string         `json:"error"`
	Reason string         `json:"reason,omitempty"`
	Result *ledger.Result `json:"result,omitempty"`
}

var statusByError = []struct {
	err    error
	status int
}{
	{service.ErrInvalidInput, http.StatusBadRequest},
	{models.ErrInvalidAmount, http.StatusBadRequest},
	{models.ErrSameAccount, http.StatusBadRequest},
	{models.ErrInvalidAccountType, http.StatusBadRequest},
	{models.ErrInvalidRequestID, http.StatusBadRequest},
	{service.ErrInvalidCredentials, http.StatusUnauthorized},
	{service.ErrForbidden, http.StatusForbidden},
	{models.ErrAccountNotFound, http.StatusNotFound},
	{models.ErrTransactionNotFound, http.StatusNotFound},
	{repository.ErrUserExists, http.StatusConflict},
	{models.ErrAccountExists, http.StatusConflict},
	{models.ErrRequestInFlight, http.StatusConflict},
	{models.ErrNotReversible, http.StatusConflict},
	{models.ErrInvalidStatus, http.StatusConflict},
	{models.ErrConflict, http.StatusConflict},
	{models.ErrDuplicateTransaction, http.StatusConflict},
	{models.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{models.ErrBalanceOverflow, http.StatusUnprocessableEntity},
	{models.ErrAccountInactive, http.StatusUnprocessableEntity},
	{models.ErrFraudFlagged, http.StatusUnprocessableEntity},
	{models.ErrTransferAborted, http.StatusUnprocessableEntity},
	{models.ErrCanceled, http.StatusRequestTimeout},
	{models.ErrContentionExceeded, http.StatusServiceUnavailable},
	{models.ErrLogUnavailable, http.StatusServiceUnavailable},
	{service.ErrUnavailable, http.StatusServiceUnavailable},
}

// StatusFor maps a domain error to an HTTP status
func StatusFor(err error) int {
	for _, s := range statusByError {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	resp := errorResponse{Error: err.Error()}
	if code == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		resp.Error = "internal error"
	}
	writeJSON(w, code, resp)
}

// writeResult answers a ledger operation. Rejections carry the logged result.
func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, code int, res *ledger.Result, err error) {
	if err == nil {
		writeJSON(w, code, res)
		return
	}
	if res == nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, StatusFor(err), errorResponse{Error: err.Error(), Reason: res.Reason, Result: res})
}
