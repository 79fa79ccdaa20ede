package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/ledger-service/internal/models"
)

// ReverseRequest asks for the opposite movement of a committed transaction
type ReverseRequest struct {
	// ID defaults to one derived from the original, so a transaction is reversed at most once
	ID            string
	TransactionID string
	Memo          string
}

// ReversalID is the request id used when a reversal carries no explicit id
func ReversalID(correlationID string) string {
	return "reversal-" + correlationID
}

// Reverse posts the opposite movement of a committed deposit, withdrawal or
// transfer leg. Fees are neither charged nor refunded. A transaction is
// reversed at most once whatever request ids the callers use.
func (e *Engine) Reverse(ctx context.Context, req ReverseRequest) (*Result, error) {
	orig, err := e.txlog.Get(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	if !orig.Committed() || orig.ReversalOf != "" {
		return nil, fmt.Errorf("transaction %s: %w", orig.ID, models.ErrNotReversible)
	}
	id := req.ID
	if id == "" {
		id = ReversalID(orig.CorrelationID)
	}
	if err := checkRequestID(id); err != nil {
		return nil, err
	}
	memo := req.Memo
	if memo == "" {
		memo = "reversal of " + orig.CorrelationID
	}

	var (
		run      func() (*Result, error)
		recorded = id
	)
	switch orig.Kind {
	case models.KindDeposit:
		run = func() (*Result, error) {
			return e.Withdraw(ctx, Request{ID: id, AccountID: orig.AccountID, Amount: orig.Amount, Memo: memo, reversalOf: orig.ID, waiveFee: true})
		}
	case models.KindWithdrawal:
		run = func() (*Result, error) {
			return e.Deposit(ctx, Request{ID: id, AccountID: orig.AccountID, Amount: orig.Amount, Memo: memo, reversalOf: orig.ID, waiveFee: true})
		}
	case models.KindTransferOut, models.KindTransferIn:
		from, to := orig.CounterpartyID, orig.AccountID
		if orig.Kind == models.KindTransferIn {
			from, to = orig.AccountID, orig.CounterpartyID
		}
		recorded = debitLegID(id)
		run = func() (*Result, error) {
			return e.Transfer(ctx, TransferRequest{ID: id, FromID: from, ToID: to, Amount: orig.Amount, Memo: memo, reversalOf: orig.CorrelationID, waiveFee: true})
		}
	default:
		return nil, fmt.Errorf("transaction %s kind %s: %w", orig.ID, orig.Kind, models.ErrNotReversible)
	}

	// a retry of a recorded reversal replays it
	if _, err := e.txlog.Get(ctx, recorded); err == nil {
		return run()
	} else if !errors.Is(err, models.ErrTransactionNotFound) {
		return nil, fmt.Errorf("failed to load transaction %s: %w", recorded, err)
	}

	done, err := e.reversed(ctx, orig)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, fmt.Errorf("transaction %s already reversed: %w", orig.ID, models.ErrNotReversible)
	}

	guard := "reversing:" + orig.CorrelationID
	claimed, err := e.dedup.Claim(ctx, guard)
	if err != nil {
		return nil, fmt.Errorf("failed to claim reversal of %s: %w", orig.ID, err)
	}
	if !claimed {
		return nil, fmt.Errorf("reversal of %s: %w", orig.ID, models.ErrRequestInFlight)
	}
	res, err := run()
	if res == nil || res.Outcome != models.OutcomeCommitted {
		if rerr := e.dedup.Release(context.WithoutCancel(ctx), guard); rerr != nil {
			e.log.WithError(rerr).WithField("transaction_id", orig.ID).Warn("failed to release reversal guard")
		}
	}
	return res, err
}

// reversed reports whether a committed reversal of orig is in the log
func (e *Engine) reversed(ctx context.Context, orig *models.Transaction) (bool, error) {
	for tx, err := range e.txlog.QueryByAccount(ctx, orig.AccountID) {
		if err != nil {
			return false, fmt.Errorf("failed to scan account %s: %w", orig.AccountID, err)
		}
		if tx.Committed() && (tx.ReversalOf == orig.ID || tx.ReversalOf == orig.CorrelationID) {
			return true, nil
		}
	}
	return false, nil
}
