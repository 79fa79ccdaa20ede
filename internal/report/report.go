// Package report aggregates the transaction log per account
package report

import (
	"context"
	"time"

	"github.com/Dan9191/ledger-service/internal/ledger"
	"github.com/Dan9191/ledger-service/internal/models"
)

// Period bounds a report; zero values are open ends
type Period struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t is in [From, To)
func (p Period) Contains(t time.Time) bool {
	if !p.From.IsZero() && t.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && !t.Before(p.To) {
		return false
	}
	return true
}

// Summarize folds the account's log entries within period into totals in one pass
func Summarize(ctx context.Context, log ledger.TransactionLog, accountID string, period Period) (*models.AccountSummary, error) {
	sum := &models.AccountSummary{AccountID: accountID}
	for tx, err := range log.QueryByAccount(ctx, accountID) {
		if err != nil {
			return nil, err
		}
		if !period.Contains(tx.Timestamp) {
			continue
		}
		sum.Add(tx)
	}
	return sum, nil
}

// History returns the account's entries within period, oldest first
func History(ctx context.Context, log ledger.TransactionLog, accountID string, period Period, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	for tx, err := range log.QueryByAccount(ctx, accountID) {
		if err != nil {
			return nil, err
		}
		if !period.Contains(tx.Timestamp) {
			continue
		}
		out = append(out, tx)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
