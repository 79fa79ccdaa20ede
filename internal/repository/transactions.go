package repository

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"

	"github.com/Dan9191/ledger-service/internal/models"
)

const transactionColumns = `id, kind, account_id, counterparty_id, correlation_id, amount, fee, outcome, reason,
	flagged, fraud_reasons, memo, reversal_of, ts, signature`

const insertTransaction = `
	INSERT INTO transactions (` + transactionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	RETURNING seq`

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertTx(ctx context.Context, db execer, t *models.Transaction) error {
	flagged := 0
	if t.Flagged {
		flagged = 1
	}
	var seq int64
	err := db.QueryRowContext(ctx, insertTransaction,
		t.ID, t.Kind, t.AccountID, t.CounterpartyID, t.CorrelationID, t.Amount, t.Fee, t.Outcome, t.Reason,
		flagged, strings.Join(t.FraudReasons, ";"), t.Memo, t.ReversalOf, nanos(t.Timestamp), t.Signature,
	).Scan(&seq)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s: %w", t.ID, models.ErrDuplicateTransaction)
	}
	if err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", t.ID, err)
	}
	t.Position = models.LogPosition(seq)
	return nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var flagged int
	var reasons string
	var ts int64
	err := row.Scan(&t.Position, &t.ID, &t.Kind, &t.AccountID, &t.CounterpartyID, &t.CorrelationID, &t.Amount, &t.Fee,
		&t.Outcome, &t.Reason, &flagged, &reasons, &t.Memo, &t.ReversalOf, &ts, &t.Signature)
	if err != nil {
		return nil, err
	}
	t.Flagged = flagged != 0
	if reasons != "" {
		t.FraudReasons = strings.Split(reasons, ";")
	}
	t.Timestamp = fromNanos(ts)
	return &t, nil
}

// TransactionLog is the SQL transaction log. It shares the repository's connection.
type TransactionLog struct {
	db *sql.DB
}

// TransactionLog returns the log stored next to the accounts
func (r *Repository) TransactionLog() *TransactionLog {
	return &TransactionLog{db: r.db}
}

// Append records tx and sets its position
func (r *TransactionLog) Append(ctx context.Context, tx *models.Transaction) (models.LogPosition, error) {
	if err := insertTx(ctx, r.db, tx); err != nil {
		return 0, err
	}
	return tx.Position, nil
}

// AppendLegs records both transfer legs in one database transaction
func (r *TransactionLog) AppendLegs(ctx context.Context, debit, credit *models.Transaction) error {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	if err := insertTx(ctx, dbtx, debit); err != nil {
		return err
	}
	if err := insertTx(ctx, dbtx, credit); err != nil {
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer legs: %w", err)
	}
	return nil
}

// Get returns the log entry with the given id
func (r *TransactionLog) Get(ctx context.Context, id string) (*models.Transaction, error) {
	query := `SELECT seq, ` + transactionColumns + ` FROM transactions WHERE id = $1`
	t, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %s: %w", id, models.ErrTransactionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// QueryByAccount streams the account's entries by timestamp. Each range runs a new query.
func (r *TransactionLog) QueryByAccount(ctx context.Context, accountID string) iter.Seq2[models.Transaction, error] {
	return func(yield func(models.Transaction, error) bool) {
		query := `SELECT seq, ` + transactionColumns + ` FROM transactions WHERE account_id = $1 ORDER BY ts, seq`
		rows, err := r.db.QueryContext(ctx, query, accountID)
		if err != nil {
			yield(models.Transaction{}, fmt.Errorf("failed to query transactions: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTransaction(rows)
			if err != nil {
				yield(models.Transaction{}, fmt.Errorf("failed to scan transaction: %w", err))
				return
			}
			if !yield(*t, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.Transaction{}, err)
		}
	}
}
