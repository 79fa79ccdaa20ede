package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/Dan9191/ledger-service/internal/ledger"
	"github.com/Dan9191/ledger-service/internal/models"
)

const accountColumns = `id, owner_id, holder_name, type, balance, overdraft_limit, status, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	var created, updated int64
	err := row.Scan(&a.ID, &a.OwnerID, &a.HolderName, &a.Type, &a.Balance, &a.OverdraftLimit,
		&a.Status, &a.Version, &created, &updated)
	if err != nil {
		return nil, err
	}
	a.CreatedAt, a.UpdatedAt = fromNanos(created), fromNanos(updated)
	return &a, nil
}

// Get returns the account with the given id
func (r *Repository) Get(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", id, models.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// CompareAndUpdateBalance sets the balance to next only if it still equals
// expected and the account is active
func (r *Repository) CompareAndUpdateBalance(ctx context.Context, id string, expected, next int64) error {
	query := `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND balance = $4 AND status = 'active'`
	res, err := r.db.ExecContext(ctx, query, next, nanos(time.Now()), id, expected)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if n == 1 {
		return nil
	}

	// nothing matched; find out which condition failed
	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != models.AccountActive {
		return fmt.Errorf("account %s is %s: %w", id, a.Status, models.ErrAccountInactive)
	}
	return fmt.Errorf("account %s: %w", id, models.ErrConflict)
}

func (r *Repository) nextAccountID(ctx context.Context) (string, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `UPDATE counters SET value = value + 1 WHERE name = $1 RETURNING value`, "account").Scan(&n)
	if err != nil {
		return "", fmt.Errorf("failed to allocate account id: %w", err)
	}
	return strconv.FormatInt(n, 10), nil
}

// Create stores a new account, assigning the next free numeric id when none is set
func (r *Repository) Create(ctx context.Context, account *models.Account) error {
	generated := account.ID == ""
	if account.Status == "" {
		account.Status = models.AccountActive
	}
	now := time.Now().UTC()
	account.CreatedAt, account.UpdatedAt, account.Version = now, now, 1

	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for attempt := 0; ; attempt++ {
		if generated {
			id, err := r.nextAccountID(ctx)
			if err != nil {
				return err
			}
			account.ID = id
		}
		_, err := r.db.ExecContext(ctx, query, account.ID, account.OwnerID, account.HolderName, account.Type,
			account.Balance, account.OverdraftLimit, account.Status, account.Version, nanos(now), nanos(now))
		if err == nil {
			r.log.Infof("Account %s created (%s)", account.ID, account.Type)
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("failed to create account: %w", err)
		}
		// an explicit id collided with a generated one; skip past it
		if !generated || attempt >= 10 {
			return fmt.Errorf("account %s: %w", account.ID, models.ErrAccountExists)
		}
	}
}

// List returns all accounts ordered by id
func (r *Repository) List(ctx context.Context) ([]models.Account, error) {
	return r.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

// ListByOwner returns the accounts of one user
func (r *Repository) ListByOwner(ctx context.Context, ownerID int64) ([]models.Account, error) {
	return r.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY id`, ownerID)
}

func (r *Repository) queryAccounts(ctx context.Context, query string, args ...any) ([]models.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// SetStatus moves an account through its lifecycle
func (r *Repository) SetStatus(ctx context.Context, id string, status models.AccountStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		current models.AccountStatus
		balance int64
	)
	err = tx.QueryRowContext(ctx, `SELECT status, balance FROM accounts WHERE id = $1`, id).Scan(&current, &balance)
	if err == sql.ErrNoRows {
		return fmt.Errorf("account %s: %w", id, models.ErrAccountNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}
	if err := ledger.CheckTransition(current, status); err != nil {
		return err
	}
	if err := ledger.CheckClosable(id, balance, status); err != nil {
		return err
	}
	query := `UPDATE accounts SET status = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND status = $4`
	if status == models.AccountClosed {
		// a credit committed since the read must keep the account open
		query += ` AND balance = 0`
	}
	res, err := tx.ExecContext(ctx, query, status, nanos(time.Now()), id, current)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1`, id).Scan(&balance); err == nil {
			if err := ledger.CheckClosable(id, balance, status); err != nil {
				return err
			}
		}
		return fmt.Errorf("account %s: %w", id, models.ErrConflict)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status change: %w", err)
	}
	r.log.Infof("Account %s status %s -> %s", id, current, status)
	return nil
}
