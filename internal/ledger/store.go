package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
)

// AccountStore is the balance side of the ledger. CompareAndUpdateBalance is the
// only path that changes a balance.
type AccountStore interface {
	Get(ctx context.Context, id string) (*models.Account, error)
	CompareAndUpdateBalance(ctx context.Context, id string, expected, next int64) error
}

// AccountRepository adds the registry and lifecycle operations to an AccountStore
type AccountRepository interface {
	AccountStore
	Create(ctx context.Context, account *models.Account) error
	List(ctx context.Context) ([]models.Account, error)
	SetStatus(ctx context.Context, id string, status models.AccountStatus) error
}

// Exists reports whether id resolves to an account. Lookup only.
func Exists(ctx context.Context, store AccountStore, id string) (bool, error) {
	_, err := store.Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, models.ErrAccountNotFound):
		return false, nil
	}
	return false, err
}

// CheckTransition validates a status change. Closed is terminal.
func CheckTransition(from, to models.AccountStatus) error {
	if !to.Valid() || from == models.AccountClosed {
		return fmt.Errorf("%s -> %s: %w", from, to, models.ErrInvalidStatus)
	}
	return nil
}

// CheckClosable refuses to close an account that still holds money
func CheckClosable(id string, balance int64, to models.AccountStatus) error {
	if to == models.AccountClosed && balance != 0 {
		return fmt.Errorf("account %s has balance %d: %w", id, balance, models.ErrInvalidStatus)
	}
	return nil
}

type accountRecord struct {
	mu      sync.Mutex
	account models.Account
}

// MemoryAccountStore keeps accounts in memory with one lock per account.
// The map lock only guards the index; balance updates never take it for writing.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*accountRecord
	nextID   int64
}

// NewMemoryAccountStore creates an empty store. Generated ids start at 1001.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[string]*accountRecord), nextID: 1000}
}

func (s *MemoryAccountStore) record(id string) (*accountRecord, error) {
	s.mu.RLock()
	rec, ok := s.accounts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, models.ErrAccountNotFound)
	}
	return rec, nil
}

// Get returns a copy of the account
func (s *MemoryAccountStore) Get(_ context.Context, id string) (*models.Account, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	cp := rec.account
	return &cp, nil
}

// CompareAndUpdateBalance sets the balance to next only if it still equals expected
func (s *MemoryAccountStore) CompareAndUpdateBalance(_ context.Context, id string, expected, next int64) error {
	rec, err := s.record(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.account.Status != models.AccountActive {
		return fmt.Errorf("account %s is %s: %w", id, rec.account.Status, models.ErrAccountInactive)
	}
	if rec.account.Balance != expected {
		return fmt.Errorf("account %s: %w", id, models.ErrConflict)
	}
	rec.account.Balance = next
	rec.account.Version++
	rec.account.UpdatedAt = time.Now()
	return nil
}

// Create stores a new account, assigning an id when none is set
func (s *MemoryAccountStore) Create(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account.ID == "" {
		for {
			s.nextID++
			id := strconv.FormatInt(s.nextID, 10)
			if _, taken := s.accounts[id]; !taken {
				account.ID = id
				break
			}
		}
	}
	if _, ok := s.accounts[account.ID]; ok {
		return fmt.Errorf("account %s: %w", account.ID, models.ErrAccountExists)
	}
	now := time.Now()
	account.CreatedAt, account.UpdatedAt = now, now
	if account.Status == "" {
		account.Status = models.AccountActive
	}
	account.Version = 1
	s.accounts[account.ID] = &accountRecord{account: *account}
	return nil
}

// List returns copies of all accounts ordered by id
func (s *MemoryAccountStore) List(_ context.Context) ([]models.Account, error) {
	s.mu.RLock()
	recs := make([]*accountRecord, 0, len(s.accounts))
	for _, rec := range s.accounts {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	out := make([]models.Account, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.account)
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetStatus moves an account through its lifecycle.
// The balance is checked under the account lock, so a close cannot race a credit.
func (s *MemoryAccountStore) SetStatus(_ context.Context, id string, status models.AccountStatus) error {
	rec, err := s.record(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := CheckTransition(rec.account.Status, status); err != nil {
		return err
	}
	if err := CheckClosable(id, rec.account.Balance, status); err != nil {
		return err
	}
	rec.account.Status = status
	rec.account.Version++
	rec.account.UpdatedAt = time.Now()
	return nil
}
