package ledger

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/Dan9191/ledger-service/internal/models"
)

// TransactionLog is the append-only audit trail. Append returns only after the
// entry is recorded; entries are never changed or removed.
type TransactionLog interface {
	Append(ctx context.Context, tx *models.Transaction) (models.LogPosition, error)
	// AppendLegs records both legs of a transfer as one unit
	AppendLegs(ctx context.Context, debit, credit *models.Transaction) error
	Get(ctx context.Context, id string) (*models.Transaction, error)
	// QueryByAccount yields the account's entries by ascending timestamp.
	// Every range over the returned sequence reads the log afresh.
	QueryByAccount(ctx context.Context, accountID string) iter.Seq2[models.Transaction, error]
}

// MemoryLog is an in-process TransactionLog
type MemoryLog struct {
	mu        sync.RWMutex
	entries   []models.Transaction
	byID      map[string]int
	byAccount map[string][]int
}

// NewMemoryLog creates an empty log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{byID: make(map[string]int), byAccount: make(map[string][]int)}
}

// Append records tx and sets its position
func (l *MemoryLog) Append(_ context.Context, tx *models.Transaction) (models.LogPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.byID[tx.ID]; dup {
		return 0, fmt.Errorf("transaction %s: %w", tx.ID, models.ErrDuplicateTransaction)
	}
	l.insert(tx)
	return tx.Position, nil
}

// AppendLegs records both transfer legs under one lock
func (l *MemoryLog) AppendLegs(_ context.Context, debit, credit *models.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, tx := range []*models.Transaction{debit, credit} {
		if _, dup := l.byID[tx.ID]; dup {
			return fmt.Errorf("transaction %s: %w", tx.ID, models.ErrDuplicateTransaction)
		}
	}
	if debit.ID == credit.ID {
		return fmt.Errorf("transaction %s: %w", debit.ID, models.ErrDuplicateTransaction)
	}
	l.insert(debit)
	l.insert(credit)
	return nil
}

// insert must be called with l.mu held. The per-account index stays sorted by
// timestamp even when a writer with an older timestamp arrives late.
func (l *MemoryLog) insert(tx *models.Transaction) {
	tx.Position = models.LogPosition(len(l.entries) + 1)
	idx := len(l.entries)
	l.entries = append(l.entries, *tx)
	l.byID[tx.ID] = idx

	list := l.byAccount[tx.AccountID]
	at := sort.Search(len(list), func(i int) bool {
		return l.entries[list[i]].Timestamp.After(tx.Timestamp)
	})
	list = append(list, 0)
	copy(list[at+1:], list[at:])
	list[at] = idx
	l.byAccount[tx.AccountID] = list
}

// Get returns the entry with the given id
func (l *MemoryLog) Get(_ context.Context, id string) (*models.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.byID[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, models.ErrTransactionNotFound)
	}
	cp := l.entries[idx]
	return &cp, nil
}

// QueryByAccount yields a snapshot of the account's entries taken when ranging starts
func (l *MemoryLog) QueryByAccount(ctx context.Context, accountID string) iter.Seq2[models.Transaction, error] {
	return func(yield func(models.Transaction, error) bool) {
		l.mu.RLock()
		list := l.byAccount[accountID]
		snapshot := make([]models.Transaction, len(list))
		for i, idx := range list {
			snapshot[i] = l.entries[idx]
		}
		l.mu.RUnlock()

		for _, tx := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(models.Transaction{}, err)
				return
			}
			if !yield(tx, nil) {
				return
			}
		}
	}
}

// Len returns the number of entries
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
