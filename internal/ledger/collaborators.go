package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
)

// NotificationSink receives domain events. The engine ignores its errors, so
// implementations handed to the engine must not block.
type NotificationSink interface {
	Notify(ctx context.Context, accountID, message string) error
}

type nopSink struct{}

func (nopSink) Notify(context.Context, string, string) error { return nil }

// Deduplicator remembers request ids so a replayed request is not applied twice
type Deduplicator interface {
	// Claim returns true when key was not seen before
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key; used when a request ended without a log entry
	Release(ctx context.Context, key string) error
}

// MemoryDeduplicator is the in-process Deduplicator
type MemoryDeduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryDeduplicator creates an empty deduplicator
func NewMemoryDeduplicator() *MemoryDeduplicator {
	return &MemoryDeduplicator{seen: make(map[string]struct{})}
}

// Claim marks key as seen
func (d *MemoryDeduplicator) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}

// Release forgets key
func (d *MemoryDeduplicator) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

// Signer seals a transaction before it is appended
type Signer interface {
	Sign(tx *models.Transaction) string
}

// clock hands out strictly increasing timestamps so entries of one account
// never share or reverse a timestamp.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}
