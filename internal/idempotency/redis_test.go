package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/Dan9191/ledger-service/internal/ledger"
	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDeduplicator(t *testing.T, ttl time.Duration) (*RedisDeduplicator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDeduplicator(client, ttl), mr
}

func TestRedisDeduplicatorClaimRelease(t *testing.T) {
	ctx := context.Background()
	d, mr := newDeduplicator(t, time.Minute)
	require.NoError(t, d.Ping(ctx))

	ok, err := d.Claim(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists(keyPrefix+"req-1"))
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"req-1"))

	ok, err = d.Claim(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Release(ctx, "req-1"))
	ok, err = d.Claim(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisDeduplicatorExpires(t *testing.T) {
	ctx := context.Background()
	d, mr := newDeduplicator(t, time.Second)

	ok, _ := d.Claim(ctx, "req-1")
	require.True(t, ok)
	mr.FastForward(2 * time.Second)
	ok, err := d.Claim(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisDeduplicatorUnavailable(t *testing.T) {
	d, mr := newDeduplicator(t, 0)
	assert.Equal(t, DefaultTTL, d.ttl)
	mr.Close()

	_, err := d.Claim(context.Background(), "req-1")
	require.Error(t, err)
}

func TestRedisDeduplicatorWithEngine(t *testing.T) {
	ctx := context.Background()
	d, _ := newDeduplicator(t, time.Minute)
	logger, _ := test.NewNullLogger()
	store := ledger.NewMemoryAccountStore()
	require.NoError(t, store.Create(ctx, &models.Account{ID: "1001", Type: models.AccountSavings}))
	engine := ledger.NewEngine(store, ledger.NewMemoryLog(), nil, logger, ledger.WithDeduplicator(d))

	_, err := engine.Deposit(ctx, ledger.Request{ID: "dep", AccountID: "1001", Amount: 100})
	require.NoError(t, err)
	res, err := engine.Deposit(ctx, ledger.Request{ID: "dep", AccountID: "1001", Amount: 100})
	require.NoError(t, err)
	assert.True(t, res.Replayed)

	acct, _ := store.Get(ctx, "1001")
	assert.Equal(t, int64(100), acct.Balance)
}
