package interest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dan9191/ledger-service/internal/ledger"
	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keyRate struct {
	rate decimal.Decimal
	err  error
}

func (k keyRate) GetKeyRate(context.Context) (decimal.Decimal, error) { return k.rate, k.err }

func TestMonthly(t *testing.T) {
	tests := []struct {
		balance int64
		rate    string
		want    int64
	}{
		{120000, "0.04", 400},
		{100000, "0.02", 167},  // 166.67
		{15, "0.04", 0},        // 0.05
		{4500, "0.04", 15},     // 15.0
		{375, "0.16", 5},       // 5.0
		{2250, "0.04", 8},      // 7.5 rounds to even
		{2550, "0.04", 8},      // 8.5 rounds to even
		{500000, "0", 0},
	}
	for _, tt := range tests {
		got := Monthly(tt.balance, decimal.RequireFromString(tt.rate))
		assert.Equal(t, tt.want, got, "%d at %s", tt.balance, tt.rate)
	}
}

func TestIndexedRate(t *testing.T) {
	logger, _ := test.NewNullLogger()
	savings := models.Account{Type: models.AccountSavings}
	checking := models.Account{Type: models.AccountChecking}

	r := NewIndexedRate(keyRate{rate: decimal.RequireFromString("16.5")}, 5.0, logger)
	rate, err := r.AnnualRate(context.Background(), savings)
	require.NoError(t, err)
	assert.Equal(t, "0.115", rate.String())

	rate, err = r.AnnualRate(context.Background(), checking)
	require.NoError(t, err)
	assert.True(t, rate.IsZero())

	low := NewIndexedRate(keyRate{rate: decimal.RequireFromString("3")}, 5.0, logger)
	rate, _ = low.AnnualRate(context.Background(), savings)
	assert.True(t, rate.IsZero())

	down := NewIndexedRate(keyRate{err: errors.New("timeout")}, 5.0, logger)
	rate, err = down.AnnualRate(context.Background(), savings)
	require.NoError(t, err)
	assert.Equal(t, "0.04", rate.String())
}

func TestAccruerRunIsIdempotentPerMonth(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	store := ledger.NewMemoryAccountStore()
	txlog := ledger.NewMemoryLog()
	engine := ledger.NewEngine(store, txlog, nil, logger)

	require.NoError(t, store.Create(ctx, &models.Account{ID: "1001", Type: models.AccountSavings, Balance: 120000}))
	require.NoError(t, store.Create(ctx, &models.Account{ID: "1002", Type: models.AccountChecking, Balance: 120000, OverdraftLimit: 50000}))
	require.NoError(t, store.Create(ctx, &models.Account{ID: "1003", Type: models.AccountSavings, Balance: 0}))
	require.NoError(t, store.Create(ctx, &models.Account{ID: "1004", Type: models.AccountSavings, Balance: 500, Status: models.AccountFrozen}))

	a := NewAccruer(store, engine, nil, logger)
	a.now = func() time.Time { return time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC) }

	sum, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Posted)
	assert.Equal(t, int64(400), sum.Total)
	assert.Equal(t, 3, sum.Skipped)

	acct, err := store.Get(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, int64(120400), acct.Balance)

	tx, err := txlog.Get(ctx, RequestID("1001", a.now()))
	require.NoError(t, err)
	assert.Equal(t, Memo, tx.Memo)

	sum, err = a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Posted)
	assert.Equal(t, 1, sum.Replayed)
	acct, _ = store.Get(ctx, "1001")
	assert.Equal(t, int64(120400), acct.Balance)

	a.now = func() time.Time { return time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC) }
	sum, err = a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Posted)
}

func TestAccruerStartRejectsBadSchedule(t *testing.T) {
	logger, _ := test.NewNullLogger()
	a := NewAccruer(ledger.NewMemoryAccountStore(), nil, nil, logger)
	require.Error(t, a.Start(context.Background(), "every now and then"))

	require.NoError(t, a.Start(context.Background(), "0 0 1 * *"))
	a.Stop()
}
