package report

import (
	"context"
	"testing"
	"time"

	"github.com/Dan9191/ledger-service/internal/ledger"
	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	store := ledger.NewMemoryAccountStore()
	txlog := ledger.NewMemoryLog()
	engine := ledger.NewEngine(store, txlog, nil, logger)

	require.NoError(t, store.Create(ctx, &models.Account{ID: "1001", Type: models.AccountBusiness}))
	require.NoError(t, store.Create(ctx, &models.Account{ID: "1002", Type: models.AccountSavings}))

	_, err := engine.Deposit(ctx, ledger.Request{AccountID: "1001", Amount: 200000})
	require.NoError(t, err)
	_, err = engine.Withdraw(ctx, ledger.Request{AccountID: "1001", Amount: 1000})
	require.NoError(t, err)
	_, err = engine.Transfer(ctx, ledger.TransferRequest{FromID: "1001", ToID: "1002", Amount: 3000})
	require.NoError(t, err)
	_, err = engine.Transfer(ctx, ledger.TransferRequest{FromID: "1002", ToID: "1001", Amount: 500})
	require.NoError(t, err)
	_, _ = engine.Withdraw(ctx, ledger.Request{AccountID: "1001", Amount: 10000000})

	sum, err := Summarize(ctx, txlog, "1001", Period{})
	require.NoError(t, err)
	assert.Equal(t, &models.AccountSummary{
		AccountID:         "1001",
		TotalDeposits:     200000,
		TotalWithdrawals:  1000,
		TotalTransfersOut: 3000,
		TotalTransfersIn:  500,
		TotalFees:         100,
		NetFlow:           200000 - 1000 - 3000 + 500 - 100,
		Committed:         4,
		Rejected:          1,
		Flagged:           1,
	}, sum)

	acct, _ := store.Get(ctx, "1001")
	assert.Equal(t, acct.Balance, sum.NetFlow, "net flow of a fresh account equals its balance")

	future, err := Summarize(ctx, txlog, "1001", Period{From: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Zero(t, future.Committed)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	txlog := ledger.NewMemoryLog()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		_, err := txlog.Append(ctx, &models.Transaction{ID: id, AccountID: "1001", Timestamp: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}

	all, err := History(ctx, txlog, "1001", Period{}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	window, err := History(ctx, txlog, "1001", Period{From: base.Add(time.Hour), To: base.Add(3 * time.Hour)}, 0)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "b", window[0].ID)
	assert.Equal(t, "c", window[1].ID)

	limited, err := History(ctx, txlog, "1001", Period{}, 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)
}
