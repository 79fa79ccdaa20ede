package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Dan9191/ledger-service/internal/config"
	"github.com/Dan9191/ledger-service/internal/ledger"
	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/Dan9191/ledger-service/internal/report"
	"github.com/Dan9191/ledger-service/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRate struct{ err error }

func (f fixedRate) GetKeyRate(context.Context) (decimal.Decimal, error) {
	return decimal.RequireFromString("16.5"), f.err
}

func newTestService(t *testing.T, rates KeyRateSource) *Service {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := ledger.NewMemoryAccountStore()
	txlog := ledger.NewMemoryLog()
	engine := ledger.NewEngine(store, txlog, nil, logger)
	return NewService(repository.NewMemoryUsers(), store, txlog, engine, rates, logger, &config.Config{JWTSecret: "secret"})
}

func register(t *testing.T, s *Service, name string) int64 {
	t.Helper()
	u, err := s.Register(context.Background(), name, name+"@example.com", "pa55word")
	require.NoError(t, err)
	return u.ID
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, nil)

	u, err := s.Register(ctx, "ann", "ann@example.com", "pa55word")
	require.NoError(t, err)
	assert.NotEqual(t, "pa55word", u.PasswordHash)

	_, err = s.Register(ctx, "ann", "ann@example.com", "other")
	require.ErrorIs(t, err, repository.ErrUserExists)
	_, err = s.Register(ctx, "bob", "not-an-email", "x")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.Register(ctx, "", "bob@example.com", "x")
	require.ErrorIs(t, err, ErrInvalidInput)

	token, err := s.Login(ctx, "ann@example.com", "pa55word")
	require.NoError(t, err)
	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) { return []byte("secret"), nil })
	require.NoError(t, err)
	assert.Equal(t, "1", claims.Subject)

	_, err = s.Login(ctx, "ann@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(ctx, "nobody@example.com", "pa55word")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestOpenAccount(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, nil)
	ann := register(t, s, "ann")

	acct, err := s.OpenAccount(ctx, ann, OpenAccountRequest{Type: models.AccountChecking, InitialDeposit: 5000})
	require.NoError(t, err)
	assert.Equal(t, "1001", acct.ID)
	assert.Equal(t, "ann", acct.HolderName)
	assert.Equal(t, int64(50000), acct.OverdraftLimit)
	assert.Equal(t, int64(5000), acct.Balance)

	def, err := s.OpenAccount(ctx, ann, OpenAccountRequest{HolderName: "Ann Smith"})
	require.NoError(t, err)
	assert.Equal(t, models.AccountSavings, def.Type)
	assert.Equal(t, "Ann Smith", def.HolderName)

	_, err = s.OpenAccount(ctx, ann, OpenAccountRequest{Type: "premium"})
	require.ErrorIs(t, err, models.ErrInvalidAccountType)
	_, err = s.OpenAccount(ctx, ann, OpenAccountRequest{InitialDeposit: -1})
	require.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestOperationsRequireOwnership(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, nil)
	ann, bob := register(t, s, "ann"), register(t, s, "bob")

	annAcct, err := s.OpenAccount(ctx, ann, OpenAccountRequest{InitialDeposit: 5000})
	require.NoError(t, err)
	bobAcct, err := s.OpenAccount(ctx, bob, OpenAccountRequest{})
	require.NoError(t, err)

	_, err = s.GetAccount(ctx, bob, annAcct.ID)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = s.Withdraw(ctx, bob, ledger.Request{AccountID: annAcct.ID, Amount: 1})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = s.Transfer(ctx, bob, ledger.TransferRequest{FromID: annAcct.ID, ToID: bobAcct.ID, Amount: 1})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = s.History(ctx, bob, annAcct.ID, report.Period{}, 0)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = s.SetStatus(ctx, bob, annAcct.ID, models.AccountFrozen)
	require.ErrorIs(t, err, ErrForbidden)

	res, err := s.Transfer(ctx, ann, ledger.TransferRequest{FromID: annAcct.ID, ToID: bobAcct.ID, Amount: 1000})
	require.NoError(t, err)
	_, err = s.Reverse(ctx, bob, ledger.ReverseRequest{TransactionID: res.Transactions[0].ID})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = s.Reverse(ctx, bob, ledger.ReverseRequest{TransactionID: res.Transactions[1].ID})
	require.NoError(t, err, "the receiving side may send money back")

	got, err := s.GetAccount(ctx, ann, annAcct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.Balance)

	_, err = s.GetAccount(ctx, ann, "9999")
	require.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, nil)
	ann := register(t, s, "ann")
	acct, err := s.OpenAccount(ctx, ann, OpenAccountRequest{InitialDeposit: 100})
	require.NoError(t, err)

	frozen, err := s.SetStatus(ctx, ann, acct.ID, models.AccountFrozen)
	require.NoError(t, err)
	assert.Equal(t, models.AccountFrozen, frozen.Status)
	_, err = s.Deposit(ctx, ann, ledger.Request{AccountID: acct.ID, Amount: 1})
	require.ErrorIs(t, err, models.ErrAccountInactive)

	_, err = s.SetStatus(ctx, ann, acct.ID, models.AccountActive)
	require.NoError(t, err)
	_, err = s.SetStatus(ctx, ann, acct.ID, models.AccountClosed)
	require.ErrorIs(t, err, models.ErrInvalidStatus, "non-empty account cannot close")

	_, err = s.Withdraw(ctx, ann, ledger.Request{AccountID: acct.ID, Amount: 100})
	require.NoError(t, err)
	closed, err := s.SetStatus(ctx, ann, acct.ID, models.AccountClosed)
	require.NoError(t, err)
	assert.Equal(t, models.AccountClosed, closed.Status)
}

// creditingStore lands a credit between the caller's read and the status change
type creditingStore struct {
	*ledger.MemoryAccountStore
	amount int64
}

func (s *creditingStore) SetStatus(ctx context.Context, id string, status models.AccountStatus) error {
	acct, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.CompareAndUpdateBalance(ctx, id, acct.Balance, acct.Balance+s.amount); err != nil {
		return err
	}
	return s.MemoryAccountStore.SetStatus(ctx, id, status)
}

func TestCloseRacingCreditKeepsAccountOpen(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	store := &creditingStore{MemoryAccountStore: ledger.NewMemoryAccountStore(), amount: 700}
	txlog := ledger.NewMemoryLog()
	engine := ledger.NewEngine(store, txlog, nil, logger)
	s := NewService(repository.NewMemoryUsers(), store, txlog, engine, nil, logger, &config.Config{JWTSecret: "secret"})

	ann := register(t, s, "ann")
	acct, err := s.OpenAccount(ctx, ann, OpenAccountRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(0), acct.Balance)

	_, err = s.SetStatus(ctx, ann, acct.ID, models.AccountClosed)
	require.ErrorIs(t, err, models.ErrInvalidStatus)

	got, err := s.GetAccount(ctx, ann, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccountActive, got.Status)
	assert.Equal(t, int64(700), got.Balance)

	_, err = s.Withdraw(ctx, ann, ledger.Request{AccountID: acct.ID, Amount: 700})
	require.NoError(t, err, "the credited funds stay reachable")
}

func TestHistoryAndReport(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, nil)
	ann := register(t, s, "ann")
	acct, err := s.OpenAccount(ctx, ann, OpenAccountRequest{InitialDeposit: 5000})
	require.NoError(t, err)
	_, err = s.Withdraw(ctx, ann, ledger.Request{AccountID: acct.ID, Amount: 2000})
	require.NoError(t, err)

	hist, err := s.History(ctx, ann, acct.ID, report.Period{}, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, models.KindDeposit, hist[0].Kind)
	assert.Equal(t, models.KindWithdrawal, hist[1].Kind)

	sum, err := s.Report(ctx, ann, acct.ID, report.Period{})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), sum.NetFlow)
}

func TestKeyRateAndRecipient(t *testing.T) {
	ctx := context.Background()
	_, err := newTestService(t, nil).KeyRate(ctx)
	require.ErrorIs(t, err, ErrUnavailable)

	s := newTestService(t, fixedRate{})
	rate, err := s.KeyRate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "16.5", rate.String())

	_, err = newTestService(t, fixedRate{err: errors.New("down")}).KeyRate(ctx)
	require.Error(t, err)

	ann := register(t, s, "ann")
	acct, err := s.OpenAccount(ctx, ann, OpenAccountRequest{})
	require.NoError(t, err)
	email, name, err := s.Recipient(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", email)
	assert.Equal(t, "ann", name)
}
