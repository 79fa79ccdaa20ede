// Package interest credits monthly interest to active accounts
package interest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/ledger-service/internal/ledger"
	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Memo marks interest deposits in the log
const Memo = "interest"

var (
	twelve  = decimal.NewFromInt(12)
	hundred = decimal.NewFromInt(100)
)

// RateProvider returns the annual rate (a fraction) applied to an account
type RateProvider interface {
	AnnualRate(ctx context.Context, account models.Account) (decimal.Decimal, error)
}

// PolicyRate applies the rate of the account type
type PolicyRate struct{}

// AnnualRate returns the policy rate
func (PolicyRate) AnnualRate(_ context.Context, account models.Account) (decimal.Decimal, error) {
	return account.Policy().AnnualRate, nil
}

// KeyRateSource returns the central bank key rate in percent
type KeyRateSource interface {
	GetKeyRate(ctx context.Context) (decimal.Decimal, error)
}

// IndexedRate pays the key rate minus a spread to accounts whose type earns
// interest. When the feed is down the policy rate applies.
type IndexedRate struct {
	source KeyRateSource
	spread decimal.Decimal
	log    *logrus.Logger
}

// NewIndexedRate creates a provider paying key rate - spread (both in percent)
func NewIndexedRate(source KeyRateSource, spread float64, log *logrus.Logger) *IndexedRate {
	return &IndexedRate{source: source, spread: decimal.NewFromFloat(spread), log: log}
}

// AnnualRate returns max(key - spread, 0) / 100 for interest bearing accounts
func (r *IndexedRate) AnnualRate(ctx context.Context, account models.Account) (decimal.Decimal, error) {
	base := account.Policy().AnnualRate
	if !base.IsPositive() {
		return decimal.Zero, nil
	}
	key, err := r.source.GetKeyRate(ctx)
	if err != nil {
		r.log.WithError(err).Warn("key rate unavailable, using policy rate")
		return base, nil
	}
	rate := key.Sub(r.spread)
	if rate.IsNegative() {
		return decimal.Zero, nil
	}
	return rate.Div(hundred), nil
}

// Monthly returns one month of interest on balance, rounded half-even to minor units
func Monthly(balance int64, annualRate decimal.Decimal) int64 {
	return decimal.NewFromInt(balance).Mul(annualRate).Div(twelve).RoundBank(0).IntPart()
}

// RequestID makes the accrual of one account idempotent per period
func RequestID(accountID string, period time.Time) string {
	return fmt.Sprintf("interest-%s-%s", accountID, period.Format("2006-01"))
}

// Accounts lists the accounts to accrue
type Accounts interface {
	List(ctx context.Context) ([]models.Account, error)
}

// Depositor posts interest through the ledger
type Depositor interface {
	Deposit(ctx context.Context, req ledger.Request) (*ledger.Result, error)
}

// Summary counts what a run did
type Summary struct {
	Posted   int
	Replayed int
	Skipped  int
	Failed   int
	Total    int64
}

// Accruer runs the monthly accrual
type Accruer struct {
	accounts Accounts
	ledger   Depositor
	rates    RateProvider
	log      *logrus.Logger
	now      func() time.Time
	cron     *cron.Cron
}

// NewAccruer creates an accruer. A nil rates uses the account policies.
func NewAccruer(accounts Accounts, l Depositor, rates RateProvider, log *logrus.Logger) *Accruer {
	if rates == nil {
		rates = PolicyRate{}
	}
	return &Accruer{accounts: accounts, ledger: l, rates: rates, log: log, now: time.Now}
}

// Run credits one month of interest to every active account with a positive balance
func (a *Accruer) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	accounts, err := a.accounts.List(ctx)
	if err != nil {
		return sum, fmt.Errorf("failed to list accounts: %w", err)
	}
	period := a.now()
	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if acct.Status != models.AccountActive || acct.Balance <= 0 {
			sum.Skipped++
			continue
		}
		rate, err := a.rates.AnnualRate(ctx, acct)
		if err != nil {
			a.log.WithError(err).WithField("account_id", acct.ID).Error("failed to get interest rate")
			sum.Failed++
			continue
		}
		amount := Monthly(acct.Balance, rate)
		if amount <= 0 {
			sum.Skipped++
			continue
		}
		res, err := a.ledger.Deposit(ctx, ledger.Request{
			ID:        RequestID(acct.ID, period),
			AccountID: acct.ID,
			Amount:    amount,
			Memo:      Memo,
		})
		switch {
		case err == nil && res.Replayed:
			sum.Replayed++
		case err == nil:
			sum.Posted++
			sum.Total += amount
		case errors.Is(err, models.ErrRequestInFlight):
			sum.Replayed++
		default:
			a.log.WithError(err).WithField("account_id", acct.ID).Error("failed to post interest")
			sum.Failed++
		}
	}
	a.log.WithFields(logrus.Fields{
		"period":   period.Format("2006-01"),
		"posted":   sum.Posted,
		"replayed": sum.Replayed,
		"skipped":  sum.Skipped,
		"failed":   sum.Failed,
		"total":    ledger.FormatAmount(sum.Total),
	}).Info("interest accrual finished")
	return sum, nil
}

// Start schedules Run with a standard five field cron spec
func (a *Accruer) Start(ctx context.Context, spec string) error {
	a.cron = cron.New()
	_, err := a.cron.AddFunc(spec, func() {
		if _, err := a.Run(ctx); err != nil {
			a.log.WithError(err).Error("interest accrual failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid interest schedule %q: %w", spec, err)
	}
	a.cron.Start()
	a.log.Infof("Interest accrual scheduled: %s", spec)
	return nil
}

// Stop halts the schedule and waits for a running accrual
func (a *Accruer) Stop() {
	if a.cron == nil {
		return
	}
	<-a.cron.Stop().Done()
}
