package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus is the lifecycle state of an account
type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountFrozen AccountStatus = "frozen"
	AccountClosed AccountStatus = "closed"
)

// Valid reports whether s is a known status
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountFrozen, AccountClosed:
		return true
	}
	return false
}

// AccountType selects the policy an account is opened with
type AccountType string

const (
	AccountSavings  AccountType = "savings"
	AccountChecking AccountType = "checking"
	AccountBusiness AccountType = "business"
)

// Policy is the capability set attached to an account type.
// AnnualRate is a fraction (0.04 = 4%), OverdraftLimit and Fee are minor units.
type Policy struct {
	AnnualRate     decimal.Decimal
	OverdraftLimit int64
	Fee            int64
}

var policies = map[AccountType]Policy{
	AccountSavings:  {AnnualRate: decimal.RequireFromString("0.04")},
	AccountChecking: {AnnualRate: decimal.Zero, OverdraftLimit: 50000},
	AccountBusiness: {AnnualRate: decimal.RequireFromString("0.02"), Fee: 50},
}

// PolicyFor returns the policy of an account type
func PolicyFor(t AccountType) (Policy, bool) {
	p, ok := policies[t]
	return p, ok
}

// Account is the latest state of a ledger account.
// Balance is held in minor currency units.
type Account struct {
	ID             string        `json:"id"`
	OwnerID        int64         `json:"owner_id"`
	HolderName     string        `json:"holder_name"`
	Type           AccountType   `json:"type"`
	Balance        int64         `json:"balance"`
	OverdraftLimit int64         `json:"overdraft_limit"`
	Status         AccountStatus `json:"status"`
	Version        int64         `json:"version"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Available is the amount that can still be debited, overdraft included.
// It saturates at math.MaxInt64.
func (a *Account) Available() int64 {
	if a.Balance > math.MaxInt64-a.OverdraftLimit {
		return math.MaxInt64
	}
	return a.Balance + a.OverdraftLimit
}

// DebitTotal returns amount plus fee, false when the sum does not fit in an int64
func DebitTotal(amount, fee int64) (int64, bool) {
	if amount < 0 || fee < 0 || amount > math.MaxInt64-fee {
		return 0, false
	}
	return amount + fee, true
}

// CanDebit reports whether amount plus fee can leave the account without breaching its overdraft
func (a *Account) CanDebit(amount, fee int64) bool {
	total, ok := DebitTotal(amount, fee)
	if !ok {
		return false
	}
	// balance - total + overdraft >= 0, arranged so nothing wraps
	return a.Balance >= total-a.OverdraftLimit
}

// CanCredit reports whether amount can be added without overflowing the balance
func (a *Account) CanCredit(amount int64) bool {
	return amount >= 0 && (a.Balance <= 0 || amount <= math.MaxInt64-a.Balance)
}

// Policy returns the capability set of the account's type
func (a *Account) Policy() Policy {
	p, _ := PolicyFor(a.Type)
	return p
}
