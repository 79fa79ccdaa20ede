package ledger

import (
	"fmt"

	"github.com/Dan9191/ledger-service/internal/models"
)

// DefaultFraudThreshold flags amounts strictly above 100,000 minor units
const DefaultFraudThreshold int64 = 100000

// Rule is one fraud check. It must not mutate anything.
type Rule interface {
	Evaluate(accountID string, amount int64, kind models.TransactionKind) (flagged bool, reason string)
}

// RuleFunc adapts a function to a Rule
type RuleFunc func(accountID string, amount int64, kind models.TransactionKind) (bool, string)

// Evaluate calls f
func (f RuleFunc) Evaluate(accountID string, amount int64, kind models.TransactionKind) (bool, string) {
	return f(accountID, amount, kind)
}

// ThresholdRule flags any amount above Limit
type ThresholdRule struct {
	Limit int64
}

// Evaluate flags amount > Limit
func (r ThresholdRule) Evaluate(_ string, amount int64, _ models.TransactionKind) (bool, string) {
	if amount > r.Limit {
		return true, fmt.Sprintf("amount %d exceeds threshold %d", amount, r.Limit)
	}
	return false, ""
}

// KindThresholdRule applies a limit to a single transaction kind
type KindThresholdRule struct {
	Kind  models.TransactionKind
	Limit int64
}

// Evaluate flags amount > Limit for the configured kind only
func (r KindThresholdRule) Evaluate(_ string, amount int64, kind models.TransactionKind) (bool, string) {
	if kind == r.Kind && amount > r.Limit {
		return true, fmt.Sprintf("%s amount %d exceeds threshold %d", kind, amount, r.Limit)
	}
	return false, ""
}

// Assessment is the outcome of evaluating every rule
type Assessment struct {
	Flagged bool
	Reasons []string
}

// FraudPolicy evaluates a set of rules. With block unset, flags are only observed.
type FraudPolicy struct {
	rules []Rule
	block bool
}

// NewFraudPolicy builds a policy from rules
func NewFraudPolicy(block bool, rules ...Rule) *FraudPolicy {
	return &FraudPolicy{rules: rules, block: block}
}

// DefaultFraudPolicy is the observe-only single threshold policy
func DefaultFraudPolicy() *FraudPolicy {
	return NewFraudPolicy(false, ThresholdRule{Limit: DefaultFraudThreshold})
}

// Blocks reports whether flagged operations are rejected
func (p *FraudPolicy) Blocks() bool {
	return p != nil && p.block
}

// Evaluate runs every rule and collects the reasons of those that flag
func (p *FraudPolicy) Evaluate(accountID string, amount int64, kind models.TransactionKind) Assessment {
	var a Assessment
	if p == nil {
		return a
	}
	for _, r := range p.rules {
		if flagged, reason := r.Evaluate(accountID, amount, kind); flagged {
			a.Flagged = true
			a.Reasons = append(a.Reasons, reason)
		}
	}
	return a
}
