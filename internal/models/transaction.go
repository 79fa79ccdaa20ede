package models

import (
	"fmt"
	"strings"
	"time"
)

// TransactionKind is the kind of money movement a transaction records
type TransactionKind string

const (
	KindDeposit     TransactionKind = "deposit"
	KindWithdrawal  TransactionKind = "withdrawal"
	KindTransferOut TransactionKind = "transfer_out"
	KindTransferIn  TransactionKind = "transfer_in"
)

// IsDebit reports whether the kind removes money from its account
func (k TransactionKind) IsDebit() bool {
	return k == KindWithdrawal || k == KindTransferOut
}

// Outcome is the terminal result recorded for a transaction
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeRejected  Outcome = "rejected"
)

// LogPosition is the position of an entry in the transaction log
type LogPosition int64

// Transaction is an immutable audit record of one attempted operation (or one transfer leg)
type Transaction struct {
	ID             string          `json:"id"`
	Kind           TransactionKind `json:"kind"`
	AccountID      string          `json:"account_id"`
	CounterpartyID string          `json:"counterparty_id,omitempty"`
	CorrelationID  string          `json:"correlation_id"`
	Amount         int64           `json:"amount"`
	Fee            int64           `json:"fee,omitempty"`
	Outcome        Outcome         `json:"outcome"`
	Reason         string          `json:"reason,omitempty"`
	Flagged        bool            `json:"flagged"`
	FraudReasons   []string        `json:"fraud_reasons,omitempty"`
	Memo           string          `json:"memo,omitempty"`
	ReversalOf     string          `json:"reversal_of,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Position       LogPosition     `json:"position"`
	Signature      string          `json:"signature,omitempty"`
}

// Committed reports whether the transaction was applied
func (t *Transaction) Committed() bool {
	return t.Outcome == OutcomeCommitted
}

// Canonical returns the byte form covered by the audit signature
func (t *Transaction) Canonical() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%s|%d|%d|%s|%s|%t|%s|%s|%s|%d",
		t.ID, t.Kind, t.AccountID, t.CounterpartyID, t.CorrelationID, t.Amount, t.Fee,
		t.Outcome, t.Reason, t.Flagged, strings.Join(t.FraudReasons, ";"), t.Memo,
		t.ReversalOf, t.Timestamp.UnixNano()))
}
