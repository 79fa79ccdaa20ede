package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultMaxRetries bounds the compare-and-update loop of one account update
const DefaultMaxRetries = 5

// compensations get more attempts than regular updates: giving up leaves the books unbalanced
const compensationRetryFactor = 10

// State is a step of the per-operation state machine
type State string

const (
	StateReceived     State = "received"
	StateValidating   State = "validating"
	StateRejected     State = "rejected"
	StateFraudCheck   State = "checking_fraud"
	StateCommitting   State = "committing"
	StateCommitted    State = "committed"
	StateCompensating State = "compensating_rollback"
	StateAborted      State = "aborted"
	StateLogged       State = "logged"
)

// Request describes a single-account operation
type Request struct {
	// ID makes the request idempotent: a replay returns the recorded result
	ID        string
	AccountID string
	Amount    int64
	Memo      string

	reversalOf string
	waiveFee   bool
}

// TransferRequest describes a movement between two accounts
type TransferRequest struct {
	ID     string
	FromID string
	ToID   string
	Amount int64
	Memo   string

	reversalOf string
	waiveFee   bool
}

// Result is what the caller gets back for every logged operation
type Result struct {
	Outcome      models.Outcome       `json:"outcome"`
	Reason       string               `json:"reason,omitempty"`
	Transactions []models.Transaction `json:"transactions"`
	Flagged      bool                 `json:"flagged"`
	FraudReasons []string             `json:"fraud_reasons,omitempty"`
	// Balance is the balance of the debited (or only) account right after commit
	Balance  int64 `json:"balance,omitempty"`
	Replayed bool  `json:"replayed,omitempty"`
}

// Option configures an Engine
type Option func(*Engine)

// WithNotifier sets the sink domain events are sent to
func WithNotifier(n NotificationSink) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithDeduplicator replaces the in-memory request deduplicator
func WithDeduplicator(d Deduplicator) Option {
	return func(e *Engine) { e.dedup = d }
}

// WithSigner seals every entry before it is appended
func WithSigner(s Signer) Option {
	return func(e *Engine) { e.signer = s }
}

// WithMaxRetries overrides the compare-and-update retry bound
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock.now = now }
}

// Engine applies deposits, withdrawals and transfers
type Engine struct {
	accounts   AccountStore
	txlog      TransactionLog
	fraud      *FraudPolicy
	notifier   NotificationSink
	dedup      Deduplicator
	signer     Signer
	log        *logrus.Logger
	clock      *clock
	maxRetries int
	retryDelay time.Duration
}

// NewEngine wires an engine over a store and a log
func NewEngine(accounts AccountStore, txlog TransactionLog, fraud *FraudPolicy, log *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		accounts:   accounts,
		txlog:      txlog,
		fraud:      fraud,
		notifier:   nopSink{},
		dedup:      NewMemoryDeduplicator(),
		log:        log,
		clock:      &clock{now: time.Now},
		maxRetries: DefaultMaxRetries,
		retryDelay: 50 * time.Microsecond,
	}
	if e.fraud == nil {
		e.fraud = DefaultFraudPolicy()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// operation tracks one request through the state machine
type operation struct {
	state  State
	logger *logrus.Entry
}

func (e *Engine) begin(op string, id string) *operation {
	o := &operation{
		state:  StateReceived,
		logger: e.log.WithFields(logrus.Fields{"op": op, "request_id": id}),
	}
	o.logger.Debug("operation received")
	return o
}

func (o *operation) to(s State) {
	o.logger.WithFields(logrus.Fields{"from": o.state, "to": s}).Debug("state transition")
	o.state = s
}

// Deposit credits an account
func (e *Engine) Deposit(ctx context.Context, req Request) (*Result, error) {
	return e.idempotent(ctx, req.ID, []string{req.ID}, func(id string) (*Result, error) {
		return e.single(ctx, models.KindDeposit, id, req)
	})
}

// Withdraw debits an account, charging the fee of its policy
func (e *Engine) Withdraw(ctx context.Context, req Request) (*Result, error) {
	return e.idempotent(ctx, req.ID, []string{req.ID}, func(id string) (*Result, error) {
		return e.single(ctx, models.KindWithdrawal, id, req)
	})
}

// Transfer moves money between two accounts. Both legs apply or neither does;
// a failed credit leg is undone by a compensating credit to the source.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*Result, error) {
	return e.idempotent(ctx, req.ID, []string{debitLegID(req.ID), creditLegID(req.ID)}, func(id string) (*Result, error) {
		return e.transfer(ctx, id, req)
	})
}

func debitLegID(id string) string  { return id + "-out" }
func creditLegID(id string) string { return id + "-in" }

// checkRequestID refuses ids that could collide with a transfer leg id
func checkRequestID(id string) error {
	if strings.HasSuffix(id, "-in") || strings.HasSuffix(id, "-out") {
		return fmt.Errorf("request %s: %w", id, models.ErrInvalidRequestID)
	}
	return nil
}

// idempotent runs fn once per request id. Requests without an id always run.
func (e *Engine) idempotent(ctx context.Context, requestID string, txIDs []string, fn func(id string) (*Result, error)) (*Result, error) {
	if requestID == "" {
		return fn(uuid.New().String())
	}
	if err := checkRequestID(requestID); err != nil {
		return nil, err
	}
	claimed, err := e.dedup.Claim(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim request %s: %w", requestID, err)
	}
	if !claimed {
		return e.replay(ctx, requestID, txIDs)
	}
	res, err := fn(requestID)
	if res == nil {
		// nothing was recorded, so a retry must be able to run again
		if rerr := e.dedup.Release(context.WithoutCancel(ctx), requestID); rerr != nil {
			e.log.WithError(rerr).WithField("request_id", requestID).Warn("failed to release request id")
		}
	}
	return res, err
}

func (e *Engine) replay(ctx context.Context, requestID string, txIDs []string) (*Result, error) {
	res := &Result{Replayed: true}
	for _, id := range txIDs {
		tx, err := e.txlog.Get(ctx, id)
		if errors.Is(err, models.ErrTransactionNotFound) {
			return nil, fmt.Errorf("request %s: %w", requestID, models.ErrRequestInFlight)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load transaction %s: %w", id, err)
		}
		res.Transactions = append(res.Transactions, *tx)
	}
	first := res.Transactions[0]
	res.Outcome, res.Reason = first.Outcome, first.Reason
	res.Flagged, res.FraudReasons = first.Flagged, first.FraudReasons
	e.log.WithField("request_id", requestID).Info("replayed recorded request")
	if !first.Committed() {
		return res, models.ErrorForReason(first.Reason)
	}
	return res, nil
}

func (e *Engine) single(ctx context.Context, kind models.TransactionKind, id string, req Request) (*Result, error) {
	op := e.begin(string(kind), id)
	tx := &models.Transaction{
		ID:            id,
		Kind:          kind,
		AccountID:     req.AccountID,
		CorrelationID: id,
		Amount:        req.Amount,
		Memo:          req.Memo,
		ReversalOf:    req.reversalOf,
	}

	op.to(StateValidating)
	if req.Amount <= 0 {
		return e.reject(ctx, op, models.ErrInvalidAmount, tx)
	}
	acct, err := e.accounts.Get(ctx, req.AccountID)
	if err != nil {
		return e.reject(ctx, op, err, tx)
	}
	if acct.Status != models.AccountActive {
		return e.reject(ctx, op, fmt.Errorf("account %s is %s: %w", acct.ID, acct.Status, models.ErrAccountInactive), tx)
	}
	debit := kind.IsDebit()
	if debit && !req.waiveFee {
		tx.Fee = acct.Policy().Fee
	}
	if debit {
		if _, ok := models.DebitTotal(tx.Amount, tx.Fee); !ok {
			return e.reject(ctx, op, fmt.Errorf("amount %d plus fee %d: %w", tx.Amount, tx.Fee, models.ErrInvalidAmount), tx)
		}
		if !acct.CanDebit(tx.Amount, tx.Fee) {
			return e.reject(ctx, op, fmt.Errorf("account %s available %d: %w", acct.ID, acct.Available(), models.ErrInsufficientFunds), tx)
		}
	} else if !acct.CanCredit(tx.Amount) {
		return e.reject(ctx, op, fmt.Errorf("account %s balance %d: %w", acct.ID, acct.Balance, models.ErrBalanceOverflow), tx)
	}

	op.to(StateFraudCheck)
	if err := e.screen(op, req.AccountID, req.Amount, kind, tx); err != nil {
		return e.reject(ctx, op, err, tx)
	}
	if err := ctx.Err(); err != nil {
		return e.reject(ctx, op, fmt.Errorf("%w: %w", models.ErrCanceled, err), tx)
	}

	// past this point the caller can no longer abandon the operation
	ctx = context.WithoutCancel(ctx)
	op.to(StateCommitting)
	delta := tx.Amount
	if debit {
		delta = -(tx.Amount + tx.Fee)
	}
	balance, err := e.update(ctx, req.AccountID, delta, debit, e.maxRetries)
	if err != nil {
		op.to(StateAborted)
		return e.reject(ctx, op, err, tx)
	}
	op.to(StateCommitted)

	tx.Outcome = models.OutcomeCommitted
	if err := e.appendOne(ctx, tx); err != nil {
		op.to(StateCompensating)
		e.compensate(ctx, op, req.AccountID, -delta)
		op.to(StateAborted)
		return nil, err
	}
	op.to(StateLogged)
	op.logger.WithFields(logrus.Fields{"account_id": req.AccountID, "amount": tx.Amount, "balance": balance}).Info("operation committed")

	e.notify(ctx, req.AccountID, committedMessage(tx))
	return &Result{
		Outcome:      models.OutcomeCommitted,
		Transactions: []models.Transaction{*tx},
		Flagged:      tx.Flagged,
		FraudReasons: tx.FraudReasons,
		Balance:      balance,
	}, nil
}

func (e *Engine) transfer(ctx context.Context, id string, req TransferRequest) (*Result, error) {
	op := e.begin("transfer", id)
	debit := &models.Transaction{
		ID:             debitLegID(id),
		Kind:           models.KindTransferOut,
		AccountID:      req.FromID,
		CounterpartyID: req.ToID,
		CorrelationID:  id,
		Amount:         req.Amount,
		Memo:           req.Memo,
		ReversalOf:     req.reversalOf,
	}
	credit := &models.Transaction{
		ID:             creditLegID(id),
		Kind:           models.KindTransferIn,
		AccountID:      req.ToID,
		CounterpartyID: req.FromID,
		CorrelationID:  id,
		Amount:         req.Amount,
		Memo:           req.Memo,
		ReversalOf:     req.reversalOf,
	}

	op.to(StateValidating)
	if req.Amount <= 0 {
		return e.reject(ctx, op, models.ErrInvalidAmount, debit, credit)
	}
	if req.FromID == req.ToID {
		return e.reject(ctx, op, models.ErrSameAccount, debit, credit)
	}
	from, err := e.accounts.Get(ctx, req.FromID)
	if err != nil {
		return e.reject(ctx, op, err, debit, credit)
	}
	to, err := e.accounts.Get(ctx, req.ToID)
	if err != nil {
		return e.reject(ctx, op, err, debit, credit)
	}
	for _, a := range []*models.Account{from, to} {
		if a.Status != models.AccountActive {
			return e.reject(ctx, op, fmt.Errorf("account %s is %s: %w", a.ID, a.Status, models.ErrAccountInactive), debit, credit)
		}
	}
	if !req.waiveFee {
		debit.Fee = from.Policy().Fee
	}
	if _, ok := models.DebitTotal(debit.Amount, debit.Fee); !ok {
		return e.reject(ctx, op, fmt.Errorf("amount %d plus fee %d: %w", debit.Amount, debit.Fee, models.ErrInvalidAmount), debit, credit)
	}
	if !from.CanDebit(debit.Amount, debit.Fee) {
		return e.reject(ctx, op, fmt.Errorf("account %s available %d: %w", from.ID, from.Available(), models.ErrInsufficientFunds), debit, credit)
	}
	if !to.CanCredit(credit.Amount) {
		return e.reject(ctx, op, fmt.Errorf("account %s balance %d: %w", to.ID, to.Balance, models.ErrBalanceOverflow), debit, credit)
	}

	op.to(StateFraudCheck)
	if err := e.screen(op, req.FromID, req.Amount, models.KindTransferOut, debit, credit); err != nil {
		return e.reject(ctx, op, err, debit, credit)
	}
	if err := ctx.Err(); err != nil {
		return e.reject(ctx, op, fmt.Errorf("%w: %w", models.ErrCanceled, err), debit, credit)
	}

	ctx = context.WithoutCancel(ctx)
	op.to(StateCommitting)
	debitDelta := -(debit.Amount + debit.Fee)
	balance, err := e.update(ctx, req.FromID, debitDelta, true, e.maxRetries)
	if err != nil {
		op.to(StateAborted)
		return e.reject(ctx, op, err, debit, credit)
	}
	if _, err := e.update(ctx, req.ToID, credit.Amount, false, e.maxRetries); err != nil {
		op.to(StateCompensating)
		op.logger.WithError(err).WithField("account_id", req.ToID).Warn("credit leg failed, compensating debit")
		cerr := e.compensate(ctx, op, req.FromID, -debitDelta)
		op.to(StateAborted)
		reason := fmt.Errorf("%w: credit to %s failed: %v", models.ErrTransferAborted, req.ToID, err)
		if cerr != nil {
			reason = fmt.Errorf("%w: credit to %s failed: %v; compensation failed: %v", models.ErrTransferAborted, req.ToID, err, cerr)
		}
		return e.reject(ctx, op, reason, debit, credit)
	}
	op.to(StateCommitted)

	debit.Outcome, credit.Outcome = models.OutcomeCommitted, models.OutcomeCommitted
	if err := e.appendLegs(ctx, debit, credit); err != nil {
		op.to(StateCompensating)
		e.compensate(ctx, op, req.ToID, -credit.Amount)
		e.compensate(ctx, op, req.FromID, -debitDelta)
		op.to(StateAborted)
		return nil, err
	}
	op.to(StateLogged)
	op.logger.WithFields(logrus.Fields{"from": req.FromID, "to": req.ToID, "amount": req.Amount}).Info("transfer committed")

	e.notify(ctx, req.FromID, committedMessage(debit))
	e.notify(ctx, req.ToID, committedMessage(credit))
	return &Result{
		Outcome:      models.OutcomeCommitted,
		Transactions: []models.Transaction{*debit, *credit},
		Flagged:      debit.Flagged,
		FraudReasons: debit.FraudReasons,
		Balance:      balance,
	}, nil
}

// screen runs the fraud policy and attaches its flags to txs
func (e *Engine) screen(op *operation, accountID string, amount int64, kind models.TransactionKind, txs ...*models.Transaction) error {
	a := e.fraud.Evaluate(accountID, amount, kind)
	if !a.Flagged {
		return nil
	}
	for _, tx := range txs {
		tx.Flagged = true
		tx.FraudReasons = a.Reasons
	}
	op.logger.WithFields(logrus.Fields{"account_id": accountID, "amount": amount, "reasons": a.Reasons}).Warn("operation flagged by fraud policy")
	if e.fraud.Blocks() {
		return fmt.Errorf("%w: %v", models.ErrFraudFlagged, a.Reasons)
	}
	return nil
}

// update applies delta with compare-and-update, re-reading the balance after every conflict
func (e *Engine) update(ctx context.Context, accountID string, delta int64, checkFunds bool, attempts int) (int64, error) {
	for attempt := 0; attempt < attempts; attempt++ {
		acct, err := e.accounts.Get(ctx, accountID)
		if err != nil {
			return 0, err
		}
		if acct.Status != models.AccountActive {
			return 0, fmt.Errorf("account %s is %s: %w", acct.ID, acct.Status, models.ErrAccountInactive)
		}
		next, err := nextBalance(acct, delta, checkFunds)
		if err != nil {
			return 0, err
		}
		err = e.accounts.CompareAndUpdateBalance(ctx, accountID, acct.Balance, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return 0, err
		}
		e.log.WithFields(logrus.Fields{"account_id": accountID, "attempt": attempt + 1}).Debug("balance conflict, retrying")
		e.pause(attempt)
	}
	return 0, fmt.Errorf("account %s after %d attempts: %w", accountID, attempts, models.ErrContentionExceeded)
}

// nextBalance returns the balance after delta, refusing results outside the int64 range
func nextBalance(acct *models.Account, delta int64, checkFunds bool) (int64, error) {
	switch {
	case delta == math.MinInt64:
		return 0, fmt.Errorf("delta %d: %w", delta, models.ErrInvalidAmount)
	case delta > 0 && !acct.CanCredit(delta):
		return 0, fmt.Errorf("account %s balance %d: %w", acct.ID, acct.Balance, models.ErrBalanceOverflow)
	case delta < 0 && checkFunds && !acct.CanDebit(-delta, 0):
		return 0, fmt.Errorf("account %s available %d: %w", acct.ID, acct.Available(), models.ErrInsufficientFunds)
	case delta < 0 && acct.Balance < math.MinInt64-delta:
		return 0, fmt.Errorf("account %s balance %d: %w", acct.ID, acct.Balance, models.ErrBalanceOverflow)
	}
	return acct.Balance + delta, nil
}

// pause sleeps a jittered, exponentially growing delay between conflicting attempts
func (e *Engine) pause(attempt int) {
	if e.retryDelay <= 0 {
		return
	}
	if attempt > 10 {
		attempt = 10
	}
	window := int64(e.retryDelay) << attempt
	time.Sleep(time.Duration(rand.Int64N(window)))
}

// compensate reverses an already applied delta. It skips the funds check:
// it restores a balance that was valid before the operation started.
func (e *Engine) compensate(ctx context.Context, op *operation, accountID string, delta int64) error {
	_, err := e.update(ctx, accountID, delta, false, e.maxRetries*compensationRetryFactor)
	if err != nil {
		op.logger.WithError(err).WithFields(logrus.Fields{"account_id": accountID, "delta": delta}).Error("compensation failed, balance needs manual repair")
		return err
	}
	op.logger.WithFields(logrus.Fields{"account_id": accountID, "delta": delta}).Info("compensation applied")
	return nil
}

// reject records txs as rejected with cause and returns cause to the caller
func (e *Engine) reject(ctx context.Context, op *operation, cause error, txs ...*models.Transaction) (*Result, error) {
	if op.state != StateAborted {
		op.to(StateRejected)
	}
	ctx = context.WithoutCancel(ctx)
	reason := models.ReasonFor(cause)
	for _, tx := range txs {
		tx.Outcome = models.OutcomeRejected
		tx.Reason = reason
	}
	var err error
	if len(txs) == 2 {
		err = e.appendLegs(ctx, txs[0], txs[1])
	} else {
		err = e.appendOne(ctx, txs[0])
	}
	if err != nil {
		return nil, fmt.Errorf("%w (operation rejected: %v)", err, cause)
	}
	op.to(StateLogged)
	op.logger.WithError(cause).WithField("reason", reason).Info("operation rejected")

	if !errors.Is(cause, models.ErrAccountNotFound) {
		e.notify(ctx, txs[0].AccountID, rejectedMessage(txs[0]))
	}
	res := &Result{Outcome: models.OutcomeRejected, Reason: reason}
	for _, tx := range txs {
		res.Transactions = append(res.Transactions, *tx)
	}
	res.Flagged, res.FraudReasons = txs[0].Flagged, txs[0].FraudReasons
	return res, cause
}

func (e *Engine) seal(txs ...*models.Transaction) {
	for _, tx := range txs {
		tx.Timestamp = e.clock.Now()
		if e.signer != nil {
			tx.Signature = e.signer.Sign(tx)
		}
	}
}

func (e *Engine) appendOne(ctx context.Context, tx *models.Transaction) error {
	e.seal(tx)
	if _, err := e.txlog.Append(ctx, tx); err != nil {
		e.log.WithError(err).WithField("transaction_id", tx.ID).Error("failed to append transaction")
		return logError(tx.ID, err)
	}
	return nil
}

func (e *Engine) appendLegs(ctx context.Context, debit, credit *models.Transaction) error {
	e.seal(debit, credit)
	if err := e.txlog.AppendLegs(ctx, debit, credit); err != nil {
		e.log.WithError(err).WithField("correlation_id", debit.CorrelationID).Error("failed to append transfer legs")
		return logError(debit.CorrelationID, err)
	}
	return nil
}

func logError(id string, err error) error {
	if errors.Is(err, models.ErrDuplicateTransaction) {
		return fmt.Errorf("transaction %s: %w", id, err)
	}
	return fmt.Errorf("transaction %s: %w: %v", id, models.ErrLogUnavailable, err)
}

// notify hands the event to the sink; delivery problems never reach the caller
func (e *Engine) notify(ctx context.Context, accountID, message string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("panic", r).Error("notification sink panicked")
		}
	}()
	if err := e.notifier.Notify(ctx, accountID, message); err != nil {
		e.log.WithError(err).WithField("account_id", accountID).Debug("notification not delivered")
	}
}

// FormatAmount renders minor units as a two-decimal amount
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

func committedMessage(tx *models.Transaction) string {
	amount := FormatAmount(tx.Amount)
	var msg string
	switch tx.Kind {
	case models.KindDeposit:
		msg = fmt.Sprintf("Deposit of %s successful.", amount)
	case models.KindWithdrawal:
		msg = fmt.Sprintf("Withdrawal of %s successful.", amount)
	case models.KindTransferOut:
		msg = fmt.Sprintf("Transferred %s to %s.", amount, tx.CounterpartyID)
	case models.KindTransferIn:
		msg = fmt.Sprintf("Received %s from %s.", amount, tx.CounterpartyID)
	}
	if tx.Fee > 0 {
		msg += fmt.Sprintf(" Fee charged: %s.", FormatAmount(tx.Fee))
	}
	if tx.Flagged {
		msg += " High value transaction flagged for review."
	}
	return msg
}

func rejectedMessage(tx *models.Transaction) string {
	return fmt.Sprintf("%s of %s declined: %s.", kindLabel(tx.Kind), FormatAmount(tx.Amount), tx.Reason)
}

func kindLabel(k models.TransactionKind) string {
	switch k {
	case models.KindDeposit:
		return "Deposit"
	case models.KindWithdrawal:
		return "Withdrawal"
	default:
		return "Transfer"
	}
}
