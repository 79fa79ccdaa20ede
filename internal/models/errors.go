package models

import "errors"

// Ledger errors
var (
	// ErrAccountNotFound is returned when an account id does not resolve
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountInactive is returned when an account is frozen or closed
	ErrAccountInactive = errors.New("account is not active")

	// ErrInsufficientFunds is returned when a debit would breach the overdraft limit
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned for amounts <= 0
	ErrInvalidAmount = errors.New("amount must be greater than 0")

	// ErrSameAccount is returned when a transfer names the same account twice
	ErrSameAccount = errors.New("transfer source and destination are the same account")

	// ErrBalanceOverflow is returned when a credit would push a balance past the int64 range
	ErrBalanceOverflow = errors.New("balance would overflow")

	// ErrInvalidRequestID is returned for request ids that clash with generated transfer leg ids
	ErrInvalidRequestID = errors.New("request id must not end in -in or -out")

	// ErrContentionExceeded is returned when compare-and-update keeps losing races
	ErrContentionExceeded = errors.New("too many concurrent updates on account")

	// ErrTransferAborted is returned when a transfer's credit leg failed and the debit was compensated
	ErrTransferAborted = errors.New("transfer aborted")

	// ErrFraudFlagged is returned only when the fraud policy is configured to block
	ErrFraudFlagged = errors.New("operation flagged by fraud policy")

	// ErrLogUnavailable is returned when the transaction log refuses an append
	ErrLogUnavailable = errors.New("transaction log unavailable")

	// ErrCanceled is recorded when the caller abandoned the operation before commit
	ErrCanceled = errors.New("operation canceled before commit")

	// ErrConflict is returned by compare-and-update when the expected balance is stale
	ErrConflict = errors.New("balance changed concurrently")

	// ErrDuplicateTransaction is returned when a transaction id is appended twice
	ErrDuplicateTransaction = errors.New("duplicate transaction id")

	// ErrRequestInFlight is returned when the same request id is being processed concurrently
	ErrRequestInFlight = errors.New("request with this id is already in progress")

	// ErrTransactionNotFound is returned when a transaction id does not resolve
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrNotReversible is returned when reversing a rejected, already reversed or reversal transaction
	ErrNotReversible = errors.New("transaction cannot be reversed")

	// ErrAccountExists is returned when creating an account with an id already in use
	ErrAccountExists = errors.New("account already exists")

	// ErrInvalidAccountType is returned when opening an account with an unknown type
	ErrInvalidAccountType = errors.New("invalid account type")

	// ErrInvalidStatus is returned for unknown or forbidden status transitions
	ErrInvalidStatus = errors.New("invalid account status transition")
)

var reasonCodes = []struct {
	err  error
	code string
}{
	{ErrAccountNotFound, "account_not_found"},
	{ErrAccountInactive, "account_inactive"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrBalanceOverflow, "balance_overflow"},
	{ErrSameAccount, "same_account"},
	{ErrContentionExceeded, "contention_exceeded"},
	{ErrTransferAborted, "transfer_aborted"},
	{ErrFraudFlagged, "fraud_flagged"},
	{ErrLogUnavailable, "log_unavailable"},
	{ErrCanceled, "canceled"},
	{ErrNotReversible, "not_reversible"},
}

// ReasonFor returns the stable rejection code recorded for err
func ReasonFor(err error) string {
	for _, rc := range reasonCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	return "internal_error"
}

// ErrorForReason maps a recorded rejection code back to its sentinel error
func ErrorForReason(code string) error {
	for _, rc := range reasonCodes {
		if rc.code == code {
			return rc.err
		}
	}
	return errors.New(code)
}
