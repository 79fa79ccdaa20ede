package models

// AccountSummary aggregates the committed movements of one account
type AccountSummary struct {
	AccountID         string `json:"account_id"`
	TotalDeposits     int64  `json:"total_deposits"`
	TotalWithdrawals  int64  `json:"total_withdrawals"`
	TotalTransfersOut int64  `json:"total_transfers_out"`
	TotalTransfersIn  int64  `json:"total_transfers_in"`
	TotalFees         int64  `json:"total_fees"`
	NetFlow           int64  `json:"net_flow"` // inflows minus outflows and fees
	Committed         int    `json:"committed"`
	Rejected          int    `json:"rejected"`
	Flagged           int    `json:"flagged"`
}

// Add folds one transaction into the summary
func (s *AccountSummary) Add(tx Transaction) {
	if tx.Flagged {
		s.Flagged++
	}
	if !tx.Committed() {
		s.Rejected++
		return
	}
	s.Committed++
	switch tx.Kind {
	case KindDeposit:
		s.TotalDeposits += tx.Amount
		s.NetFlow += tx.Amount
	case KindWithdrawal:
		s.TotalWithdrawals += tx.Amount
		s.NetFlow -= tx.Amount
	case KindTransferOut:
		s.TotalTransfersOut += tx.Amount
		s.NetFlow -= tx.Amount
	case KindTransferIn:
		s.TotalTransfersIn += tx.Amount
		s.NetFlow += tx.Amount
	}
	s.TotalFees += tx.Fee
	s.NetFlow -= tx.Fee
}
