package utils

import (
	"testing"
	"time"

	"github.com/Dan9191/ledger-service/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestTransactionSigner(t *testing.T) {
	s := NewTransactionSigner("secret")
	tx := &models.Transaction{
		ID:        "t1",
		Kind:      models.KindDeposit,
		AccountID: "1001",
		Amount:    500,
		Outcome:   models.OutcomeCommitted,
		Timestamp: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	tx.Signature = s.Sign(tx)
	assert.Len(t, tx.Signature, 64)
	assert.True(t, s.Verify(tx))

	tampered := *tx
	tampered.Amount = 5000
	assert.False(t, s.Verify(&tampered))

	assert.False(t, NewTransactionSigner("other").Verify(tx))

	tx.Signature = "not-hex"
	assert.False(t, s.Verify(tx))
}

func TestGenerateHMACIsDeterministic(t *testing.T) {
	assert.Equal(t, GenerateHMAC([]byte("abc"), "k"), GenerateHMAC([]byte("abc"), "k"))
	assert.NotEqual(t, GenerateHMAC([]byte("abc"), "k"), GenerateHMAC([]byte("abd"), "k"))
}
