package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/Dan9191/ledger-service/internal/models"
)

// GenerateHMAC returns the hex HMAC-SHA256 of data
func GenerateHMAC(data []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TransactionSigner seals log entries so tampering with a stored row is detectable
type TransactionSigner struct {
	secret string
}

// NewTransactionSigner creates a signer keyed with secret
func NewTransactionSigner(secret string) *TransactionSigner {
	return &TransactionSigner{secret: secret}
}

// Sign returns the signature of tx's canonical form
func (s *TransactionSigner) Sign(tx *models.Transaction) string {
	return GenerateHMAC(tx.Canonical(), s.secret)
}

// Verify reports whether tx still matches its signature
func (s *TransactionSigner) Verify(tx *models.Transaction) bool {
	expected, err := hex.DecodeString(s.Sign(tx))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(tx.Signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
