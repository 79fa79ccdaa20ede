package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, int64(100000), cfg.FraudThreshold)
	assert.False(t, cfg.FraudBlock)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 5.0, cfg.CBRDepositSpread)
	assert.False(t, cfg.SMTPEnabled())
}

func TestNewConfigEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_CONN", "file:ledger.db")
	t.Setenv("FRAUD_THRESHOLD", "5000")
	t.Setenv("FRAUD_BLOCK", "true")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SENDER_EMAIL", "bank@example.com")

	cfg, err := NewConfig("")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "file:ledger.db", cfg.DBConn)
	assert.Equal(t, int64(5000), cfg.FraudThreshold)
	assert.True(t, cfg.FraudBlock)
	assert.True(t, cfg.SMTPEnabled())
}

func TestNewConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_retries: 9\nnats_url: nats://localhost:4222\n"), 0o600))

	cfg, err := NewConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxRetries)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)

	_, err = NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("DB_DRIVER", "oracle")
	_, err := NewConfig("")
	require.ErrorContains(t, err, "DB_DRIVER")

	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("DB_CONN", "")
	_, err = NewConfig("")
	require.NoError(t, err)

	t.Setenv("MAX_RETRIES", "0")
	_, err = NewConfig("")
	require.ErrorContains(t, err, "MAX_RETRIES")
}
