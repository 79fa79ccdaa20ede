package main

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Dan9191/ledger-service/internal/config"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestMigrateSQLite(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_CONN", filepath.Join(t.TempDir(), "ledger.db"))

	_, err := execute(t, "migrate")
	require.NoError(t, err)
	_, err = execute(t, "migrate")
	require.NoError(t, err, "migrations are repeatable")
}

func TestAccrueOnEmptyLedger(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")

	out, err := execute(t, "accrue")
	require.NoError(t, err)
	assert.Contains(t, out, "posted 0")
}

func TestInvalidConfigFails(t *testing.T) {
	t.Setenv("DB_DRIVER", "oracle")
	_, err := execute(t, "migrate")
	require.Error(t, err)
}

func TestBuildSkipsUnsetBackends(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	cfg, err := config.NewConfig("")
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()

	a, err := build(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.close()

	assert.Empty(t, a.checks)
	assert.NotNil(t, a.engine)
	assert.NotNil(t, a.accruer)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	assert.Equal(t, "debug", newLogger("DEBUG").GetLevel().String())
	assert.Equal(t, "info", newLogger("chatty").GetLevel().String())
}

type captureSink struct {
	mu       sync.Mutex
	messages []string
}

func (s *captureSink) Notify(_ context.Context, _, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return nil
}

func TestFlushDeliversQueuedNotifications(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	cfg, err := config.NewConfig("")
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()

	a, err := build(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.close()

	sink := &captureSink{}
	a.dispatcher.Add("capture", sink)
	require.NoError(t, a.dispatcher.Notify(context.Background(), "1001", "interest posted"))
	require.NoError(t, a.dispatcher.Notify(context.Background(), "1002", "interest posted"))

	a.flush()
	assert.Len(t, sink.messages, 2)

	a.flush()
	assert.Len(t, sink.messages, 2, "a drained queue flushes nothing")
}
