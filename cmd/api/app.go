package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/Dan9191/ledger-service/internal/config"
	"github.com/Dan9191/ledger-service/internal/handler"
	"github.com/Dan9191/ledger-service/internal/idempotency"
	"github.com/Dan9191/ledger-service/internal/integrations/cbr"
	"github.com/Dan9191/ledger-service/internal/interest"
	"github.com/Dan9191/ledger-service/internal/ledger"
	"github.com/Dan9191/ledger-service/internal/notify"
	"github.com/Dan9191/ledger-service/internal/repository"
	"github.com/Dan9191/ledger-service/internal/service"
	"github.com/Dan9191/ledger-service/internal/utils"
	"github.com/Dan9191/ledger-service/internal/utils/email"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// app holds the wired layers of one process
type app struct {
	cfg        *config.Config
	log        *logrus.Logger
	engine     *ledger.Engine
	svc        *service.Service
	dispatcher *notify.Dispatcher
	accruer    *interest.Accruer
	checks     map[string]handler.HealthCheck
	closers    []func() error
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	return logger
}

type storage struct {
	users    service.Users
	accounts ledger.AccountRepository
	txlog    ledger.TransactionLog
}

// openStorage connects the configured backend and applies the schema
func (a *app) openStorage(ctx context.Context) (*storage, error) {
	if a.cfg.DBDriver == "memory" {
		a.log.Warn("Using in-memory storage, nothing survives a restart")
		return &storage{
			users:    repository.NewMemoryUsers(),
			accounts: ledger.NewMemoryAccountStore(),
			txlog:    ledger.NewMemoryLog(),
		}, nil
	}

	db, err := repository.Open(ctx, a.cfg.DBDriver, a.cfg.DBConn)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)

	repo := repository.NewRepository(db, a.cfg.DBDriver, a.log)
	if err := repo.Migrate(ctx); err != nil {
		return nil, err
	}
	a.checks["database"] = repo.Ping
	return &storage{users: repo, accounts: repo, txlog: repo.TransactionLog()}, nil
}

// build wires every layer from cfg. Optional backends are skipped when unset.
func build(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, checks: map[string]handler.HealthCheck{}}

	st, err := a.openStorage(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	a.dispatcher = notify.NewDispatcher(cfg.NotifyBuffer, log)
	opts := []ledger.Option{
		ledger.WithNotifier(a.dispatcher),
		ledger.WithSigner(utils.NewTransactionSigner(cfg.HMACSecret)),
		ledger.WithMaxRetries(cfg.MaxRetries),
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		dedup := idempotency.NewRedisDeduplicator(client, idempotency.DefaultTTL)
		if err := dedup.Ping(ctx); err != nil {
			client.Close()
			a.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.checks["redis"] = dedup.Ping
		opts = append(opts, ledger.WithDeduplicator(dedup))
		log.Infof("Request ids deduplicated in redis at %s", cfg.RedisAddr)
	}

	fraud := ledger.NewFraudPolicy(cfg.FraudBlock, ledger.ThresholdRule{Limit: cfg.FraudThreshold})
	a.engine = ledger.NewEngine(st.accounts, st.txlog, fraud, log, opts...)

	cbrClient := cbr.NewCBRClient(cfg.CBRURL, log)
	a.svc = service.NewService(st.users, st.accounts, st.txlog, a.engine, cbrClient, log, cfg)

	a.dispatcher.Add("log", notify.NewLogSink(log))
	if cfg.NATSURL != "" {
		nc, err := notify.ConnectNATS(cfg.NATSURL, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() error { nc.Close(); return nil })
		a.dispatcher.Add("nats", notify.NewNATSSink(nc))
	}
	if cfg.SMTPEnabled() {
		a.dispatcher.Add("email", email.NewSender(cfg, a.svc, log))
	}

	rates := interest.NewIndexedRate(cbrClient, cfg.CBRDepositSpread, log)
	a.accruer = interest.NewAccruer(st.accounts, a.engine, rates, log)
	return a, nil
}

// flush delivers every queued notification without waiting for new ones
func (a *app) flush() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.dispatcher.Run(ctx); err != nil {
		a.log.WithError(err).Warn("failed to flush notifications")
	}
	if n := a.dispatcher.Dropped(); n > 0 {
		a.log.Warnf("%d notifications were dropped", n)
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("failed to release resource")
		}
	}
	a.closers = nil
}
