package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/ledger-service/internal/config"
	"github.com/Dan9191/ledger-service/internal/handler"
	"github.com/Dan9191/ledger-service/internal/ledger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:          "ledger",
		Short:        "Transactional ledger service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); environment variables override it")

	load := func() (*config.Config, *logrus.Logger, error) {
		cfg, err := config.NewConfig(cfgFile)
		if err != nil {
			return nil, nil, err
		}
		return cfg, newLogger(cfg.LogLevel), nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the interest schedule",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, log, err := load()
				if err != nil {
					return err
				}
				return serve(cmd.Context(), cfg, log)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, log, err := load()
				if err != nil {
					return err
				}
				a := &app{cfg: cfg, log: log, checks: map[string]handler.HealthCheck{}}
				defer a.close()
				if _, err := a.openStorage(cmd.Context()); err != nil {
					return err
				}
				log.Infof("Schema is up to date (%s)", cfg.DBDriver)
				return nil
			},
		},
		&cobra.Command{
			Use:   "accrue",
			Short: "Credit one month of interest now",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, log, err := load()
				if err != nil {
					return err
				}
				a, err := build(cmd.Context(), cfg, log)
				if err != nil {
					return err
				}
				defer a.close()
				defer a.flush()
				sum, err := a.accruer.Run(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "posted %d, replayed %d, skipped %d, failed %d, total %s\n",
					sum.Posted, sum.Replayed, sum.Skipped, sum.Failed, ledger.FormatAmount(sum.Total))
				return nil
			},
		},
	)
	return root
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	h := handler.NewHandler(a.svc, log, a.checks)
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.NewRouter(h, cfg),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if err := a.accruer.Start(ctx, cfg.InterestSchedule); err != nil {
		return err
	}

	// the dispatcher outlives the server so in-flight requests still get their events out
	notifyCtx, stopNotify := context.WithCancel(context.Background())
	defer stopNotify()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.dispatcher.Run(notifyCtx)
	})
	g.Go(func() error {
		log.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		a.accruer.Stop()
		stopNotify()
		return err
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Service stopped with error")
		return err
	}
	if n := a.dispatcher.Dropped(); n > 0 {
		log.Warnf("%d notifications were dropped", n)
	}
	log.Info("Service stopped")
	return nil
}
