package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/paulohaalves-github/update-bitrix/internal/bitrix"
	"github.com/paulohaalves-github/update-bitrix/internal/config"
	"github.com/paulohaalves-github/update-bitrix/internal/gspn"
	"github.com/paulohaalves-github/update-bitrix/internal/ledger"
	"github.com/paulohaalves-github/update-bitrix/internal/sync"
)

func newRunCmd() *cobra.Command {
	var (
		once   bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the synchronization loop",
		Long: `Run the synchronization loop: for each configured pipeline, enumerate
open deals, fetch their GSPN interaction logs, and propagate every entry
that has not been pushed yet as a timeline comment plus a field update.

The loop repeats indefinitely with the configured interval between
passes. SIGINT or SIGTERM stops it cleanly after the current operation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), once, dryRun)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be propagated without writing")

	return cmd
}

func runSync(parent context.Context, once, dryRun bool) error {
	logger := buildLogger()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sf, err := config.LoadSyncFile(loadedCfg.SyncFilePath)
	if err != nil {
		return err
	}

	// Ledger initialization failure is the one unrecoverable condition:
	// without durable bookkeeping the exactly-once guarantee is gone.
	store, err := ledger.Open(ctx, loadedCfg.LedgerPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	source, err := gspn.Open(loadedCfg.DBHost, loadedCfg.DBUser, loadedCfg.DBPassword, loadedCfg.DBName, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	// Connectivity is checked but not required at startup: queries
	// degrade per deal, and the database may come back mid-loop.
	if err := source.Ping(ctx); err != nil {
		logger.Warn("gspn database unreachable at startup", slog.String("error", err.Error()))
	}

	limiter := rate.NewLimiter(rate.Limit(loadedCfg.RequestsPerSec), loadedCfg.Burst)
	crm := bitrix.NewClient(loadedCfg.BitrixWebhook, defaultHTTPClient(), limiter, logger)

	engine := sync.NewEngine(crm, source, store, sf, logger)
	engine.SetDryRun(dryRun)

	runner := sync.NewRunner(sync.RunnerConfig{
		Engine:       engine,
		SyncFilePath: loadedCfg.SyncFilePath,
		Interval:     loadedCfg.PassInterval,
		Once:         once,
		Logger:       logger,
	})

	logger.Info("synchronization starting",
		slog.Int("pipelines", len(sf.Pipelines)),
		slog.Bool("dry_run", dryRun),
		slog.Duration("interval", loadedCfg.PassInterval),
	)

	if err := runner.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("shutdown requested, stopping")
			return nil
		}

		return fmt.Errorf("synchronization: %w", err)
	}

	return nil
}
