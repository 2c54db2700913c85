package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/paulohaalves-github/update-bitrix/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagEnvFile  string
	flagSyncFile string
	flagVerbose  bool
	flagQuiet    bool
)

// loadedCfg holds the configuration resolved by PersistentPreRunE. It is
// available to all subcommands after the root pre-run phase completes.
var loadedCfg *config.Config

// httpClientTimeout bounds every Bitrix request so a hung remote call
// cannot stall a pass indefinitely.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-bitrix",
		Short: "GSPN to Bitrix24 interaction synchronizer",
		Long: `Propagates service-order interaction logs from the GSPN database into
Bitrix24 deals as timeline comments and field updates, exactly once per
log entry.`,
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(flagEnvFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if flagSyncFile != "" {
				cfg.SyncFilePath = flagSyncFile
			}

			loadedCfg = cfg

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "environment file path (default: nearest .env)")
	cmd.PersistentFlags().StringVar(&flagSyncFile, "sync-file", "", "pipelines and field map TOML path (default: $SYNC_FILE)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCategoriesCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// buildLogger creates an slog.Logger configured by the loaded config and
// CLI flags. The config log level is the baseline; --verbose and --quiet
// override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if loadedCfg != nil {
		switch loadedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
