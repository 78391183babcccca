// Command absencegen synthesizes absence (negative) sightings for orca
// presence modelling, and carries the tooling around it: seeding a store from
// a fixture, generating synthetic fixtures, reporting store statistics, and
// validating persisted state.
//
// Usage:
//
//	absencegen seed --file fixtures/salish.yaml
//	absencegen run --start 2024-06-01T00:00:00Z --end 2024-07-01T00:00:00Z
//	absencegen stats
//	absencegen validate
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/orca-absence-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/orca-absence-etl/internal/config"
	"github.com/couchcryptid/orca-absence-etl/internal/observability"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	headColor = color.New(color.FgCyan, color.Bold)
	dimColor  = color.New(color.FgHiBlack)
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "absencegen",
		Short:         "Synthesize absence sightings for orca presence modelling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("debug", false, "Force debug logging")

	rootCmd.AddCommand(newRunCmd(), newStatsCmd(), newSeedCmd(), newGenmockCmd(), newValidateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		failColor.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env bundles what every store-backed command needs.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *sqlite.Store
}

// setup loads configuration, applies --debug, and opens the store.
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.LogLevel = "debug"
	}
	logger := observability.NewLogger(cfg)

	store, err := sqlite.Open(cmd.Context(), cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, store: store}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("store close error", "error", err)
	}
}

// formatRatio renders kept absences per presence as "1:x.x".
func formatRatio(presences, absences int) string {
	if presences == 0 {
		return "1:-"
	}
	return fmt.Sprintf("1:%.1f", float64(absences)/float64(presences))
}
