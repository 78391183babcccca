package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/orca-absence-etl/internal/absence"
	httpadapter "github.com/couchcryptid/orca-absence-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/orca-absence-etl/internal/adapter/kafka"
	"github.com/couchcryptid/orca-absence-etl/internal/observability"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate absences over a time range, then downsample to the target ratio",
		Long: `Walks the range bucket by bucket, inserting one absence per eligible zone,
then trims the whole absence population to ABSENCE_RATIO x presence count
by effort and seasonality weighted sampling. Without --start and --end the
range spans the earliest to the latest presence.`,
		Args: cobra.NoArgs,
		RunE: runGenerate,
	}
	cmd.Flags().String("start", "", "Range start (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().String("end", "", "Range end (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().Int("step-hours", 1, "Hours between evaluated buckets")
	return cmd
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	req := absence.RunRequest{}
	var err error
	if req.Start, err = timeFlag(cmd, "start"); err != nil {
		return err
	}
	if req.End, err = timeFlag(cmd, "end"); err != nil {
		return err
	}
	if req.StepHours, err = cmd.Flags().GetInt("step-hours"); err != nil {
		return err
	}

	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	cfg, logger := e.cfg, e.logger
	metrics := observability.NewMetrics()

	tracker := &absence.ProgressTracker{}
	req.Progress = tracker.Record

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, e.store, tracker, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	opts := absence.Options{
		Ratio:           cfg.Ratio,
		InsertBatchSize: cfg.InsertBatchSize,
		DeleteBatchSize: cfg.DeleteBatchSize,
		ProgressEvery:   cfg.ProgressEvery,
		Location:        cfg.Location,
	}
	if cfg.SampleSeed != nil {
		opts.Rand = absence.NewSeededRand(*cfg.SampleSeed)
	}
	engine := absence.New(e.store, logger, metrics, opts)

	res, err := engine.Run(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("absence run: %w", err)
	}
	printResult(res)

	if !cfg.KafkaEnabled {
		return nil
	}
	writer := kafkaadapter.NewWriter(cfg, logger, metrics)
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}()
	return writer.Publish(cmd.Context(), res.Summary())
}

func printResult(res absence.Result) {
	fmt.Println()
	if res.PresenceCount == 0 {
		warnColor.Println("No presence sightings in the store; nothing generated.")
		return
	}
	headColor.Printf("Run %s\n", res.RunID)
	dimColor.Printf("  %s to %s, every %dh\n",
		res.RangeStart.Format(time.RFC3339), res.RangeEnd.Format(time.RFC3339), res.StepHours)
	fmt.Printf("  %-22s %d\n", "Buckets", res.Buckets)
	fmt.Printf("  %-22s %d\n", "Generated", res.Generated)
	fmt.Printf("  %-22s %d\n", "Skipped (conflicts)", res.Skipped)
	fmt.Printf("  %-22s %d\n", "Deleted (downsample)", res.Deleted)
	fmt.Printf("  %-22s %d of %d\n", "Kept", res.Kept, res.Target)
	fmt.Printf("  %-22s ", "Presence:absence")
	okColor.Println(formatRatio(res.PresenceCount, res.Kept))
	dimColor.Printf("  took %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
}

// timeFlag parses an optional time flag. Unset flags yield nil.
func timeFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	raw, err := cmd.Flags().GetString(name)
	if err != nil || raw == "" {
		return nil, err
	}
	t, err := parseTime(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return &t, nil
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC3339 nor YYYY-MM-DD", raw)
	}
	return t, nil
}
