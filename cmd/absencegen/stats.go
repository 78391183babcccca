package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show presence and absence counts, the target, and date ranges",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
}

func runStats(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	st, err := e.store.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}
	target := e.cfg.Ratio * st.Presence
	remaining := max(target-st.Absence, 0)

	headColor.Println("=== Sightings ===")
	fmt.Printf("  %-18s %d\n", "Present", st.Presence)
	fmt.Printf("  %-18s %d\n", "Absent", st.Absence)
	fmt.Printf("  %-18s %d (%d:1)\n", "Target absences", target, e.cfg.Ratio)
	fmt.Printf("  %-18s %d\n", "Remaining", remaining)
	fmt.Printf("  %-18s %s\n", "Current ratio", formatRatio(st.Presence, st.Absence))
	fmt.Printf("  %-18s %s\n", "Present range", dateRange(st.PresenceFirst, st.PresenceLast))
	fmt.Printf("  %-18s %s\n", "Absent range", dateRange(st.AbsenceFirst, st.AbsenceLast))

	if st.Presence > 0 && remaining == 0 {
		fmt.Println()
		warnColor.Println("Absence target already met; a run will only trim surplus.")
	}
	return nil
}

func dateRange(first, last time.Time) string {
	if first.IsZero() {
		return "-"
	}
	return first.Format(time.RFC3339) + " to " + last.Format(time.RFC3339)
}
