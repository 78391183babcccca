package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/orca-absence-etl/internal/fixture"
)

func newGenmockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genmock",
		Short: "Write a deterministic synthetic fixture",
		Args:  cobra.NoArgs,
		RunE:  runGenmock,
	}
	cmd.Flags().Int("zones", 8, "Number of zones on the ring")
	cmd.Flags().Int("days", 30, "Days covered by sightings")
	cmd.Flags().Int("sightings", 200, "Number of presence sightings")
	cmd.Flags().Uint64("seed", 1, "Random seed")
	cmd.Flags().String("out", "", "Output file (default stdout)")
	return cmd
}

func runGenmock(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	var opts fixture.GenerateOptions
	opts.Zones, _ = flags.GetInt("zones")
	opts.Days, _ = flags.GetInt("days")
	opts.Sightings, _ = flags.GetInt("sightings")
	opts.Seed, _ = flags.GetUint64("seed")
	out, _ := flags.GetString("out")

	fx := fixture.Generate(opts)

	var w io.Writer = cmd.OutOrStdout()
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}
	if err := fx.Write(w); err != nil {
		return err
	}
	if out != "" {
		okColor.Fprintf(cmd.ErrOrStderr(), "Wrote %d zones and %d sightings to %s\n", len(fx.Zones), len(fx.Sightings), out)
	}
	return nil
}
