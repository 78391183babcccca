package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/orca-absence-etl/internal/fixture"
)

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load zones, weights, and presence sightings from a YAML fixture",
		Args:  cobra.NoArgs,
		RunE:  runSeed,
	}
	cmd.Flags().String("file", "", "Fixture file to load")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runSeed(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("file")
	fx, err := fixture.Load(path)
	if err != nil {
		return err
	}

	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	n, err := fx.Apply(cmd.Context(), e.store, e.cfg.Location, e.cfg.InsertBatchSize)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	e.logger.Info("fixture loaded", "file", path, "zones", len(fx.Zones), "presences", n)
	okColor.Printf("Seeded %d zones and %d presence sightings into %s\n", len(fx.Zones), n, e.cfg.DBPath)
	return nil
}
