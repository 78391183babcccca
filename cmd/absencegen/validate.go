package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/orca-absence-etl/internal/validate"
)

var errValidationFailed = errors.New("validation failed")

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check persisted sightings for uniqueness, exclusion, and ratio violations",
		Args:  cobra.NoArgs,
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	headColor.Println("=== Absence Integrity Validation ===")
	report, err := validate.Run(cmd.Context(), e.store, validate.Options{Ratio: e.cfg.Ratio, Location: e.cfg.Location})
	if err != nil {
		return err
	}

	fmt.Println()
	for _, p := range report.Phases {
		fmt.Printf("  %-42s ", p.Name)
		if p.Passed() {
			okColor.Println("PASS")
		} else {
			failColor.Printf("FAIL (%d errors)\n", p.Failures)
		}
	}
	fmt.Println()
	fmt.Printf("Records: %d presences, %d absences\n", report.Presences, report.Absences)

	for _, p := range report.Phases {
		if p.Passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.Name)
		for i, d := range p.Details {
			fmt.Printf("  [%d] %s\n", i+1, d)
		}
		if extra := p.Failures - len(p.Details); extra > 0 {
			dimColor.Printf("  ... and %d more\n", extra)
		}
	}

	if report.Passed() {
		okColor.Println("\nAll validations passed.")
		return nil
	}
	return errValidationFailed
}
