package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var dimensionsAt string

var loadDimensionsCmd = &cobra.Command{
	Use:   "load-dimensions",
	Short: "Apply the snapshot extracts to the SCD2 dimensions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		at := time.Now().UTC()
		if dimensionsAt != "" {
			t, err := time.Parse(time.RFC3339, dimensionsAt)
			if err != nil {
				return fmt.Errorf("parse --at: %w", err)
			}
			at = t.UTC()
		}

		repo, err := openRepo(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()

		backend, err := newMetrics(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = backend.Close() }()

		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		return newRunner(repo, backend, nil).LoadDimensions(ctx, at)
	},
}

func init() {
	loadDimensionsCmd.Flags().StringVar(&dimensionsAt, "at", "",
		"snapshot effective time, RFC3339 (default: now)")
	rootCmd.AddCommand(loadDimensionsCmd)
}
