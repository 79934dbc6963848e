package main

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a full mart build from the configured extract directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

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

		refresher, err := newRefresher(ctx, repo, backend)
		if err != nil {
			return err
		}

		return newRunner(repo, backend, refresher).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
