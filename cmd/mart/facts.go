package main

import (
	"github.com/spf13/cobra"
)

var loadFactsCmd = &cobra.Command{
	Use:   "load-facts",
	Short: "Load order line events into fact_sales",
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

		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		_, err = newRunner(repo, backend, nil).LoadFacts(ctx)
		return err
	},
}

func init() {
	rootCmd.AddCommand(loadFactsCmd)
}
