package main

import (
	"time"

	"github.com/spf13/cobra"
)

var viewsWatch bool

var refreshViewsCmd = &cobra.Command{
	Use:   "refresh-views [view]",
	Short: "Rebuild the reporting views",
	Long:  "Rebuilds the materialized reporting views via shadow tables and atomic swap. With --watch, keeps running and refreshes stale views on the configured interval.",
	Args:  cobra.MaximumNArgs(1),
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

		if len(args) == 1 {
			return refresher.Refresh(ctx, args[0])
		}
		if err := refresher.RefreshAll(ctx); err != nil {
			return err
		}
		if viewsWatch {
			return refresher.RunScheduler(ctx, time.Duration(cfg.Refresh.IntervalSecs)*time.Second)
		}
		return nil
	},
}

func init() {
	refreshViewsCmd.Flags().BoolVar(&viewsWatch, "watch", false,
		"stay running and refresh stale views on the configured interval")
	rootCmd.AddCommand(refreshViewsCmd)
}
