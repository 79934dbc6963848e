// Command mart builds and maintains the dimensional data mart: SCD2
// dimension loads, fact loads, metric aggregation and materialized view
// refresh over a Postgres, SQLite or SQL Server store.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mart/internal/config"
	"mart/internal/lock"
	"mart/internal/metrics"
	"mart/internal/metrics/datadog"
	"mart/internal/pipeline"
	"mart/internal/storage"
	"mart/internal/view"

	_ "mart/internal/storage/memory"
	_ "mart/internal/storage/mssql"
	_ "mart/internal/storage/postgres"
	_ "mart/internal/storage/sqlite"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "mart",
	Short: "Dimensional data mart builder",
	Long:  "Materializes operational order extracts into a star schema: SCD2 dimensions, an immutable fact table, daily metric rollups and reporting views.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// stdLogger adapts the global zap logger to the loaders' Printf seam.
func stdLogger() *log.Logger {
	return zap.NewStdLog(zap.L())
}

func openRepo(ctx context.Context) (storage.Repository, error) {
	repo, err := storage.New(ctx, storage.Config{Kind: cfg.Store.Kind, DSN: cfg.Store.DSN})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Kind, err)
	}
	return repo, nil
}

func newMetrics(ctx context.Context) (metrics.Backend, error) {
	switch cfg.Metrics.Backend {
	case "", "none":
		return metrics.Nop{}, nil
	case "datadog":
		return datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.Metrics.JobName,
			Tags:       datadog.ParseTagsCSV(cfg.Metrics.Tags),
			FlushEvery: time.Duration(cfg.Metrics.FlushSecs) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.Metrics.Backend)
	}
}

func newLocker(ctx context.Context) (lock.Locker, error) {
	if cfg.Lock.RedisAddr == "" {
		return &lock.LocalLocker{}, nil
	}
	return lock.NewRedisLocker(ctx, cfg.Lock.RedisAddr)
}

func newRefresher(ctx context.Context, repo storage.Repository, backend metrics.Backend) (*view.Refresher, error) {
	locker, err := newLocker(ctx)
	if err != nil {
		return nil, err
	}
	return &view.Refresher{
		Repo:    repo,
		Logger:  stdLogger(),
		Metrics: backend,
		Locker:  locker,
		Timeout: time.Duration(cfg.Refresh.TimeoutSecs) * time.Second,
	}, nil
}

func newRunner(repo storage.Repository, backend metrics.Backend, refresher *view.Refresher) *pipeline.Runner {
	return &pipeline.Runner{
		Repo:         repo,
		Source:       cfg.Source,
		Logger:       stdLogger(),
		Metrics:      backend,
		Refresher:    refresher,
		Workers:      cfg.Pipeline.Workers,
		BatchSize:    cfg.Pipeline.BatchSize,
		StageTimeout: time.Duration(cfg.Pipeline.StageTimeoutSecs) * time.Second,
	}
}
