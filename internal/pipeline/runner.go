// Package pipeline orchestrates a mart build end to end: schema, date
// dimension, SCD2 dimensions, facts (with one redrive for events that
// arrived before their dimension members), metric aggregation and view
// refresh.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"mart/internal/aggregate"
	"mart/internal/config"
	"mart/internal/dimension"
	"mart/internal/fact"
	"mart/internal/mart"
	"mart/internal/metrics"
	"mart/internal/source"
	"mart/internal/storage"
	"mart/internal/view"
)

// Logger is the minimal logging interface used by the runner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Runner wires the loaders together over one repository.
type Runner struct {
	Repo    storage.Repository
	Source  config.SourceConfig
	Logger  Logger
	Metrics metrics.Backend

	// Refresher manages the reporting views. Optional; when nil the
	// refresh stage is skipped.
	Refresher *view.Refresher

	Workers   int
	BatchSize int

	// StageTimeout bounds each pipeline stage. Defaults to 30m.
	StageTimeout time.Duration
}

func (r *Runner) logf() func(format string, v ...any) {
	if r.Logger == nil {
		lg := log.New(io.Discard, "", 0)
		return lg.Printf
	}
	return r.Logger.Printf
}

func (r *Runner) metrics() metrics.Backend {
	if r.Metrics == nil {
		return metrics.Nop{}
	}
	return r.Metrics
}

func (r *Runner) stageTimeout() time.Duration {
	if r.StageTimeout > 0 {
		return r.StageTimeout
	}
	return 30 * time.Minute
}

// Run executes a full build.
//
// When to use:
//   - One-shot mart builds from a fresh extract directory. Stages run
//     in dependency order; a stage failure stops the run.
//
// Edge cases:
//   - Fact events whose dimension member had no version valid at
//     purchase time are redriven once after the initial pass; events
//     still unresolvable are reported in the log and dropped from this
//     run. The next run picks them up again from the source files.
func (r *Runner) Run(ctx context.Context) error {
	logf := r.logf()
	runID := uuid.NewString()
	runStart := time.Now().UTC()
	logf("stage=run_start run=%s", runID)

	if err := r.stage(ctx, "ensure_schema", func(ctx context.Context) error {
		return r.Repo.EnsureSchema(ctx)
	}); err != nil {
		return err
	}

	if err := r.stage(ctx, "load_dimensions", func(ctx context.Context) error {
		return r.LoadDimensions(ctx, runStart)
	}); err != nil {
		return err
	}

	var window factWindow
	if err := r.stage(ctx, "load_facts", func(ctx context.Context) (err error) {
		window, err = r.LoadFacts(ctx)
		return err
	}); err != nil {
		return err
	}

	if !window.empty() {
		if err := r.stage(ctx, "aggregate", func(ctx context.Context) error {
			_, err := r.Aggregate(ctx, window.from, window.to)
			return err
		}); err != nil {
			return err
		}
	}

	if r.Refresher != nil {
		if err := r.stage(ctx, "refresh_views", func(ctx context.Context) error {
			r.Refresher.Invalidate()
			return r.Refresher.RefreshAll(ctx)
		}); err != nil {
			return err
		}
	}

	logf("stage=run_done run=%s duration=%s", runID, time.Since(runStart).Truncate(time.Millisecond))
	return nil
}

// stage runs fn under the stage timeout and records duration metrics.
func (r *Runner) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	logf := r.logf()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.stageTimeout())
	defer cancel()

	err := fn(ctx)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics().IncCounter(metrics.MetricStageTotal, 1, metrics.Labels{"stage": name, "status": status})
	r.metrics().ObserveHistogram(metrics.MetricStageDuration, elapsed.Seconds(), metrics.Labels{"stage": name})

	if err != nil {
		logf("stage=%s err=%v duration=%s", name, err, elapsed.Truncate(time.Millisecond))
		return fmt.Errorf("stage %s: %w", name, err)
	}
	logf("stage=%s ok duration=%s", name, elapsed.Truncate(time.Millisecond))
	return nil
}

// LoadDimensions applies the three snapshot extracts effective at the
// given instant.
func (r *Runner) LoadDimensions(ctx context.Context, at time.Time) error {
	logf := r.logf()

	loader := &dimension.Loader{
		Repo:    r.Repo,
		Logger:  r.Logger,
		Metrics: r.Metrics,
		Workers: r.Workers,
	}

	customers, err := r.readCustomers()
	if err != nil {
		return err
	}
	if _, err := loader.Load(ctx, mart.DimCustomer, customers, at); err != nil {
		return err
	}

	sellers, err := r.readSellers()
	if err != nil {
		return err
	}
	if _, err := loader.Load(ctx, mart.DimSeller, sellers, at); err != nil {
		return err
	}

	products, err := r.readProducts()
	if err != nil {
		return err
	}
	if _, err := loader.Load(ctx, mart.DimProduct, products, at); err != nil {
		return err
	}

	logf("stage=load_dimensions customers=%d sellers=%d products=%d", len(customers), len(sellers), len(products))
	return nil
}

type factWindow struct {
	from, to time.Time
}

func (w factWindow) empty() bool { return w.from.IsZero() }

// LoadFacts loads order line events and returns the order-date window
// they covered, for the aggregation stage. Deferred events are redriven
// once.
func (r *Runner) LoadFacts(ctx context.Context) (factWindow, error) {
	logf := r.logf()

	events, err := r.readOrderLines()
	if err != nil {
		return factWindow{}, err
	}
	if len(events) == 0 {
		logf("stage=load_facts empty=true")
		return factWindow{}, nil
	}

	loader := &fact.Loader{
		Repo:      r.Repo,
		Logger:    r.Logger,
		Metrics:   r.Metrics,
		BatchSize: r.BatchSize,
	}

	res, err := loader.Load(ctx, events)
	if err != nil {
		return factWindow{}, err
	}

	if len(res.Deferred) > 0 {
		redrive, err := loader.Load(ctx, res.Deferred)
		if err != nil {
			return factWindow{}, err
		}
		for _, gap := range redrive.Gaps {
			logf("stage=load_facts unresolved_gap=%v", gap)
		}
	}

	lo, hi := events[0].PurchasedAt, events[0].PurchasedAt
	for _, e := range events {
		if e.PurchasedAt.Before(lo) {
			lo = e.PurchasedAt
		}
		if e.PurchasedAt.After(hi) {
			hi = e.PurchasedAt
		}
	}
	// to is exclusive; cover the last purchase's full day.
	return factWindow{from: mart.Midnight(lo), to: mart.Midnight(hi).AddDate(0, 0, 1)}, nil
}

// Aggregate recomputes the metric tables over [from, to).
func (r *Runner) Aggregate(ctx context.Context, from, to time.Time) (aggregate.Result, error) {
	agg := &aggregate.Aggregator{
		Repo:    r.Repo,
		Logger:  r.Logger,
		Metrics: r.Metrics,
	}
	return agg.Aggregate(ctx, from, to)
}

func (r *Runner) open(name string) (*os.File, error) {
	f, err := os.Open(filepath.Join(r.Source.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return f, nil
}

func (r *Runner) onRowErr(file string) func(line int, err error) {
	logf := r.logf()
	return func(line int, err error) {
		logf("stage=parse file=%s line=%d err=%v", file, line, err)
	}
}

func (r *Runner) readCustomers() ([]dimension.Source, error) {
	f, err := r.open(r.Source.Customers)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	snaps, err := source.ReadCustomers(f, r.onRowErr(r.Source.Customers))
	if err != nil {
		return nil, err
	}
	out := make([]dimension.Source, len(snaps))
	for i, s := range snaps {
		out[i] = s
	}
	return out, nil
}

func (r *Runner) readSellers() ([]dimension.Source, error) {
	f, err := r.open(r.Source.Sellers)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	snaps, err := source.ReadSellers(f, r.onRowErr(r.Source.Sellers))
	if err != nil {
		return nil, err
	}
	out := make([]dimension.Source, len(snaps))
	for i, s := range snaps {
		out[i] = s
	}
	return out, nil
}

func (r *Runner) readProducts() ([]dimension.Source, error) {
	translations := map[string]string{}
	if r.Source.CategoryTranslations != "" {
		tf, err := r.open(r.Source.CategoryTranslations)
		switch {
		case err == nil:
			translations, err = source.ReadCategoryTranslations(tf, r.onRowErr(r.Source.CategoryTranslations))
			tf.Close()
			if err != nil {
				return nil, err
			}
		case errors.Is(err, os.ErrNotExist):
			// Translation extract is optional.
		default:
			return nil, err
		}
	}

	f, err := r.open(r.Source.Products)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	snaps, err := source.ReadProducts(f, translations, r.onRowErr(r.Source.Products))
	if err != nil {
		return nil, err
	}
	out := make([]dimension.Source, len(snaps))
	for i, s := range snaps {
		out[i] = s
	}
	return out, nil
}

func (r *Runner) readOrderLines() ([]mart.OrderLineEvent, error) {
	orders, err := r.open(r.Source.Orders)
	if err != nil {
		return nil, err
	}
	defer orders.Close()

	items, err := r.open(r.Source.OrderItems)
	if err != nil {
		return nil, err
	}
	defer items.Close()

	var reviews io.Reader
	if r.Source.Reviews != "" {
		rf, err := r.open(r.Source.Reviews)
		switch {
		case err == nil:
			defer rf.Close()
			reviews = rf
		case errors.Is(err, os.ErrNotExist):
			// Reviews extract is optional.
		default:
			return nil, err
		}
	}

	return source.ReadOrderLines(orders, items, reviews, r.onRowErr(r.Source.OrderItems))
}
