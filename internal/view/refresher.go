// Package view implements materialized reporting views: each view is a
// real table rebuilt from the star schema into a shadow table and
// swapped in atomically, so readers always see either the previous
// complete build or the new one.
package view

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mart/internal/lock"
	"mart/internal/mart"
	"mart/internal/metrics"
	"mart/internal/storage"
)

// Logger is the minimal logging interface used by the refresher.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// State describes a view's refresh lifecycle.
type State string

const (
	// StateStale means mart data changed since the last build.
	StateStale State = "stale"
	// StateRefreshing means a rebuild is in flight; readers still see
	// the previous build.
	StateRefreshing State = "refreshing"
	// StateFresh means the current build reflects the last invalidation.
	StateFresh State = "fresh"
)

// Refresher rebuilds the configured views on demand or on a schedule.
//
// Concurrency model:
//   - concurrent Refresh calls for the same view collapse into one
//     build via singleflight; every caller gets that build's result;
//   - a Locker extends mutual exclusion across processes. When another
//     process holds the lock the refresh is skipped, not failed.
type Refresher struct {
	Repo    storage.Repository
	Logger  Logger
	Metrics metrics.Backend

	// Locker guards cross-process refreshes. Defaults to an in-process
	// LocalLocker.
	Locker lock.Locker

	// Timeout bounds one view build. A build that exceeds it is
	// abandoned and the previous build stays visible. Defaults to 5m.
	Timeout time.Duration

	// Views are the view definitions to manage. Defaults to Definitions().
	Views []storage.ViewSpec

	group singleflight.Group

	mu     sync.Mutex
	states map[string]State
}

func (r *Refresher) logf() func(format string, v ...any) {
	if r.Logger == nil {
		lg := log.New(discardWriter{}, "", 0)
		return lg.Printf
	}
	return r.Logger.Printf
}

func (r *Refresher) metrics() metrics.Backend {
	if r.Metrics == nil {
		return metrics.Nop{}
	}
	return r.Metrics
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (r *Refresher) views() []storage.ViewSpec {
	if len(r.Views) > 0 {
		return r.Views
	}
	return Definitions()
}

func (r *Refresher) locker() lock.Locker {
	if r.Locker != nil {
		return r.Locker
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Locker == nil {
		r.Locker = &lock.LocalLocker{}
	}
	return r.Locker
}

// StateOf reports the lifecycle state of a view. Unknown views are
// stale: nothing has been built yet.
func (r *Refresher) StateOf(name string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[name]; ok {
		return s
	}
	return StateStale
}

func (r *Refresher) setState(name string, s State) {
	r.mu.Lock()
	if r.states == nil {
		r.states = make(map[string]State)
	}
	r.states[name] = s
	r.mu.Unlock()
}

// Invalidate marks every managed view stale. Loaders call it after
// changing mart data.
func (r *Refresher) Invalidate() {
	for _, v := range r.views() {
		r.setState(v.Name, StateStale)
	}
}

// RefreshAll rebuilds every managed view, stopping at the first error.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	for _, v := range r.views() {
		if err := r.Refresh(ctx, v.Name); err != nil {
			return err
		}
	}
	return nil
}

// Refresh rebuilds one view by name.
//
// When to use:
//   - After loads, or from the scheduler. Calling it on a fresh view
//     rebuilds anyway; staleness tracking is advisory, the build is
//     always full.
//
// Edge cases:
//   - Concurrent calls for the same view share one build.
//   - If another process holds the view's lock the call returns nil
//     without building; that process is doing the work.
//   - On timeout the view stays in its previous complete state and a
//     RefreshTimeoutError is returned.
//
// Errors:
//   - RefreshTimeoutError when the build exceeded Timeout, otherwise
//     the storage error from the rebuild.
func (r *Refresher) Refresh(ctx context.Context, name string) error {
	spec, err := r.find(name)
	if err != nil {
		return err
	}

	res := r.group.DoChan(name, func() (any, error) {
		return nil, r.refreshOne(ctx, spec)
	})
	select {
	case out := <-res:
		return out.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) find(name string) (storage.ViewSpec, error) {
	for _, v := range r.views() {
		if v.Name == name {
			return v, nil
		}
	}
	return storage.ViewSpec{}, fmt.Errorf("view: unknown view %q", name)
}

func (r *Refresher) refreshOne(ctx context.Context, spec storage.ViewSpec) error {
	logf := r.logf()

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	release, err := r.locker().Acquire(ctx, "view:"+spec.Name, timeout)
	if errors.Is(err, lock.ErrHeld) {
		logf("stage=refresh_view view=%s skipped=lock_held", spec.Name)
		r.metrics().IncCounter(metrics.MetricViewRefresh, 1, metrics.Labels{"view": spec.Name, "status": "skipped"})
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = release(context.WithoutCancel(ctx)) }()

	r.setState(spec.Name, StateRefreshing)
	start := time.Now()

	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = r.Repo.RefreshView(buildCtx, spec)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		r.setState(spec.Name, StateFresh)
		r.metrics().IncCounter(metrics.MetricViewRefresh, 1, metrics.Labels{"view": spec.Name, "status": "ok"})
		logf("stage=refresh_view view=%s ok duration=%s", spec.Name, elapsed.Truncate(time.Millisecond))
		return nil

	case buildCtx.Err() != nil && ctx.Err() == nil:
		// The build ran out of its own budget; the swapped-out table was
		// never touched, readers keep the previous build.
		r.setState(spec.Name, StateStale)
		r.metrics().IncCounter(metrics.MetricViewRefresh, 1, metrics.Labels{"view": spec.Name, "status": "timeout"})
		logf("stage=refresh_view view=%s timeout after=%s", spec.Name, elapsed.Truncate(time.Millisecond))
		return &mart.RefreshTimeoutError{View: spec.Name, Timeout: timeout}

	default:
		r.setState(spec.Name, StateStale)
		r.metrics().IncCounter(metrics.MetricViewRefresh, 1, metrics.Labels{"view": spec.Name, "status": "error"})
		return fmt.Errorf("refresh view %s: %w", spec.Name, err)
	}
}

// RunScheduler rebuilds stale views every interval until ctx is done.
// Errors are logged, not returned; the next tick retries.
func (r *Refresher) RunScheduler(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	logf := r.logf()

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			for _, v := range r.views() {
				if r.StateOf(v.Name) == StateFresh {
					continue
				}
				if err := r.Refresh(ctx, v.Name); err != nil {
					logf("stage=refresh_view view=%s err=%v", v.Name, err)
				}
			}
		}
	}
}
