package view

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mart/internal/lock"
	"mart/internal/mart"
	"mart/internal/storage"
	"mart/internal/storage/memory"
)

// gateRepo wraps the memory backend so tests can stall or fail rebuilds.
type gateRepo struct {
	*memory.Repo

	mu       sync.Mutex
	inflight atomic.Int32
	block    chan struct{} // non-nil: RefreshView waits on it
	err      error
}

func (r *gateRepo) RefreshView(ctx context.Context, spec storage.ViewSpec) error {
	r.inflight.Add(1)
	defer r.inflight.Add(-1)

	r.mu.Lock()
	block, err := r.block, r.err
	r.mu.Unlock()

	if err != nil {
		return err
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.Repo.RefreshView(ctx, spec)
}

func TestRefreshTransitionsToFresh(t *testing.T) {
	t.Parallel()

	repo := &gateRepo{Repo: memory.NewRepo()}
	r := &Refresher{Repo: repo}

	if got := r.StateOf(DailySalesSummary); got != StateStale {
		t.Fatalf("initial state = %s, want stale", got)
	}
	if err := r.Refresh(context.Background(), DailySalesSummary); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := r.StateOf(DailySalesSummary); got != StateFresh {
		t.Fatalf("state = %s, want fresh", got)
	}
	if repo.RefreshCount(DailySalesSummary) != 1 {
		t.Fatalf("refresh count = %d, want 1", repo.RefreshCount(DailySalesSummary))
	}
}

func TestRefreshUnknownView(t *testing.T) {
	t.Parallel()

	r := &Refresher{Repo: &gateRepo{Repo: memory.NewRepo()}}
	if err := r.Refresh(context.Background(), "view_nope"); err == nil {
		t.Fatal("expected error for unknown view")
	}
}

func TestInvalidateMarksStale(t *testing.T) {
	t.Parallel()

	r := &Refresher{Repo: &gateRepo{Repo: memory.NewRepo()}}
	if err := r.RefreshAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.Invalidate()
	for _, v := range Definitions() {
		if got := r.StateOf(v.Name); got != StateStale {
			t.Fatalf("%s state = %s, want stale", v.Name, got)
		}
	}
}

func TestConcurrentRefreshCollapses(t *testing.T) {
	t.Parallel()

	repo := &gateRepo{Repo: memory.NewRepo(), block: make(chan struct{})}
	r := &Refresher{Repo: repo}

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Refresh(context.Background(), DailySalesSummary)
		}(i)
	}

	// Wait until the single build is parked on the gate, then release.
	deadline := time.Now().Add(2 * time.Second)
	for repo.inflight.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no build started")
		}
		time.Sleep(time.Millisecond)
	}
	close(repo.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := repo.RefreshCount(DailySalesSummary); got != 1 {
		t.Fatalf("refresh count = %d, want 1 collapsed build", got)
	}
}

func TestRefreshSkipsWhenLockHeld(t *testing.T) {
	t.Parallel()

	locker := &lock.LocalLocker{}
	release, err := locker.Acquire(context.Background(), "view:"+DailySalesSummary, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer release(context.Background())

	repo := &gateRepo{Repo: memory.NewRepo()}
	r := &Refresher{Repo: repo, Locker: locker}

	if err := r.Refresh(context.Background(), DailySalesSummary); err != nil {
		t.Fatalf("Refresh while locked: %v", err)
	}
	if got := repo.RefreshCount(DailySalesSummary); got != 0 {
		t.Fatalf("refresh count = %d, want 0 (skipped)", got)
	}
}

func TestRefreshTimeout(t *testing.T) {
	t.Parallel()

	repo := &gateRepo{Repo: memory.NewRepo(), block: make(chan struct{})}
	r := &Refresher{Repo: repo, Timeout: 30 * time.Millisecond}

	err := r.Refresh(context.Background(), DailySalesSummary)
	var terr *mart.RefreshTimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want RefreshTimeoutError", err)
	}
	if terr.View != DailySalesSummary {
		t.Fatalf("timeout names view %q", terr.View)
	}
	if got := r.StateOf(DailySalesSummary); got != StateStale {
		t.Fatalf("state after timeout = %s, want stale", got)
	}
	if repo.RefreshCount(DailySalesSummary) != 0 {
		t.Fatal("timed-out build must not publish")
	}
}

func TestRefreshError(t *testing.T) {
	t.Parallel()

	repo := &gateRepo{Repo: memory.NewRepo(), err: errors.New("disk full")}
	r := &Refresher{Repo: repo}

	if err := r.Refresh(context.Background(), DailySalesSummary); err == nil {
		t.Fatal("expected error")
	}
	if got := r.StateOf(DailySalesSummary); got != StateStale {
		t.Fatalf("state after failure = %s, want stale", got)
	}
}
