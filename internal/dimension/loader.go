// Package dimension implements the SCD2 dimension loader: it compares
// incoming source snapshots against the stored current version of each
// dimension member and expires-and-inserts when tracked attributes
// changed.
package dimension

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mart/internal/mart"
	"mart/internal/metrics"
	"mart/internal/storage"
)

// Logger is the minimal logging interface used by the loader.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Source yields one dimension snapshot. The typed snapshot builders in
// internal/mart (CustomerSnapshot, SellerSnapshot, ProductSnapshot)
// satisfy it.
type Source interface {
	Snapshot() (mart.Snapshot, error)
}

// Result summarizes one Load call.
type Result struct {
	Inserted  int
	Updated   int
	Unchanged int
	Rejected  int

	// Rejections holds the per-snapshot validation errors behind the
	// Rejected count, in no particular order.
	Rejections []error
}

// Loader applies snapshots with SCD2 semantics.
//
// Concurrency model:
//   - snapshots for distinct business keys are applied by Workers
//     goroutines in parallel;
//   - snapshots for the same business key serialize on a sharded key
//     lock, so the read-compare-supersede sequence stays atomic per
//     member within the process;
//   - a concurrent writer in another process surfaces as ConflictError
//     from the repository, which triggers a re-read and retry.
type Loader struct {
	Repo    storage.Repository
	Logger  Logger
	Metrics metrics.Backend

	// Workers caps the number of concurrent snapshot applications.
	// Defaults to 4.
	Workers int

	// MaxRetries bounds re-reads after a supersede conflict. Defaults
	// to 3.
	MaxRetries int

	keyLocks [64]sync.Mutex
}

func (l *Loader) logf() func(format string, v ...any) {
	if l.Logger == nil {
		lg := log.New(discardWriter{}, "", 0)
		return lg.Printf
	}
	return l.Logger.Printf
}

func (l *Loader) metrics() metrics.Backend {
	if l.Metrics == nil {
		return metrics.Nop{}
	}
	return l.Metrics
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Load applies a batch of snapshots effective at the given instant.
//
// When to use:
//   - Call once per source extract per dimension, with at set to the
//     extract time (UTC).
//
// Edge cases:
//   - Snapshots that fail validation are counted as Rejected and do not
//     stop the batch.
//   - A snapshot whose attributes hash-match the current version is
//     Unchanged; no write happens.
//   - A snapshot effective at or before the current version's
//     valid_from is rejected: applying it would corrupt the validity
//     chain.
//
// Errors:
//   - Returns the first storage error; validation failures are reported
//     through Result, not the error return.
func (l *Loader) Load(ctx context.Context, dim mart.Dimension, sources []Source, at time.Time) (Result, error) {
	logf := l.logf()
	start := time.Now()
	at = at.UTC()

	workers := l.Workers
	if workers <= 0 {
		workers = 4
	}

	var mu sync.Mutex
	var res Result

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, src := range sources {
		g.Go(func() error {
			outcome, err := l.apply(ctx, dim, src, at)
			if err != nil {
				return err
			}

			mu.Lock()
			switch outcome.kind {
			case outcomeInserted:
				res.Inserted++
			case outcomeUpdated:
				res.Updated++
			case outcomeUnchanged:
				res.Unchanged++
			case outcomeRejected:
				res.Rejected++
				res.Rejections = append(res.Rejections, outcome.reason)
			}
			mu.Unlock()

			l.metrics().IncCounter(metrics.MetricDimVersions, 1, metrics.Labels{
				"dimension": string(dim),
				"outcome":   outcome.kind.String(),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	logf("stage=load_dimension dim=%s inserted=%d updated=%d unchanged=%d rejected=%d duration=%s",
		dim, res.Inserted, res.Updated, res.Unchanged, res.Rejected, time.Since(start).Truncate(time.Millisecond))
	return res, nil
}

type outcomeKind int

const (
	outcomeInserted outcomeKind = iota
	outcomeUpdated
	outcomeUnchanged
	outcomeRejected
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeInserted:
		return "inserted"
	case outcomeUpdated:
		return "updated"
	case outcomeUnchanged:
		return "unchanged"
	default:
		return "rejected"
	}
}

type outcome struct {
	kind   outcomeKind
	reason error
}

func (l *Loader) apply(ctx context.Context, dim mart.Dimension, src Source, at time.Time) (outcome, error) {
	snap, err := src.Snapshot()
	if err != nil {
		var verr *mart.ValidationError
		if errors.As(err, &verr) {
			return outcome{kind: outcomeRejected, reason: err}, nil
		}
		return outcome{}, err
	}

	lock := l.keyLock(dim, snap.BusinessKey)
	lock.Lock()
	defer lock.Unlock()

	hash := mart.AttrHash(snap.Attrs)

	maxRetries := l.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	for attempt := 0; ; attempt++ {
		cur, err := l.Repo.CurrentVersion(ctx, dim, snap.BusinessKey)
		if err != nil {
			return outcome{}, err
		}

		if cur == nil {
			// v1 opens at the beginning-of-time sentinel, not at the batch
			// time: facts purchased before the member's first sighting must
			// still resolve to a version.
			_, err := l.Repo.InsertFirstVersion(ctx, dim, mart.DimensionVersion{
				BusinessKey: snap.BusinessKey,
				Attrs:       snap.Attrs,
				AttrHash:    hash,
				ValidFrom:   mart.BeginningOfTime,
				ValidTo:     mart.EndOfTime,
				IsCurrent:   true,
			})
			if err != nil {
				return outcome{}, err
			}
			return outcome{kind: outcomeInserted}, nil
		}

		if cur.AttrHash == hash {
			return outcome{kind: outcomeUnchanged}, nil
		}

		if !at.After(cur.ValidFrom) {
			return outcome{kind: outcomeRejected, reason: &mart.ValidationError{
				Kind:        string(dim),
				BusinessKey: snap.BusinessKey,
				Field:       "effective_at",
				Reason:      fmt.Sprintf("snapshot at %s is not after current version valid_from %s", at, cur.ValidFrom),
			}}, nil
		}

		_, err = l.Repo.SupersedeVersion(ctx, dim, cur.SurrogateKey, mart.DimensionVersion{
			BusinessKey: snap.BusinessKey,
			Attrs:       snap.Attrs,
			AttrHash:    hash,
			ValidFrom:   at,
			ValidTo:     mart.EndOfTime,
			IsCurrent:   true,
		})
		if err == nil {
			return outcome{kind: outcomeUpdated}, nil
		}

		var conflict *mart.ConflictError
		if errors.As(err, &conflict) && attempt < maxRetries {
			// Another writer expired the version we read; re-read and
			// re-evaluate against the new current row.
			continue
		}
		return outcome{}, err
	}
}

func (l *Loader) keyLock(dim mart.Dimension, businessKey string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(dim))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(businessKey))
	return &l.keyLocks[h.Sum32()%uint32(len(l.keyLocks))]
}
