package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mart/internal/mart"
)

// Config is the minimal configuration needed to create a Repository.
//
// Kind must match a registered backend kind ("postgres", "sqlite", "mssql").
// DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the backend-agnostic persistence surface for the data mart.
//
// IMPORTANT: this interface is intentionally focused on the operations the
// loaders need. Each backend implements the semantics in its own idiomatic way
// (Postgres ON CONFLICT, SQLite OR IGNORE, SQL Server NOT EXISTS guards), but
// the behavioral contract is identical:
//
//   - dimension writes are transactional expire-and-insert (no half-closed rows)
//   - fact inserts are append-only and idempotent on (order_id, order_item_id)
//   - metric replacement is delete-range + insert in one transaction
//   - view refresh builds a shadow table and swaps it atomically
type Repository interface {
	// Close releases backend resources. Treat as "call once" at shutdown.
	Close()

	// EnsureSchema creates the mart tables if they do not exist. Idempotent.
	EnsureSchema(ctx context.Context) error

	// EnsureDates inserts dim_date rows that do not yet exist. Idempotent.
	EnsureDates(ctx context.Context, rows []mart.DateRow) error

	// CurrentVersion returns the current SCD2 row for a business key, or nil
	// when the key has never been seen.
	CurrentVersion(ctx context.Context, dim mart.Dimension, businessKey string) (*mart.DimensionVersion, error)

	// InsertFirstVersion opens version 1 for a never-seen business key and
	// returns its surrogate key. ValidFrom is taken from v; valid_to is set to
	// mart.EndOfTime and is_current to true.
	InsertFirstVersion(ctx context.Context, dim mart.Dimension, v mart.DimensionVersion) (int64, error)

	// SupersedeVersion atomically closes the current row identified by
	// currentKey (valid_to = next.ValidFrom, is_current = false) and inserts
	// next as the new current row, in one transaction.
	//
	// If the conditional close matches zero rows (another writer already
	// superseded currentKey), the transaction rolls back and the error wraps
	// *mart.ConflictError so callers can re-read and retry.
	SupersedeVersion(ctx context.Context, dim mart.Dimension, currentKey int64, next mart.DimensionVersion) (int64, error)

	// VersionKeysAt resolves surrogate keys for a set of business keys as of a
	// point in time (valid_from <= at < valid_to). Keys with no version valid
	// at that instant are absent from the result, not an error.
	VersionKeysAt(ctx context.Context, dim mart.Dimension, businessKeys []string, at time.Time) (map[string]int64, error)

	// InsertFactRows appends fact_sales rows. Rows whose (order_id,
	// order_item_id) already exist are skipped, making reprocessing idempotent.
	// Returns the number of rows actually inserted.
	InsertFactRows(ctx context.Context, rows []mart.FactSalesRow) (int64, error)

	// FactRowsBetween returns fact rows with order_date_key in [fromKey,
	// toKey), joined to their dimension business keys for aggregation.
	FactRowsBetween(ctx context.Context, fromKey, toKey int64) ([]mart.FactJoinRow, error)

	// ReplaceMetricRows wholesale-replaces metric rows for a date_key range:
	// DELETE WHERE date_key in [fromKey, toKey), then bulk insert, in one
	// transaction. Rerunning with identical input yields identical table state.
	ReplaceMetricRows(ctx context.Context, table string, fromKey, toKey int64, columns []string, rows [][]any) error

	// RefreshView rebuilds a materialized view: the view's select runs into a
	// shadow table which then replaces the published table atomically, so
	// concurrent readers observe either the fully-old or fully-new version.
	RefreshView(ctx context.Context, view ViewSpec) error
}

// ViewSpec names a materialized view and the select that derives it.
type ViewSpec struct {
	Name   string
	Select string
}

// ---- backend factories (kind -> constructor) ----

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package. Registering the
// same kind twice panics: fail fast instead of ambiguous backend selection.
func Register(kind string, f factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Returns an error if cfg.Kind is empty or unregistered, plus whatever error
// the factory returns. Safe for concurrent use with Register.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	factoryMu.RLock()
	f := factories[cfg.Kind]
	factoryMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
