// Package memory implements storage.Repository entirely in process
// memory. It exists for two reasons: loader tests get a repository with
// real SCD2 and dedupe semantics without a database, and demo runs can
// use store.kind=memory before any backend is provisioned.
//
// Views are the one surface it cannot honor fully: there is no SQL
// engine here, so RefreshView records the rebuild instead of executing
// the view's select.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mart/internal/mart"
	"mart/internal/storage"
)

func init() {
	storage.Register("memory", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return NewRepo(), nil
	})
}

type version struct {
	mart.DimensionVersion
}

type factKey struct {
	orderID string
	itemID  int
}

// Repo is an in-memory Repository. Safe for concurrent use.
type Repo struct {
	mu sync.Mutex

	nextKey  int64
	versions map[mart.Dimension][]*version

	dates map[int64]mart.DateRow
	facts map[factKey]mart.FactSalesRow

	metricCols map[string][]string
	metricRows map[string][][]any

	refreshes map[string]int
}

func NewRepo() *Repo {
	return &Repo{
		versions:   make(map[mart.Dimension][]*version),
		dates:      make(map[int64]mart.DateRow),
		facts:      make(map[factKey]mart.FactSalesRow),
		metricCols: make(map[string][]string),
		metricRows: make(map[string][][]any),
		refreshes:  make(map[string]int),
	}
}

func (r *Repo) Close() {}

func (r *Repo) EnsureSchema(ctx context.Context) error { return nil }

func (r *Repo) EnsureDates(ctx context.Context, rows []mart.DateRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range rows {
		if _, ok := r.dates[d.DateKey]; !ok {
			r.dates[d.DateKey] = d
		}
	}
	return nil
}

func (r *Repo) CurrentVersion(ctx context.Context, dim mart.Dimension, businessKey string) (*mart.DimensionVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions[dim] {
		if v.BusinessKey == businessKey && v.IsCurrent {
			cp := v.DimensionVersion
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *Repo) InsertFirstVersion(ctx context.Context, dim mart.Dimension, v mart.DimensionVersion) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(dim, v), nil
}

func (r *Repo) insertLocked(dim mart.Dimension, v mart.DimensionVersion) int64 {
	r.nextKey++
	v.SurrogateKey = r.nextKey
	r.versions[dim] = append(r.versions[dim], &version{DimensionVersion: v})
	return v.SurrogateKey
}

func (r *Repo) SupersedeVersion(ctx context.Context, dim mart.Dimension, currentKey int64, next mart.DimensionVersion) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range r.versions[dim] {
		if v.SurrogateKey == currentKey && v.IsCurrent {
			v.ValidTo = next.ValidFrom
			v.IsCurrent = false
			return r.insertLocked(dim, next), nil
		}
	}
	return 0, fmt.Errorf("%s supersede: %w", dim,
		&mart.ConflictError{Dimension: dim, BusinessKey: next.BusinessKey})
}

func (r *Repo) VersionKeysAt(ctx context.Context, dim mart.Dimension, businessKeys []string, at time.Time) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]struct{}, len(businessKeys))
	for _, k := range businessKeys {
		want[k] = struct{}{}
	}

	out := make(map[string]int64)
	for _, v := range r.versions[dim] {
		if _, ok := want[v.BusinessKey]; !ok {
			continue
		}
		if !v.ValidFrom.After(at) && at.Before(v.ValidTo) {
			out[v.BusinessKey] = v.SurrogateKey
		}
	}
	return out, nil
}

func (r *Repo) InsertFactRows(ctx context.Context, rows []mart.FactSalesRow) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var inserted int64
	for _, f := range rows {
		k := factKey{orderID: f.OrderID, itemID: f.OrderItemID}
		if _, ok := r.facts[k]; ok {
			continue
		}
		r.facts[k] = f
		inserted++
	}
	return inserted, nil
}

func (r *Repo) FactRowsBetween(ctx context.Context, fromKey, toKey int64) ([]mart.FactJoinRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []mart.FactJoinRow
	for _, f := range r.facts {
		if f.OrderDateKey < fromKey || f.OrderDateKey >= toKey {
			continue
		}

		customer := r.findBySurrogateLocked(mart.DimCustomer, f.CustomerKey)
		seller := r.findBySurrogateLocked(mart.DimSeller, f.SellerKey)
		product := r.findBySurrogateLocked(mart.DimProduct, f.ProductKey)
		if customer == nil || seller == nil || product == nil {
			return nil, fmt.Errorf("memory: fact %s/%d references missing dimension row", f.OrderID, f.OrderItemID)
		}

		raw, _ := product.Attr("product_category_name")
		category, _ := raw.(string)
		out = append(out, mart.FactJoinRow{
			OrderID:     f.OrderID,
			OrderItemID: f.OrderItemID,

			OrderDateKey: f.OrderDateKey,

			CustomerID:      customer.BusinessKey,
			SellerID:        seller.BusinessKey,
			ProductID:       product.BusinessKey,
			ProductCategory: category,

			Price:        f.Price,
			FreightValue: f.FreightValue,
			TotalAmount:  f.TotalAmount,

			DeliveryDelayDays: f.DeliveryDelayDays,
			ReviewScore:       f.ReviewScore,
		})
	}
	return out, nil
}

func (r *Repo) findBySurrogateLocked(dim mart.Dimension, key int64) *mart.DimensionVersion {
	for _, v := range r.versions[dim] {
		if v.SurrogateKey == key {
			return &v.DimensionVersion
		}
	}
	return nil
}

func (r *Repo) ReplaceMetricRows(ctx context.Context, table string, fromKey, toKey int64, columns []string, rows [][]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dateIx := -1
	for i, c := range columns {
		if c == "date_key" {
			dateIx = i
		}
	}
	if dateIx < 0 {
		return fmt.Errorf("memory: metric table %s has no date_key column", table)
	}

	kept := r.metricRows[table][:0]
	for _, row := range r.metricRows[table] {
		k, ok := row[dateIx].(int64)
		if ok && k >= fromKey && k < toKey {
			continue
		}
		kept = append(kept, row)
	}
	r.metricCols[table] = columns
	r.metricRows[table] = append(kept, rows...)
	return nil
}

func (r *Repo) RefreshView(ctx context.Context, view storage.ViewSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.refreshes[view.Name]++
	r.mu.Unlock()
	return nil
}

// MetricRows returns the stored rows of a metric table, for assertions.
func (r *Repo) MetricRows(table string) [][]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]any, len(r.metricRows[table]))
	copy(out, r.metricRows[table])
	return out
}

// Versions returns every stored version of a business key ordered by
// insertion, for assertions.
func (r *Repo) Versions(dim mart.Dimension, businessKey string) []mart.DimensionVersion {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []mart.DimensionVersion
	for _, v := range r.versions[dim] {
		if v.BusinessKey == businessKey {
			out = append(out, v.DimensionVersion)
		}
	}
	return out
}

// FactCount reports how many fact rows are stored.
func (r *Repo) FactCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.facts)
}

// RefreshCount reports how many times a view has been rebuilt.
func (r *Repo) RefreshCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshes[name]
}

var _ storage.Repository = (*Repo)(nil)
