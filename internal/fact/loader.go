// Package fact implements the fact loader: it resolves each order line
// event's dimension members to the surrogate keys that were valid at
// purchase time, computes the derived measures, and appends immutable
// rows to fact_sales.
package fact

import (
	"context"
	"log"
	"sort"
	"time"

	"mart/internal/dimension"
	"mart/internal/mart"
	"mart/internal/metrics"
	"mart/internal/storage"
)

// Logger is the minimal logging interface used by the loader.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Result summarizes one Load call.
type Result struct {
	// Inserted counts rows newly written. Replayed lines that already
	// exist are deduplicated by the storage layer and not counted.
	Inserted int64

	// Deferred holds events that referenced a dimension member with no
	// version valid at purchase time. The caller can redrive them after
	// the next dimension load.
	Deferred []mart.OrderLineEvent

	// Gaps holds one ReferentialGapError per deferred event.
	Gaps []error

	Rejected   int
	Rejections []error
}

// Loader turns order line events into fact rows.
type Loader struct {
	Repo    storage.Repository
	Logger  Logger
	Metrics metrics.Backend

	// BatchSize bounds how many events are resolved and inserted per
	// round trip group. Defaults to 500.
	BatchSize int
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

// Load appends fact rows for the given events.
//
// When to use:
//   - Call after the dimension loaders for the same extract have
//     finished, so purchase-time lookups can resolve.
//
// Edge cases:
//   - Events failing validation are counted Rejected and skipped.
//   - Events whose customer, seller or product has no version valid at
//     purchase time are returned in Deferred, not inserted and not
//     treated as errors; the mart stays internally consistent.
//   - Replaying a batch is idempotent: (order_id, order_item_id) rows
//     that already exist are silently skipped.
//
// Errors:
//   - Returns the first storage error. Validation and referential gaps
//     are reported through Result.
func (l *Loader) Load(ctx context.Context, events []mart.OrderLineEvent) (Result, error) {
	logf := l.logf()
	start := time.Now()

	var res Result

	valid := make([]mart.OrderLineEvent, 0, len(events))
	for _, e := range events {
		if err := validate(e); err != nil {
			res.Rejected++
			res.Rejections = append(res.Rejections, err)
			continue
		}
		valid = append(valid, e)
	}

	if err := l.ensureDates(ctx, valid); err != nil {
		return res, err
	}

	// Events sharing a purchase instant resolve against the same
	// dimension state, so group by instant and batch the lookups.
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].PurchasedAt.Before(valid[j].PurchasedAt)
	})

	batchSize := l.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	pending := make([]mart.FactSalesRow, 0, batchSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := l.Repo.InsertFactRows(ctx, pending)
		if err != nil {
			return err
		}
		res.Inserted += n
		pending = pending[:0]
		return nil
	}

	for i := 0; i < len(valid); {
		end := i + 1
		for end < len(valid) && valid[end].PurchasedAt.Equal(valid[i].PurchasedAt) {
			end++
		}
		group := valid[i:end]
		i = end

		rows, deferred, gaps, err := l.resolveGroup(ctx, group)
		if err != nil {
			return res, err
		}
		res.Deferred = append(res.Deferred, deferred...)
		res.Gaps = append(res.Gaps, gaps...)

		for _, row := range rows {
			pending = append(pending, row)
			if len(pending) >= batchSize {
				if err := flush(); err != nil {
					return res, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	l.metrics().IncCounter(metrics.MetricFactRows, float64(res.Inserted), metrics.Labels{"outcome": "inserted"})
	l.metrics().IncCounter(metrics.MetricFactRows, float64(len(res.Deferred)), metrics.Labels{"outcome": "deferred"})
	l.metrics().IncCounter(metrics.MetricFactRows, float64(res.Rejected), metrics.Labels{"outcome": "rejected"})

	logf("stage=load_facts inserted=%d deferred=%d rejected=%d duration=%s",
		res.Inserted, len(res.Deferred), res.Rejected, time.Since(start).Truncate(time.Millisecond))
	return res, nil
}

// resolveGroup resolves surrogate keys for events sharing one purchase
// instant. Events with a missing member come back as deferred.
func (l *Loader) resolveGroup(ctx context.Context, group []mart.OrderLineEvent) ([]mart.FactSalesRow, []mart.OrderLineEvent, []error, error) {
	at := group[0].PurchasedAt

	customers := make([]string, 0, len(group))
	sellers := make([]string, 0, len(group))
	products := make([]string, 0, len(group))
	for _, e := range group {
		customers = append(customers, e.CustomerID)
		sellers = append(sellers, e.SellerID)
		products = append(products, e.ProductID)
	}

	customerKeys, err := l.Repo.VersionKeysAt(ctx, mart.DimCustomer, dedupe(customers), at)
	if err != nil {
		return nil, nil, nil, err
	}
	sellerKeys, err := l.Repo.VersionKeysAt(ctx, mart.DimSeller, dedupe(sellers), at)
	if err != nil {
		return nil, nil, nil, err
	}
	productKeys, err := l.Repo.VersionKeysAt(ctx, mart.DimProduct, dedupe(products), at)
	if err != nil {
		return nil, nil, nil, err
	}

	var rows []mart.FactSalesRow
	var deferred []mart.OrderLineEvent
	var gaps []error

	for _, e := range group {
		gap := func(dim mart.Dimension, key string) {
			deferred = append(deferred, e)
			gaps = append(gaps, &mart.ReferentialGapError{Dimension: dim, BusinessKey: key, At: at})
		}

		customerKey, ok := customerKeys[e.CustomerID]
		if !ok {
			gap(mart.DimCustomer, e.CustomerID)
			continue
		}
		sellerKey, ok := sellerKeys[e.SellerID]
		if !ok {
			gap(mart.DimSeller, e.SellerID)
			continue
		}
		productKey, ok := productKeys[e.ProductID]
		if !ok {
			gap(mart.DimProduct, e.ProductID)
			continue
		}

		rows = append(rows, buildRow(e, customerKey, sellerKey, productKey))
	}
	return rows, deferred, gaps, nil
}

func buildRow(e mart.OrderLineEvent, customerKey, sellerKey, productKey int64) mart.FactSalesRow {
	row := mart.FactSalesRow{
		OrderID:     e.OrderID,
		OrderItemID: e.OrderItemID,

		CustomerKey: customerKey,
		SellerKey:   sellerKey,
		ProductKey:  productKey,

		OrderDateKey: mart.DateKey(e.PurchasedAt),

		Price:        e.Price,
		FreightValue: e.FreightValue,
		TotalAmount:  e.TotalAmount(),

		DeliveryDelayDays: e.DeliveryDelayDays(),
		ShippingDays:      e.ShippingDays(),
		ReviewScore:       e.ReviewScore,
	}
	if e.DeliveredAt != nil {
		k := mart.DateKey(*e.DeliveredAt)
		row.DeliveryDateKey = &k
	}
	return row
}

// ensureDates extends dim_date to cover every date the batch references,
// so fact rows never point at a missing calendar day.
func (l *Loader) ensureDates(ctx context.Context, events []mart.OrderLineEvent) error {
	if len(events) == 0 {
		return nil
	}

	lo, hi := events[0].PurchasedAt, events[0].PurchasedAt
	observe := func(t time.Time) {
		if t.Before(lo) {
			lo = t
		}
		if t.After(hi) {
			hi = t
		}
	}
	for _, e := range events {
		observe(e.PurchasedAt)
		if e.DeliveredAt != nil {
			observe(*e.DeliveredAt)
		}
	}
	return l.Repo.EnsureDates(ctx, dimension.BuildDateRange(lo, hi))
}

func validate(e mart.OrderLineEvent) error {
	switch {
	case e.OrderID == "":
		return &mart.ValidationError{Kind: "order_line", Field: "order_id", Reason: "missing"}
	case e.OrderItemID <= 0:
		return &mart.ValidationError{Kind: "order_line", BusinessKey: e.OrderID, Field: "order_item_id", Reason: "must be positive"}
	case e.CustomerID == "" || e.SellerID == "" || e.ProductID == "":
		return &mart.ValidationError{Kind: "order_line", BusinessKey: e.OrderID, Field: "dimension_ids", Reason: "missing dimension reference"}
	case e.PurchasedAt.IsZero():
		return &mart.ValidationError{Kind: "order_line", BusinessKey: e.OrderID, Field: "purchased_at", Reason: "missing"}
	case e.Price.IsNegative() || e.FreightValue.IsNegative():
		return &mart.ValidationError{Kind: "order_line", BusinessKey: e.OrderID, Field: "price", Reason: "negative amount"}
	case e.ReviewScore != nil && (*e.ReviewScore < 1 || *e.ReviewScore > 5):
		return &mart.ValidationError{Kind: "order_line", BusinessKey: e.OrderID, Field: "review_score", Reason: "outside 1..5"}
	}
	return nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
