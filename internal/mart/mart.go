// Package mart defines the records flowing through the dimensional data mart
// pipeline: dimension snapshots and versions, order-line events, fact rows, and
// the error taxonomy shared by the loaders.
//
// The package is storage-agnostic. Everything here is plain data plus pure
// derivation logic; persistence lives in internal/storage.
package mart

import (
	"time"

	"github.com/shopspring/decimal"
)

// Dimension identifies one of the SCD2 dimensions by its table name.
type Dimension string

const (
	DimCustomer Dimension = "dim_customer"
	DimSeller   Dimension = "dim_seller"
	DimProduct  Dimension = "dim_product"
)

// EndOfTime is the sentinel valid_to for open (current) dimension rows.
//
// A far-future literal is used instead of NULL so that point-in-time range
// queries (valid_from <= t AND t < valid_to) need no NULL branch and can use a
// plain composite index on (business_key, valid_from, valid_to).
var EndOfTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// BeginningOfTime is the sentinel valid_from for a business key's first
// version. A member's first sighting says nothing about when its attributes
// started holding, so v1 covers all history before it; facts purchased before
// the first dimension load still resolve point-in-time to v1.
var BeginningOfTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

// Attr is one descriptive field of a dimension row.
//
// Attrs are ordered: the order defines both the canonical form hashed into
// AttrHash and the column order used by storage backends. Attr names must match
// the column names declared in storage.MartTables.
type Attr struct {
	Name  string
	Value any
}

// Snapshot is an incoming attribute snapshot for one business entity.
//
// Snapshots are produced by the typed builders (CustomerSnapshot.Snapshot etc),
// which validate required fields and apply derivations before handing the
// generic shape to the dimension loader.
type Snapshot struct {
	Dimension   Dimension
	BusinessKey string
	Attrs       []Attr
}

// DimensionVersion is one SCD2 version of a business entity.
//
// Invariants maintained by the loader and storage layer:
//   - exactly one version per business key has IsCurrent=true and
//     ValidTo=EndOfTime
//   - validity windows for the same business key never overlap and are
//     contiguous once the key exists
type DimensionVersion struct {
	SurrogateKey int64
	BusinessKey  string
	Attrs        []Attr
	AttrHash     string
	ValidFrom    time.Time
	ValidTo      time.Time
	IsCurrent    bool
}

// Attr returns the value of the named attribute and whether it is present.
func (v *DimensionVersion) Attr(name string) (any, bool) {
	for _, a := range v.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// OrderLineEvent is one normalized order line as emitted by the source feed.
//
// Events are immutable inputs. PurchasedAt is the business timestamp used for
// point-in-time dimension resolution.
type OrderLineEvent struct {
	OrderID     string
	OrderItemID int

	CustomerID string
	SellerID   string
	ProductID  string

	PurchasedAt         time.Time
	DeliveredAt         *time.Time
	EstimatedDeliveryAt *time.Time

	Price        decimal.Decimal
	FreightValue decimal.Decimal

	// ReviewScore is nil when the order line has no review yet. The
	// aggregator excludes nil scores from averages.
	ReviewScore *int
}

// TotalAmount is the exact line total: price + freight.
func (e OrderLineEvent) TotalAmount() decimal.Decimal {
	return e.Price.Add(e.FreightValue)
}

// DeliveryDelayDays is actual minus estimated delivery in whole days.
// Returns nil until the line is delivered or when no estimate exists.
func (e OrderLineEvent) DeliveryDelayDays() *int {
	if e.DeliveredAt == nil || e.EstimatedDeliveryAt == nil {
		return nil
	}
	d := int(e.DeliveredAt.Sub(*e.EstimatedDeliveryAt).Hours() / 24)
	return &d
}

// ShippingDays is delivery minus purchase in whole days, nil until delivered.
func (e OrderLineEvent) ShippingDays() *int {
	if e.DeliveredAt == nil {
		return nil
	}
	d := int(e.DeliveredAt.Sub(e.PurchasedAt).Hours() / 24)
	return &d
}

// FactSalesRow is one immutable fact_sales row with surrogate keys resolved.
type FactSalesRow struct {
	OrderID     string
	OrderItemID int

	CustomerKey int64
	SellerKey   int64
	ProductKey  int64

	OrderDateKey    int64
	DeliveryDateKey *int64

	Price        decimal.Decimal
	FreightValue decimal.Decimal
	TotalAmount  decimal.Decimal

	DeliveryDelayDays *int
	ShippingDays      *int
	ReviewScore       *int
}

// FactJoinRow is a fact row joined back to its dimension business keys, as
// returned by Repository.FactRowsBetween for metric aggregation.
type FactJoinRow struct {
	OrderID     string
	OrderItemID int

	OrderDateKey int64

	CustomerID      string
	SellerID        string
	ProductID       string
	ProductCategory string

	Price        decimal.Decimal
	FreightValue decimal.Decimal
	TotalAmount  decimal.Decimal

	DeliveryDelayDays *int
	ReviewScore       *int
}

// DateRow is one immutable dim_date row.
type DateRow struct {
	DateKey   int64
	Date      time.Time
	Day       int
	Month     int
	Year      int
	Quarter   int
	DayOfWeek int
	IsWeekend bool
	IsHoliday bool
}

// DateKey encodes a timestamp's calendar date (UTC) as yyyymmdd.
func DateKey(t time.Time) int64 {
	t = t.UTC()
	return int64(t.Year())*10000 + int64(t.Month())*100 + int64(t.Day())
}

// Midnight truncates t to the start of its UTC day.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
