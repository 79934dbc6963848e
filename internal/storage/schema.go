// TableSpec types live here so backend packages can consume them without
// circular deps; the concrete mart schema is defined alongside.
package storage

import (
	"fmt"

	"mart/internal/mart"
)

type TableSpec struct {
	Name        string
	PrimaryKey  *PrimaryKeySpec
	Columns     []ColumnSpec
	Constraints []ConstraintSpec
	Indexes     []IndexSpec
}

type PrimaryKeySpec struct {
	Name string
	Type string // "bigserial" for identity keys, otherwise a plain column type
}

type ColumnSpec struct {
	Name       string
	Type       string
	References string
	Nullable   bool
}

type ConstraintSpec struct {
	Kind    string // "unique"
	Columns []string
}

type IndexSpec struct {
	Name    string
	Columns []string
}

// SCD2 metadata column names shared by every dimension table.
const (
	ColAttrHash  = "attr_hash"
	ColValidFrom = "valid_from"
	ColValidTo   = "valid_to"
	ColIsCurrent = "is_current"
)

// Fact dedupe columns: one fact row per order line, ever.
var FactDedupeColumns = []string{"order_id", "order_item_id"}

// DimensionSpec describes how one SCD2 dimension maps onto its table.
type DimensionSpec struct {
	Table        string
	SurrogateKey string
	BusinessKey  string
	// AttrColumns is the ordered attribute column list. mart.Snapshot /
	// mart.DimensionVersion attrs must align with this order.
	AttrColumns []string
}

var dimensionSpecs = map[mart.Dimension]DimensionSpec{
	mart.DimCustomer: {
		Table:        "dim_customer",
		SurrogateKey: "customer_key",
		BusinessKey:  "customer_id",
		AttrColumns: []string{
			"customer_city", "customer_state", "customer_zip_code_prefix",
			"customer_city_size", "customer_region",
		},
	},
	mart.DimSeller: {
		Table:        "dim_seller",
		SurrogateKey: "seller_key",
		BusinessKey:  "seller_id",
		AttrColumns: []string{
			"seller_city", "seller_state", "seller_zip_code_prefix",
			"seller_region", "seller_city_size",
		},
	},
	mart.DimProduct: {
		Table:        "dim_product",
		SurrogateKey: "product_key",
		BusinessKey:  "product_id",
		AttrColumns: []string{
			"product_category_name", "product_category_name_english",
			"product_weight_g", "product_length_cm", "product_height_cm",
			"product_width_cm", "product_volume_cm3",
			"product_size_category", "product_weight_category",
		},
	},
}

// DimSpec returns the table mapping for a dimension.
//
// Panics on an unknown dimension: that is a programming error, not input.
func DimSpec(d mart.Dimension) DimensionSpec {
	s, ok := dimensionSpecs[d]
	if !ok {
		panic(fmt.Sprintf("storage: unknown dimension %q", d))
	}
	return s
}

// FactColumns is the fact_sales column order used by bulk inserts.
var FactColumns = []string{
	"order_id", "order_item_id",
	"customer_key", "seller_key", "product_key",
	"order_date_key", "delivery_date_key",
	"price", "freight_value", "total_amount",
	"delivery_delay_days", "shipping_days", "review_score",
}

// MartTables returns the full star-schema DDL spec in creation order:
// dimensions first, then facts and metric tables that reference them.
//
// Column types are portable across the three supported backends; each backend
// translates what it must (identity keys, boolean, timestamptz).
func MartTables() []TableSpec {
	dimCustomer := dimensionTable(mart.DimCustomer, []ColumnSpec{
		{Name: "customer_city", Type: "varchar(100)"},
		{Name: "customer_state", Type: "varchar(2)"},
		{Name: "customer_zip_code_prefix", Type: "varchar(5)", Nullable: true},
		{Name: "customer_city_size", Type: "varchar(20)"},
		{Name: "customer_region", Type: "varchar(20)"},
	})

	dimSeller := dimensionTable(mart.DimSeller, []ColumnSpec{
		{Name: "seller_city", Type: "varchar(100)"},
		{Name: "seller_state", Type: "varchar(2)"},
		{Name: "seller_zip_code_prefix", Type: "varchar(5)", Nullable: true},
		{Name: "seller_region", Type: "varchar(20)"},
		{Name: "seller_city_size", Type: "varchar(20)"},
	})

	dimProduct := dimensionTable(mart.DimProduct, []ColumnSpec{
		{Name: "product_category_name", Type: "varchar(100)"},
		{Name: "product_category_name_english", Type: "varchar(100)", Nullable: true},
		{Name: "product_weight_g", Type: "float"},
		{Name: "product_length_cm", Type: "float"},
		{Name: "product_height_cm", Type: "float"},
		{Name: "product_width_cm", Type: "float"},
		{Name: "product_volume_cm3", Type: "float"},
		{Name: "product_size_category", Type: "varchar(20)"},
		{Name: "product_weight_category", Type: "varchar(20)"},
	})

	dimDate := TableSpec{
		Name:       "dim_date",
		PrimaryKey: &PrimaryKeySpec{Name: "date_key", Type: "bigint"},
		Columns: []ColumnSpec{
			{Name: "date", Type: "timestamptz"},
			{Name: "day", Type: "int"},
			{Name: "month", Type: "int"},
			{Name: "year", Type: "int"},
			{Name: "quarter", Type: "int"},
			{Name: "day_of_week", Type: "int"},
			{Name: "is_weekend", Type: "boolean"},
			{Name: "is_holiday", Type: "boolean"},
		},
	}

	factSales := TableSpec{
		Name:       "fact_sales",
		PrimaryKey: &PrimaryKeySpec{Name: "sale_id", Type: "bigserial"},
		Columns: []ColumnSpec{
			{Name: "order_id", Type: "varchar(64)"},
			{Name: "order_item_id", Type: "int"},
			{Name: "customer_key", Type: "bigint", References: "dim_customer(customer_key)"},
			{Name: "seller_key", Type: "bigint", References: "dim_seller(seller_key)"},
			{Name: "product_key", Type: "bigint", References: "dim_product(product_key)"},
			{Name: "order_date_key", Type: "bigint", References: "dim_date(date_key)"},
			{Name: "delivery_date_key", Type: "bigint", Nullable: true},
			{Name: "price", Type: "numeric(12,2)"},
			{Name: "freight_value", Type: "numeric(12,2)"},
			{Name: "total_amount", Type: "numeric(12,2)"},
			{Name: "delivery_delay_days", Type: "int", Nullable: true},
			{Name: "shipping_days", Type: "int", Nullable: true},
			{Name: "review_score", Type: "int", Nullable: true},
		},
		Constraints: []ConstraintSpec{{Kind: "unique", Columns: FactDedupeColumns}},
		Indexes: []IndexSpec{
			{Name: "ix_fact_sales_order_date", Columns: []string{"order_date_key"}},
		},
	}

	return []TableSpec{
		dimDate, dimCustomer, dimSeller, dimProduct, factSales,
		metricTable("fact_customer_metrics", "customer_id", []ColumnSpec{
			{Name: "orders", Type: "int"},
			{Name: "items", Type: "int"},
			{Name: "gross_revenue", Type: "numeric(14,2)"},
			{Name: "freight_total", Type: "numeric(14,2)"},
			{Name: "avg_review_score", Type: "float", Nullable: true},
		}),
		metricTable("fact_seller_metrics", "seller_id", []ColumnSpec{
			{Name: "orders", Type: "int"},
			{Name: "items_sold", Type: "int"},
			{Name: "gross_revenue", Type: "numeric(14,2)"},
			{Name: "avg_delivery_delay", Type: "float", Nullable: true},
			{Name: "avg_review_score", Type: "float", Nullable: true},
		}),
		metricTable("fact_product_metrics", "product_id", []ColumnSpec{
			{Name: "orders", Type: "int"},
			{Name: "units_sold", Type: "int"},
			{Name: "gross_revenue", Type: "numeric(14,2)"},
			{Name: "avg_review_score", Type: "float", Nullable: true},
		}),
	}
}

// dimensionTable builds the TableSpec for one SCD2 dimension: business key,
// attribute columns, then the SCD2 metadata columns. No unique constraint on
// the business key -- multiple versions per key must coexist.
func dimensionTable(d mart.Dimension, attrs []ColumnSpec) TableSpec {
	spec := DimSpec(d)

	cols := make([]ColumnSpec, 0, len(attrs)+5)
	cols = append(cols, ColumnSpec{Name: spec.BusinessKey, Type: "varchar(64)"})
	cols = append(cols, attrs...)
	cols = append(cols,
		ColumnSpec{Name: ColAttrHash, Type: "varchar(64)"},
		ColumnSpec{Name: ColValidFrom, Type: "timestamptz"},
		ColumnSpec{Name: ColValidTo, Type: "timestamptz"},
		ColumnSpec{Name: ColIsCurrent, Type: "boolean"},
	)

	return TableSpec{
		Name:       spec.Table,
		PrimaryKey: &PrimaryKeySpec{Name: spec.SurrogateKey, Type: "bigserial"},
		Columns:    cols,
		Indexes: []IndexSpec{
			// Point-in-time resolution runs range queries over this triple.
			{
				Name:    "ix_" + spec.Table + "_versions",
				Columns: []string{spec.BusinessKey, ColValidFrom, ColValidTo},
			},
		},
	}
}

func metricTable(name, entityColumn string, measures []ColumnSpec) TableSpec {
	cols := make([]ColumnSpec, 0, len(measures)+2)
	cols = append(cols,
		ColumnSpec{Name: entityColumn, Type: "varchar(64)"},
		ColumnSpec{Name: "date_key", Type: "bigint", References: "dim_date(date_key)"},
	)
	cols = append(cols, measures...)

	return TableSpec{
		Name:       name,
		PrimaryKey: &PrimaryKeySpec{Name: "metric_id", Type: "bigserial"},
		Columns:    cols,
		Constraints: []ConstraintSpec{
			{Kind: "unique", Columns: []string{entityColumn, "date_key"}},
		},
		Indexes: []IndexSpec{
			{Name: "ix_" + name + "_date", Columns: []string{"date_key"}},
		},
	}
}

// MetricColumns returns the insert column order for a metric table.
func MetricColumns(table string) ([]string, error) {
	for _, t := range MartTables() {
		if t.Name != table {
			continue
		}
		out := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			out = append(out, c.Name)
		}
		return out, nil
	}
	return nil, fmt.Errorf("storage: unknown metric table %q", table)
}
