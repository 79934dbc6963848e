package storage

import (
	"fmt"

	"mart/internal/mart"
)

// DimensionInsertColumns returns the non-surrogate column list for a dimension
// insert: business key, attribute columns, then SCD2 metadata.
func DimensionInsertColumns(spec DimensionSpec) []string {
	out := make([]string, 0, len(spec.AttrColumns)+5)
	out = append(out, spec.BusinessKey)
	out = append(out, spec.AttrColumns...)
	out = append(out, ColAttrHash, ColValidFrom, ColValidTo, ColIsCurrent)
	return out
}

// VersionValues flattens a DimensionVersion into values aligned with
// DimensionInsertColumns. Attr order must match spec.AttrColumns.
func VersionValues(spec DimensionSpec, v mart.DimensionVersion) ([]any, error) {
	if len(v.Attrs) != len(spec.AttrColumns) {
		return nil, fmt.Errorf("storage: %s version for key=%q has %d attrs, want %d",
			spec.Table, v.BusinessKey, len(v.Attrs), len(spec.AttrColumns))
	}
	out := make([]any, 0, len(v.Attrs)+5)
	out = append(out, v.BusinessKey)
	for i, a := range v.Attrs {
		if a.Name != spec.AttrColumns[i] {
			return nil, fmt.Errorf("storage: %s attr %d is %q, want column %q",
				spec.Table, i, a.Name, spec.AttrColumns[i])
		}
		out = append(out, a.Value)
	}
	out = append(out, v.AttrHash, v.ValidFrom, v.ValidTo, v.IsCurrent)
	return out, nil
}

// AttrsFromValues rebuilds the ordered attr list from scanned column values.
func AttrsFromValues(spec DimensionSpec, vals []any) ([]mart.Attr, error) {
	if len(vals) != len(spec.AttrColumns) {
		return nil, fmt.Errorf("storage: %s scan returned %d attr values, want %d",
			spec.Table, len(vals), len(spec.AttrColumns))
	}
	out := make([]mart.Attr, len(vals))
	for i, v := range vals {
		// Drivers return TEXT as []byte; normalize for comparability.
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out[i] = mart.Attr{Name: spec.AttrColumns[i], Value: v}
	}
	return out, nil
}

// DateColumns is the dim_date insert column order (including the key).
var DateColumns = []string{
	"date_key", "date", "day", "month", "year", "quarter",
	"day_of_week", "is_weekend", "is_holiday",
}

// DateValues flattens a DateRow into values aligned with DateColumns.
func DateValues(r mart.DateRow) []any {
	return []any{
		r.DateKey, r.Date, r.Day, r.Month, r.Year, r.Quarter,
		r.DayOfWeek, r.IsWeekend, r.IsHoliday,
	}
}

// FactValues flattens a FactSalesRow into values aligned with FactColumns.
func FactValues(r mart.FactSalesRow) []any {
	return []any{
		r.OrderID, r.OrderItemID,
		r.CustomerKey, r.SellerKey, r.ProductKey,
		r.OrderDateKey, ptrVal(r.DeliveryDateKey),
		r.Price, r.FreightValue, r.TotalAmount,
		ptrVal(r.DeliveryDelayDays), ptrVal(r.ShippingDays), ptrVal(r.ReviewScore),
	}
}

func ptrVal[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
