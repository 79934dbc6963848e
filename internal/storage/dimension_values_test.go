package storage

import (
	"context"
	"testing"
	"time"

	"mart/internal/mart"
)

func sampleVersion() mart.DimensionVersion {
	return mart.DimensionVersion{
		BusinessKey: "c1",
		Attrs: []mart.Attr{
			{Name: "customer_city", Value: "Recife"},
			{Name: "customer_state", Value: "PE"},
			{Name: "customer_zip_code_prefix", Value: "50030"},
			{Name: "customer_city_size", Value: "Large"},
			{Name: "customer_region", Value: "Northeast"},
		},
		AttrHash:  "deadbeef",
		ValidFrom: time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:   mart.EndOfTime,
		IsCurrent: true,
	}
}

func TestVersionValuesAlignment(t *testing.T) {
	t.Parallel()

	spec := DimSpec(mart.DimCustomer)
	cols := DimensionInsertColumns(spec)
	vals, err := VersionValues(spec, sampleVersion())
	if err != nil {
		t.Fatalf("VersionValues: %v", err)
	}
	if len(vals) != len(cols) {
		t.Fatalf("len(vals)=%d len(cols)=%d", len(vals), len(cols))
	}
	if cols[0] != "customer_id" || vals[0] != "c1" {
		t.Fatalf("business key misaligned: %s=%v", cols[0], vals[0])
	}
	if cols[len(cols)-1] != ColIsCurrent || vals[len(vals)-1] != true {
		t.Fatalf("is_current misaligned")
	}
}

func TestVersionValuesRejectsMisalignedAttrs(t *testing.T) {
	t.Parallel()

	spec := DimSpec(mart.DimCustomer)

	v := sampleVersion()
	v.Attrs = v.Attrs[:3]
	if _, err := VersionValues(spec, v); err == nil {
		t.Fatal("expected error for missing attrs")
	}

	v = sampleVersion()
	v.Attrs[0].Name = "wrong_name"
	if _, err := VersionValues(spec, v); err == nil {
		t.Fatal("expected error for misnamed attr")
	}
}

func TestAttrsFromValuesNormalizesBytes(t *testing.T) {
	t.Parallel()

	spec := DimSpec(mart.DimCustomer)
	vals := []any{[]byte("Recife"), "PE", "50030", "Large", "Northeast"}

	attrs, err := AttrsFromValues(spec, vals)
	if err != nil {
		t.Fatal(err)
	}
	if attrs[0].Value != "Recife" {
		t.Fatalf("bytes not normalized: %T %v", attrs[0].Value, attrs[0].Value)
	}
	if attrs[0].Name != "customer_city" {
		t.Fatalf("name = %s", attrs[0].Name)
	}
}

func TestDimSpecPanicsOnUnknown(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	DimSpec(mart.Dimension("dim_nope"))
}

func TestMetricColumns(t *testing.T) {
	t.Parallel()

	cols, err := MetricColumns("fact_customer_metrics")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"customer_id", "date_key", "orders", "items", "gross_revenue", "freight_total", "avg_review_score"}
	if len(cols) != len(want) {
		t.Fatalf("cols = %v", cols)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Fatalf("cols[%d] = %s, want %s", i, cols[i], want[i])
		}
	}

	if _, err := MetricColumns("fact_nope"); err == nil {
		t.Fatal("expected error for unknown table")
	}
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"  c1  ", "c1"},
		{[]byte("c1"), "c1"},
		{int64(42), "42"},
		{42, "42"},
	}
	for _, tc := range cases {
		if got := NormalizeKey(tc.in); got != tc.want {
			t.Errorf("NormalizeKey(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	t.Parallel()

	stub := func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil }
	Register("dup-test", stub)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate kind")
		}
	}()
	Register("dup-test", stub)
}
