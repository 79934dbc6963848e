package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mart/internal/mart"
)

func firstVersion(key string, attrs ...mart.Attr) mart.DimensionVersion {
	return mart.DimensionVersion{
		BusinessKey: key,
		Attrs:       attrs,
		AttrHash:    mart.AttrHash(attrs),
		ValidFrom:   mart.BeginningOfTime,
		ValidTo:     mart.EndOfTime,
		IsCurrent:   true,
	}
}

// FactRowsBetween joins facts back to their dimension business keys and
// carries the product category through for aggregation.
func TestFactRowsBetweenJoinsDimensions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewRepo()

	ck, err := repo.InsertFirstVersion(ctx, mart.DimCustomer,
		firstVersion("c1", mart.Attr{Name: "customer_city", Value: "Recife"}))
	if err != nil {
		t.Fatal(err)
	}
	sk, err := repo.InsertFirstVersion(ctx, mart.DimSeller,
		firstVersion("s1", mart.Attr{Name: "seller_city", Value: "Curitiba"}))
	if err != nil {
		t.Fatal(err)
	}
	pk, err := repo.InsertFirstVersion(ctx, mart.DimProduct,
		firstVersion("p1", mart.Attr{Name: "product_category_name", Value: "beleza_saude"}))
	if err != nil {
		t.Fatal(err)
	}

	n, err := repo.InsertFactRows(ctx, []mart.FactSalesRow{{
		OrderID:      "o1",
		OrderItemID:  1,
		CustomerKey:  ck,
		SellerKey:    sk,
		ProductKey:   pk,
		OrderDateKey: 20210603,
		Price:        decimal.RequireFromString("49.90"),
		FreightValue: decimal.RequireFromString("8.72"),
		TotalAmount:  decimal.RequireFromString("58.62"),
	}})
	if err != nil || n != 1 {
		t.Fatalf("InsertFactRows: n=%d err=%v", n, err)
	}

	rows, err := repo.FactRowsBetween(ctx, 20210601, 20210701)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	r := rows[0]
	if r.CustomerID != "c1" || r.SellerID != "s1" || r.ProductID != "p1" {
		t.Fatalf("business keys wrong: %+v", r)
	}
	if r.ProductCategory != "beleza_saude" {
		t.Fatalf("category = %q, want beleza_saude", r.ProductCategory)
	}
}

func TestSupersedeVersionConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewRepo()

	at := time.Date(2021, 6, 5, 0, 0, 0, 0, time.UTC)
	key, err := repo.InsertFirstVersion(ctx, mart.DimCustomer,
		firstVersion("c1", mart.Attr{Name: "customer_city", Value: "Recife"}))
	if err != nil {
		t.Fatal(err)
	}

	next := firstVersion("c1", mart.Attr{Name: "customer_city", Value: "Manaus"})
	next.ValidFrom = at
	if _, err := repo.SupersedeVersion(ctx, mart.DimCustomer, key, next); err != nil {
		t.Fatalf("first supersede: %v", err)
	}

	// The old surrogate is no longer current; a second writer loses.
	_, err = repo.SupersedeVersion(ctx, mart.DimCustomer, key, next)
	var conflict *mart.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}
