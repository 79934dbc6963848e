package source

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestReadCustomers(t *testing.T) {
	t.Parallel()

	in := strings.NewReader(
		"customer_id,customer_zip_code_prefix,customer_city,customer_state\n" +
			"c1,01310,sao paulo,SP\n" +
			"c2,50030, recife ,PE\n")

	got, err := ReadCustomers(in, nil)
	if err != nil {
		t.Fatalf("ReadCustomers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].CustomerID != "c1" || got[0].City != "sao paulo" || got[0].State != "SP" {
		t.Fatalf("row 0 = %+v", got[0])
	}
	if got[1].City != "recife" {
		t.Fatalf("fields must be trimmed: %+v", got[1])
	}
}

func TestReadProductsWithTranslations(t *testing.T) {
	t.Parallel()

	translations := map[string]string{"beleza_saude": "health_beauty"}
	in := strings.NewReader(
		"product_id,product_category_name,product_weight_g,product_length_cm,product_height_cm,product_width_cm\n" +
			"p1,beleza_saude,300,10,5,10\n" +
			"p2,esporte_lazer,900,30,20,10\n")

	got, err := ReadProducts(in, translations, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].CategoryEnglish != "health_beauty" {
		t.Errorf("p1 english = %q", got[0].CategoryEnglish)
	}
	if got[1].CategoryEnglish != "" {
		t.Errorf("untranslated category must stay empty, got %q", got[1].CategoryEnglish)
	}
	if got[0].WeightG != 300 || got[0].LengthCM != 10 {
		t.Errorf("measurements wrong: %+v", got[0])
	}
}

func TestReadOrderLinesMerge(t *testing.T) {
	t.Parallel()

	orders := strings.NewReader(
		"order_id,customer_id,order_purchase_timestamp,order_delivered_customer_date,order_estimated_delivery_date\n" +
			"o1,c1,2021-06-03 14:30:00,2021-06-10 12:00:00,2021-06-08 00:00:00\n" +
			"o2,c2,2021-06-04 09:00:00,,\n")
	items := strings.NewReader(
		"order_id,order_item_id,product_id,seller_id,price,freight_value\n" +
			"o1,1,p1,s1,49.90,8.72\n" +
			"o1,2,p2,s1,15.00,3.10\n" +
			"o2,1,p1,s2,20.00,5.00\n" +
			"orphan,1,p1,s1,1.00,0.50\n")
	reviews := strings.NewReader(
		"order_id,review_score\n" +
			"o1,4\n")

	var parseErrs int
	got, err := ReadOrderLines(orders, items, reviews, func(line int, err error) { parseErrs++ })
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (orphan skipped)", len(got))
	}
	if parseErrs != 1 {
		t.Fatalf("parse errors = %d, want 1 for the orphan item", parseErrs)
	}

	first := got[0]
	if first.OrderID != "o1" || first.OrderItemID != 1 || first.CustomerID != "c1" {
		t.Fatalf("merge wrong: %+v", first)
	}
	wantPurchase := time.Date(2021, 6, 3, 14, 30, 0, 0, time.UTC)
	if !first.PurchasedAt.Equal(wantPurchase) {
		t.Fatalf("purchased = %s, want %s", first.PurchasedAt, wantPurchase)
	}
	if first.DeliveredAt == nil || first.EstimatedDeliveryAt == nil {
		t.Fatal("o1 delivery timestamps missing")
	}
	if !first.Price.Equal(decimal.RequireFromString("49.90")) {
		t.Fatalf("price = %s", first.Price)
	}
	if first.ReviewScore == nil || *first.ReviewScore != 4 {
		t.Fatalf("review = %v, want 4", first.ReviewScore)
	}

	undelivered := got[2]
	if undelivered.OrderID != "o2" {
		t.Fatalf("row order unexpected: %+v", undelivered)
	}
	if undelivered.DeliveredAt != nil || undelivered.ReviewScore != nil {
		t.Fatalf("o2 must have nil delivery and review: %+v", undelivered)
	}
}

// Resubmitted reviews: the score with the latest creation timestamp
// wins even when an older resubmission appears later in the file.
func TestReadOrderLinesKeepsLatestReview(t *testing.T) {
	t.Parallel()

	orders := strings.NewReader(
		"order_id,customer_id,order_purchase_timestamp\n" +
			"o1,c1,2021-06-03 14:30:00\n")
	items := strings.NewReader(
		"order_id,order_item_id,product_id,seller_id,price,freight_value\n" +
			"o1,1,p1,s1,49.90,8.72\n")
	reviews := strings.NewReader(
		"order_id,review_score,review_creation_date\n" +
			"o1,5,2021-06-12 08:00:00\n" +
			"o1,2,2021-06-10 08:00:00\n")

	got, err := ReadOrderLines(orders, items, reviews, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].ReviewScore == nil || *got[0].ReviewScore != 5 {
		t.Fatalf("review = %v, want latest score 5", got[0].ReviewScore)
	}
}

func TestReadOrderLinesWithoutReviews(t *testing.T) {
	t.Parallel()

	orders := strings.NewReader(
		"order_id,customer_id,order_purchase_timestamp\n" +
			"o1,c1,2021-06-03 14:30:00\n")
	items := strings.NewReader(
		"order_id,order_item_id,product_id,seller_id,price,freight_value\n" +
			"o1,1,p1,s1,49.90,8.72\n")

	got, err := ReadOrderLines(orders, items, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ReviewScore != nil {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestReadCategoryTranslations(t *testing.T) {
	t.Parallel()

	in := strings.NewReader(
		"product_category_name,product_category_name_english\n" +
			"beleza_saude,health_beauty\n" +
			",ignored\n")

	got, err := ReadCategoryTranslations(in, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["beleza_saude"] != "health_beauty" {
		t.Fatalf("unexpected map: %v", got)
	}
}
