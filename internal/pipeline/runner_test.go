package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"mart/internal/config"
	"mart/internal/storage/memory"
	"mart/internal/view"
)

func writeExtract(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// historicalExtract writes a minimal Olist-shaped extract whose orders
// predate the mart's first build by years.
func historicalExtract(t *testing.T) config.SourceConfig {
	t.Helper()
	dir := t.TempDir()

	writeExtract(t, dir, "customers.csv",
		"customer_id,customer_zip_code_prefix,customer_city,customer_state\n"+
			"c1,01310,sao paulo,SP\n")
	writeExtract(t, dir, "sellers.csv",
		"seller_id,seller_zip_code_prefix,seller_city,seller_state\n"+
			"s1,80010,curitiba,PR\n")
	writeExtract(t, dir, "products.csv",
		"product_id,product_category_name,product_weight_g,product_length_cm,product_height_cm,product_width_cm\n"+
			"p1,beleza_saude,300,10,5,10\n")
	writeExtract(t, dir, "orders.csv",
		"order_id,customer_id,order_purchase_timestamp,order_delivered_customer_date,order_estimated_delivery_date\n"+
			"o1,c1,2017-03-15 10:30:00,2017-03-20 12:00:00,2017-03-25 00:00:00\n")
	writeExtract(t, dir, "order_items.csv",
		"order_id,order_item_id,product_id,seller_id,price,freight_value\n"+
			"o1,1,p1,s1,49.90,8.72\n")
	writeExtract(t, dir, "order_reviews.csv",
		"order_id,review_score,review_creation_date\n"+
			"o1,4,2017-03-21 08:00:00\n")

	return config.SourceConfig{
		Dir:        dir,
		Customers:  "customers.csv",
		Sellers:    "sellers.csv",
		Products:   "products.csv",
		Orders:     "orders.csv",
		OrderItems: "order_items.csv",
		Reviews:    "order_reviews.csv",
	}
}

// A full build over a historical extract: purchases from 2017 predate
// every dimension load, yet the run must materialize fact rows, metric
// rows and view refreshes.
func TestRunMaterializesHistoricalExtract(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewRepo()
	refresher := &view.Refresher{Repo: repo}

	runner := &Runner{
		Repo:      repo,
		Source:    historicalExtract(t),
		Refresher: refresher,
	}

	if err := runner.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := repo.FactCount(); got != 1 {
		t.Fatalf("fact rows = %d, want 1", got)
	}
	rows := repo.MetricRows("fact_customer_metrics")
	if len(rows) != 1 {
		t.Fatalf("customer metric rows = %d, want 1", len(rows))
	}
	if got := repo.RefreshCount(view.DailySalesSummary); got != 1 {
		t.Fatalf("daily summary refreshes = %d, want 1", got)
	}

	// Rerunning the same extract is idempotent.
	if err := runner.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := repo.FactCount(); got != 1 {
		t.Fatalf("fact rows after rerun = %d, want 1", got)
	}
}

// An extract referencing a translation file that does not exist must
// still build; the translation attribute stays empty.
func TestRunToleratesMissingOptionalExtracts(t *testing.T) {
	t.Parallel()

	src := historicalExtract(t)
	src.CategoryTranslations = "missing_translations.csv"
	src.Reviews = "missing_reviews.csv"

	repo := memory.NewRepo()
	runner := &Runner{Repo: repo, Source: src}

	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := repo.FactCount(); got != 1 {
		t.Fatalf("fact rows = %d, want 1", got)
	}
}
