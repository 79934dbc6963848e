package view

import "mart/internal/storage"

// Managed view names.
const (
	DailySalesSummary          = "view_daily_sales_summary"
	MonthlyCategoryPerformance = "view_monthly_category_performance"
)

// Definitions returns the managed view specs. The SELECTs stick to
// portable SQL: plain joins and grouped aggregates that run unchanged
// on Postgres, SQLite and SQL Server.
func Definitions() []storage.ViewSpec {
	return []storage.ViewSpec{
		{
			Name: DailySalesSummary,
			Select: `SELECT d.date_key,
       d.year,
       d.month,
       d.day,
       COUNT(DISTINCT f.order_id) AS orders,
       COUNT(*)                   AS items,
       SUM(f.total_amount)        AS gross_revenue,
       SUM(f.freight_value)       AS freight_total,
       AVG(f.price)               AS avg_item_price,
       AVG(f.review_score)        AS avg_review_score
FROM fact_sales f
JOIN dim_date d ON d.date_key = f.order_date_key
GROUP BY d.date_key, d.year, d.month, d.day`,
		},
		{
			Name: MonthlyCategoryPerformance,
			Select: `SELECT d.year,
       d.month,
       p.product_category_name,
       COUNT(DISTINCT f.order_id) AS orders,
       COUNT(*)                   AS units_sold,
       SUM(f.total_amount)        AS gross_revenue,
       AVG(f.review_score)        AS avg_review_score,
       AVG(f.delivery_delay_days) AS avg_delivery_delay
FROM fact_sales f
JOIN dim_date d    ON d.date_key    = f.order_date_key
JOIN dim_product p ON p.product_key = f.product_key
GROUP BY d.year, d.month, p.product_category_name`,
		},
	}
}
