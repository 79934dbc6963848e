// Package postgres implements storage.Repository on top of pgx.
//
// SCD2 writes use transactional conditional updates (the close of the current
// row is keyed on the surrogate key and the is_current flag), so two writers
// racing on the same business key cannot both succeed: the loser's UPDATE
// matches zero rows and the transaction rolls back with a conflict error.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"mart/internal/mart"
	"mart/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

type Repo struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed repository and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

// EnsureSchema creates the mart tables and indexes. Idempotent.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, t := range storage.MartTables() {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		for _, stmt := range ddl {
			if _, err := r.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("create %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

// EnsureDates inserts missing dim_date rows using ON CONFLICT DO NOTHING.
func (r *Repo) EnsureDates(ctx context.Context, rows []mart.DateRow) error {
	if len(rows) == 0 {
		return nil
	}

	// Stay well below the Postgres parameter limit.
	const chunk = 500
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		part := rows[start:end]

		vals := make([][]any, 0, len(part))
		for _, d := range part {
			vals = append(vals, storage.DateValues(d))
		}
		q, args := buildInsertSQL("dim_date", storage.DateColumns, vals, []string{"date_key"})
		if _, err := r.pool.Exec(ctx, q, args...); err != nil {
			return fmt.Errorf("ensure dim_date: %w", err)
		}
	}
	return nil
}

func (r *Repo) CurrentVersion(ctx context.Context, dim mart.Dimension, businessKey string) (*mart.DimensionVersion, error) {
	spec := storage.DimSpec(dim)
	return fetchCurrentVersion(ctx, r.pool, spec, businessKey, false)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func fetchCurrentVersion(ctx context.Context, q querier, spec storage.DimensionSpec, businessKey string, forUpdate bool) (*mart.DimensionVersion, error) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(pgIdent(spec.SurrogateKey))
	for _, c := range spec.AttrColumns {
		b.WriteString(", ")
		b.WriteString(pgIdent(c))
	}
	b.WriteString(", ")
	b.WriteString(pgIdent(storage.ColAttrHash))
	b.WriteString(", ")
	b.WriteString(pgIdent(storage.ColValidFrom))
	b.WriteString(", ")
	b.WriteString(pgIdent(storage.ColValidTo))
	b.WriteString(" FROM ")
	b.WriteString(spec.Table)
	b.WriteString(" WHERE ")
	b.WriteString(pgIdent(spec.BusinessKey))
	b.WriteString(" = $1 AND ")
	b.WriteString(pgIdent(storage.ColIsCurrent))
	if forUpdate {
		b.WriteString(" FOR UPDATE")
	}

	rows, err := q.Query(ctx, b.String(), businessKey)
	if err != nil {
		return nil, fmt.Errorf("%s current version: %w", spec.Table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var surrogate int64
	attrVals := make([]any, len(spec.AttrColumns))
	dests := make([]any, 0, len(attrVals)+4)
	dests = append(dests, &surrogate)
	for i := range attrVals {
		dests = append(dests, &attrVals[i])
	}
	var hash string
	var validFrom, validTo time.Time
	dests = append(dests, &hash, &validFrom, &validTo)

	if err := rows.Scan(dests...); err != nil {
		return nil, fmt.Errorf("%s current version scan: %w", spec.Table, err)
	}

	attrs, err := storage.AttrsFromValues(spec, attrVals)
	if err != nil {
		return nil, err
	}
	return &mart.DimensionVersion{
		SurrogateKey: surrogate,
		BusinessKey:  businessKey,
		Attrs:        attrs,
		AttrHash:     hash,
		ValidFrom:    validFrom.UTC(),
		ValidTo:      validTo.UTC(),
		IsCurrent:    true,
	}, nil
}

func (r *Repo) InsertFirstVersion(ctx context.Context, dim mart.Dimension, v mart.DimensionVersion) (int64, error) {
	spec := storage.DimSpec(dim)
	return insertVersion(ctx, r.pool, spec, v)
}

func insertVersion(ctx context.Context, q querier, spec storage.DimensionSpec, v mart.DimensionVersion) (int64, error) {
	cols := storage.DimensionInsertColumns(spec)
	vals, err := storage.VersionValues(spec, v)
	if err != nil {
		return 0, err
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(spec.Table)
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(") RETURNING ")
	b.WriteString(pgIdent(spec.SurrogateKey))

	rows, err := q.Query(ctx, b.String(), vals...)
	if err != nil {
		return 0, fmt.Errorf("%s insert version: %w", spec.Table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("%s insert version: no key returned", spec.Table)
	}
	var key int64
	if err := rows.Scan(&key); err != nil {
		return 0, err
	}
	rows.Close()
	return key, rows.Err()
}

// SupersedeVersion closes the current row and opens the next one atomically.
func (r *Repo) SupersedeVersion(ctx context.Context, dim mart.Dimension, currentKey int64, next mart.DimensionVersion) (int64, error) {
	spec := storage.DimSpec(dim)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	closeSQL := fmt.Sprintf(
		"UPDATE %s SET %s = $1, %s = FALSE WHERE %s = $2 AND %s",
		spec.Table,
		pgIdent(storage.ColValidTo), pgIdent(storage.ColIsCurrent),
		pgIdent(spec.SurrogateKey), pgIdent(storage.ColIsCurrent),
	)
	tag, err := tx.Exec(ctx, closeSQL, next.ValidFrom, currentKey)
	if err != nil {
		return 0, fmt.Errorf("%s close current: %w", spec.Table, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("%s supersede: %w", spec.Table,
			&mart.ConflictError{Dimension: dim, BusinessKey: next.BusinessKey})
	}

	key, err := insertVersion(ctx, tx, spec, next)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return key, nil
}

// VersionKeysAt resolves surrogate keys valid at a point in time, chunked to
// keep parameter counts bounded.
func (r *Repo) VersionKeysAt(ctx context.Context, dim mart.Dimension, businessKeys []string, at time.Time) (map[string]int64, error) {
	spec := storage.DimSpec(dim)
	out := make(map[string]int64, len(businessKeys))
	if len(businessKeys) == 0 {
		return out, nil
	}

	const chunk = 1000
	for start := 0; start < len(businessKeys); start += chunk {
		end := min(start+chunk, len(businessKeys))
		part := businessKeys[start:end]

		var b strings.Builder
		fmt.Fprintf(&b, "SELECT %s, %s FROM %s WHERE %s <= $1 AND $1 < %s AND %s IN (",
			pgIdent(spec.BusinessKey), pgIdent(spec.SurrogateKey), spec.Table,
			pgIdent(storage.ColValidFrom), pgIdent(storage.ColValidTo),
			pgIdent(spec.BusinessKey),
		)
		args := make([]any, 0, len(part)+1)
		args = append(args, at.UTC())
		for i, k := range part {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i+2)
			args = append(args, k)
		}
		b.WriteString(")")

		rows, err := r.pool.Query(ctx, b.String(), args...)
		if err != nil {
			return nil, fmt.Errorf("%s versions at: %w", spec.Table, err)
		}
		for rows.Next() {
			var k any
			var id int64
			if err := rows.Scan(&k, &id); err != nil {
				rows.Close()
				return nil, err
			}
			out[storage.NormalizeKey(k)] = id
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// InsertFactRows appends fact rows with ON CONFLICT DO NOTHING dedupe.
func (r *Repo) InsertFactRows(ctx context.Context, rows []mart.FactSalesRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	const chunk = 500
	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))

		vals := make([][]any, 0, end-start)
		for _, f := range rows[start:end] {
			vals = append(vals, storage.FactValues(f))
		}
		q, args := buildInsertSQL("fact_sales", storage.FactColumns, vals, storage.FactDedupeColumns)
		tag, err := r.pool.Exec(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert fact_sales: %w", err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

const factJoinSQL = `
SELECT f.order_id, f.order_item_id, f.order_date_key,
       c.customer_id, s.seller_id, p.product_id, p.product_category_name,
       f.price, f.freight_value, f.total_amount,
       f.delivery_delay_days, f.review_score
FROM fact_sales f
JOIN dim_customer c ON c.customer_key = f.customer_key
JOIN dim_seller   s ON s.seller_key   = f.seller_key
JOIN dim_product  p ON p.product_key  = f.product_key
WHERE f.order_date_key >= $1 AND f.order_date_key < $2`

func (r *Repo) FactRowsBetween(ctx context.Context, fromKey, toKey int64) ([]mart.FactJoinRow, error) {
	rows, err := r.pool.Query(ctx, factJoinSQL, fromKey, toKey)
	if err != nil {
		return nil, fmt.Errorf("fact rows between: %w", err)
	}
	defer rows.Close()

	var out []mart.FactJoinRow
	for rows.Next() {
		var f mart.FactJoinRow
		var delay, review sql.NullInt64
		var price, freight, totalAmount decimal.Decimal
		if err := rows.Scan(
			&f.OrderID, &f.OrderItemID, &f.OrderDateKey,
			&f.CustomerID, &f.SellerID, &f.ProductID, &f.ProductCategory,
			&price, &freight, &totalAmount,
			&delay, &review,
		); err != nil {
			return nil, err
		}
		f.Price, f.FreightValue, f.TotalAmount = price, freight, totalAmount
		f.DeliveryDelayDays = nullableInt(delay)
		f.ReviewScore = nullableInt(review)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ReplaceMetricRows deletes the date range and reinserts in one transaction.
func (r *Repo) ReplaceMetricRows(ctx context.Context, table string, fromKey, toKey int64, columns []string, rows [][]any) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	del := fmt.Sprintf("DELETE FROM %s WHERE date_key >= $1 AND date_key < $2", table)
	if _, err := tx.Exec(ctx, del, fromKey, toKey); err != nil {
		return fmt.Errorf("replace %s delete: %w", table, err)
	}

	const chunk = 500
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		q, args := buildInsertSQL(table, columns, rows[start:end], nil)
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return fmt.Errorf("replace %s insert: %w", table, err)
		}
	}
	return tx.Commit(ctx)
}

// RefreshView rebuilds a view into a shadow table and swaps it by rename.
//
// Postgres DDL is transactional, so readers hold their snapshot of the old
// table until commit and then see only the new one.
func (r *Repo) RefreshView(ctx context.Context, view storage.ViewSpec) error {
	shadow := view.Name + "__shadow"

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", shadow),
		fmt.Sprintf("CREATE TABLE %s AS %s", shadow, view.Select),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", view.Name),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", shadow, view.Name),
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("refresh view %s: %w", view.Name, err)
		}
	}
	return tx.Commit(ctx)
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
