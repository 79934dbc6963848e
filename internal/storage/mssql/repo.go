// Package mssql implements storage.Repository for SQL Server.
//
// Differences from the other backends: DDL is guarded with OBJECT_ID
// checks because SQL Server lacks CREATE TABLE IF NOT EXISTS, surrogate
// keys come back through OUTPUT INSERTED, and idempotent fact inserts
// are expressed as INSERT ... SELECT ... WHERE NOT EXISTS since there is
// no ON CONFLICT clause.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"

	"mart/internal/mart"
	"mart/internal/storage"
)

func init() {
	storage.Register("mssql", New)
}

type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, t := range storage.MartTables() {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		for _, stmt := range ddl {
			if _, err := r.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

func (r *Repo) EnsureDates(ctx context.Context, rows []mart.DateRow) error {
	if len(rows) == 0 {
		return nil
	}

	// SQL Server caps a statement at 2100 parameters; dim_date has 9
	// columns plus the key probe, keep chunks comfortably below that.
	const chunk = 100
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))

		vals := make([][]any, 0, end-start)
		for _, d := range rows[start:end] {
			vals = append(vals, bindRow(storage.DateValues(d)))
		}
		q, args := buildInsertNotExistsSQL("dim_date", storage.DateColumns, vals, []string{"date_key"})
		if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("ensure dim_date: %w", err)
		}
	}
	return nil
}

func (r *Repo) CurrentVersion(ctx context.Context, dim mart.Dimension, businessKey string) (*mart.DimensionVersion, error) {
	spec := storage.DimSpec(dim)

	var b strings.Builder
	b.WriteString("SELECT TOP 1 ")
	b.WriteString(sqlIdent(spec.SurrogateKey))
	for _, c := range spec.AttrColumns {
		b.WriteString(", ")
		b.WriteString(sqlIdent(c))
	}
	fmt.Fprintf(&b, ", %s, %s, %s FROM %s WHERE %s = @p1 AND %s = 1",
		sqlIdent(storage.ColAttrHash), sqlIdent(storage.ColValidFrom), sqlIdent(storage.ColValidTo),
		sqlIdent(spec.Table), sqlIdent(spec.BusinessKey), sqlIdent(storage.ColIsCurrent),
	)

	row := r.db.QueryRowContext(ctx, b.String(), businessKey)

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

	if err := row.Scan(dests...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s current version: %w", spec.Table, err)
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
	return insertVersion(ctx, r.db, spec, v)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertVersion(ctx context.Context, db querier, spec storage.DimensionSpec, v mart.DimensionVersion) (int64, error) {
	cols := storage.DimensionInsertColumns(spec)
	vals, err := storage.VersionValues(spec, v)
	if err != nil {
		return 0, err
	}

	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = fmt.Sprintf("@p%d", i+1)
	}
	q := fmt.Sprintf(
		"INSERT INTO %s (%s) OUTPUT INSERTED.%s VALUES (%s)",
		sqlIdent(spec.Table), identList(cols), sqlIdent(spec.SurrogateKey),
		strings.Join(ph, ", "),
	)

	var key int64
	if err := db.QueryRowContext(ctx, q, bindRow(vals)...).Scan(&key); err != nil {
		return 0, fmt.Errorf("%s insert version: %w", spec.Table, err)
	}
	return key, nil
}

func (r *Repo) SupersedeVersion(ctx context.Context, dim mart.Dimension, currentKey int64, next mart.DimensionVersion) (int64, error) {
	spec := storage.DimSpec(dim)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	closeSQL := fmt.Sprintf(
		"UPDATE %s SET %s = @p1, %s = 0 WHERE %s = @p2 AND %s = 1",
		sqlIdent(spec.Table),
		sqlIdent(storage.ColValidTo), sqlIdent(storage.ColIsCurrent),
		sqlIdent(spec.SurrogateKey), sqlIdent(storage.ColIsCurrent),
	)
	res, err := tx.ExecContext(ctx, closeSQL, next.ValidFrom.UTC(), currentKey)
	if err != nil {
		return 0, fmt.Errorf("%s close current: %w", spec.Table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("%s supersede: %w", spec.Table,
			&mart.ConflictError{Dimension: dim, BusinessKey: next.BusinessKey})
	}

	key, err := insertVersion(ctx, tx, spec, next)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return key, nil
}

func (r *Repo) VersionKeysAt(ctx context.Context, dim mart.Dimension, businessKeys []string, at time.Time) (map[string]int64, error) {
	spec := storage.DimSpec(dim)
	out := make(map[string]int64, len(businessKeys))
	if len(businessKeys) == 0 {
		return out, nil
	}

	const chunk = 500
	for start := 0; start < len(businessKeys); start += chunk {
		end := min(start+chunk, len(businessKeys))
		part := businessKeys[start:end]

		ph := make([]string, len(part))
		args := make([]any, 0, len(part)+1)
		args = append(args, at.UTC())
		for i, k := range part {
			ph[i] = fmt.Sprintf("@p%d", i+2)
			args = append(args, k)
		}
		q := fmt.Sprintf(
			"SELECT %s, %s FROM %s WHERE %s <= @p1 AND @p1 < %s AND %s IN (%s)",
			sqlIdent(spec.BusinessKey), sqlIdent(spec.SurrogateKey), sqlIdent(spec.Table),
			sqlIdent(storage.ColValidFrom), sqlIdent(storage.ColValidTo),
			sqlIdent(spec.BusinessKey), strings.Join(ph, ", "),
		)

		rows, err := r.db.QueryContext(ctx, q, args...)
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

func (r *Repo) InsertFactRows(ctx context.Context, rows []mart.FactSalesRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	const chunk = 100
	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))

		vals := make([][]any, 0, end-start)
		for _, f := range rows[start:end] {
			vals = append(vals, bindRow(storage.FactValues(f)))
		}
		q, args := buildInsertNotExistsSQL("fact_sales", storage.FactColumns, vals, storage.FactDedupeColumns)
		res, err := r.db.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert fact_sales: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
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
WHERE f.order_date_key >= @p1 AND f.order_date_key < @p2`

func (r *Repo) FactRowsBetween(ctx context.Context, fromKey, toKey int64) ([]mart.FactJoinRow, error) {
	rows, err := r.db.QueryContext(ctx, factJoinSQL, fromKey, toKey)
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

func (r *Repo) ReplaceMetricRows(ctx context.Context, table string, fromKey, toKey int64, columns []string, rows [][]any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	del := fmt.Sprintf("DELETE FROM %s WHERE date_key >= @p1 AND date_key < @p2", sqlIdent(table))
	if _, err := tx.ExecContext(ctx, del, fromKey, toKey); err != nil {
		return fmt.Errorf("replace %s delete: %w", table, err)
	}

	const chunk = 100
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))

		part := make([][]any, 0, end-start)
		for _, row := range rows[start:end] {
			part = append(part, bindRow(row))
		}
		q, args := buildInsertSQL(table, columns, part)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("replace %s insert: %w", table, err)
		}
	}
	return tx.Commit()
}

func (r *Repo) RefreshView(ctx context.Context, view storage.ViewSpec) error {
	shadow := view.Name + "__shadow"

	// Building the shadow is the slow part; keep it out of the swap
	// transaction so the old table stays readable throughout.
	drop := fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s", shadow, sqlIdent(shadow))
	if _, err := r.db.ExecContext(ctx, drop); err != nil {
		return fmt.Errorf("refresh view %s: %w", view.Name, err)
	}
	build := fmt.Sprintf("SELECT q.* INTO %s FROM (%s) AS q", sqlIdent(shadow), view.Select)
	if _, err := r.db.ExecContext(ctx, build); err != nil {
		return fmt.Errorf("refresh view %s: %w", view.Name, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	swap := []string{
		fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s", view.Name, sqlIdent(view.Name)),
		fmt.Sprintf("EXEC sp_rename N'%s', N'%s'", shadow, view.Name),
	}
	for _, stmt := range swap {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("refresh view %s: %w", view.Name, err)
		}
	}
	return tx.Commit()
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

// bindValue maps Go values onto driver-friendly representations: decimals
// travel as exact strings and get implicitly converted by the DECIMAL
// column, nil pointers collapse to NULL.
func bindValue(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.UTC()
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC()
	default:
		return v
	}
}

func bindRow(vals []any) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = bindValue(v)
	}
	return out
}
