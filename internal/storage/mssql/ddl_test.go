package mssql

import (
	"strings"
	"testing"

	"mart/internal/storage"
)

func TestSqlServerType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"bigint", "BIGINT"},
		{"boolean", "BIT"},
		{"timestamptz", "DATETIMEOFFSET(7)"},
		{"numeric(12,2)", "DECIMAL(12,2)"},
		{"numeric", "DECIMAL(18,4)"},
		{"varchar(100)", "NVARCHAR(100)"},
		{"text", "NVARCHAR(450)"},
		{"float", "FLOAT"},
	}
	for _, tc := range cases {
		got, err := sqlServerType(tc.in)
		if err != nil {
			t.Errorf("sqlServerType(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("sqlServerType(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}

	if _, err := sqlServerType("hierarchyid"); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestSplitType(t *testing.T) {
	t.Parallel()

	base, args := splitType(" Numeric(12,2) ")
	if base != "numeric" || args != "12,2" {
		t.Errorf("splitType = %q %q", base, args)
	}
	base, args = splitType("bigint")
	if base != "bigint" || args != "" {
		t.Errorf("splitType = %q %q", base, args)
	}
}

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	stmts, err := buildCreateSQL(storage.TableSpec{
		Name:       "fact_sales",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "sale_id", Type: "bigserial"},
		Columns: []storage.ColumnSpec{
			{Name: "order_id", Type: "varchar(64)"},
			{Name: "price", Type: "numeric(12,2)"},
			{Name: "review_score", Type: "int", Nullable: true},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"order_id", "order_item_id"}}},
		Indexes:     []storage.IndexSpec{{Name: "ix_fact_sales_order_date", Columns: []string{"order_date_key"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(stmts) != 2 {
		t.Fatalf("stmts = %d, want 2", len(stmts))
	}

	create := stmts[0]
	for _, want := range []string{
		"IF OBJECT_ID(N'fact_sales', N'U') IS NULL",
		"[sale_id] BIGINT IDENTITY(1,1) PRIMARY KEY",
		"[order_id] NVARCHAR(64) NOT NULL",
		"[price] DECIMAL(12,2) NOT NULL",
		"CONSTRAINT [uq_fact_sales_order_id_order_item_id] UNIQUE ([order_id], [order_item_id])",
	} {
		if !strings.Contains(create, want) {
			t.Errorf("create missing %q:\n%s", want, create)
		}
	}
	if strings.Contains(create, "[review_score] INT NOT NULL") {
		t.Errorf("nullable column rendered NOT NULL:\n%s", create)
	}
	if !strings.Contains(stmts[1], "IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'ix_fact_sales_order_date'") {
		t.Errorf("index stmt = %s", stmts[1])
	}
}

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	sql, args := buildInsertSQL("dim_date", []string{"date_key", "day"},
		[][]any{{int64(20210601), 1}, {int64(20210602), 2}})

	want := "INSERT INTO [dim_date] ([date_key], [day]) VALUES (@p1, @p2), (@p3, @p4)"
	if sql != want {
		t.Errorf("sql =\n%s\nwant\n%s", sql, want)
	}
	if len(args) != 4 || args[2] != int64(20210602) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildInsertNotExistsSQL(t *testing.T) {
	t.Parallel()

	sql, args := buildInsertNotExistsSQL("fact_sales",
		[]string{"order_id", "order_item_id", "price"},
		[][]any{{"o1", 1, "19.90"}},
		[]string{"order_id", "order_item_id"})

	for _, want := range []string{
		"INSERT INTO [fact_sales] ([order_id], [order_item_id], [price])",
		"SELECT v.[order_id], v.[order_item_id], v.[price] FROM (VALUES (@p1, @p2, @p3)) AS v ([order_id], [order_item_id], [price])",
		"WHERE NOT EXISTS (SELECT 1 FROM [fact_sales] t WHERE t.[order_id] = v.[order_id] AND t.[order_item_id] = v.[order_item_id])",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("sql missing %q:\n%s", want, sql)
		}
	}
	if len(args) != 3 || args[0] != "o1" {
		t.Errorf("args = %v", args)
	}
}
