package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mart/internal/storage"
)

// storedTimeLayout is RFC3339 with nanoseconds zero-padded to fixed width.
// All timestamps are normalized to UTC before formatting, so every stored
// value has identical length and string order equals time order.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatStoredTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func sqlIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqliteType(t string) (string, error) {
	switch baseType(t) {
	case "bigint", "int", "integer", "smallint", "boolean":
		return "INTEGER", nil
	case "timestamptz", "timestamp", "date", "text", "varchar", "numeric":
		// Timestamps are fixed-width UTC text, money is decimal text.
		return "TEXT", nil
	case "double precision", "float", "real":
		return "REAL", nil
	default:
		return "", fmt.Errorf("sqlite: unsupported column type %q", t)
	}
}

// baseType strips any length or precision suffix: varchar(100) -> varchar.
func baseType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

func buildCreateSQL(t storage.TableSpec) ([]string, error) {
	var defs []string

	if t.PrimaryKey != nil {
		switch baseType(t.PrimaryKey.Type) {
		case "bigserial", "serial":
			defs = append(defs, fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", sqlIdent(t.PrimaryKey.Name)))
		default:
			pt, err := sqliteType(t.PrimaryKey.Type)
			if err != nil {
				return nil, fmt.Errorf("table %s: %w", t.Name, err)
			}
			defs = append(defs, fmt.Sprintf("%s %s PRIMARY KEY", sqlIdent(t.PrimaryKey.Name), pt))
		}
	}

	for _, c := range t.Columns {
		ct, err := sqliteType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: %w", t.Name, c.Name, err)
		}
		def := fmt.Sprintf("%s %s", sqlIdent(c.Name), ct)
		if !c.Nullable {
			def += " NOT NULL"
		}
		if c.References != "" {
			def += " REFERENCES " + c.References
		}
		defs = append(defs, def)
	}

	for _, cons := range t.Constraints {
		if cons.Kind != "unique" {
			return nil, fmt.Errorf("sqlite: table %s: unsupported constraint kind %q", t.Name, cons.Kind)
		}
		defs = append(defs, fmt.Sprintf("UNIQUE (%s)", identList(cons.Columns)))
	}

	out := []string{fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		t.Name, strings.Join(defs, ",\n  "),
	)}
	for _, ix := range t.Indexes {
		out = append(out, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			ix.Name, t.Name, identList(ix.Columns),
		))
	}
	return out, nil
}

func identList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = sqlIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// buildInsertSQL renders a multi-row INSERT with ? placeholders. When
// orIgnore is set the statement becomes INSERT OR IGNORE, which makes
// replays of the same batch no-ops against unique constraints.
func buildInsertSQL(table string, columns []string, rows [][]any, orIgnore bool) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT ")
	if orIgnore {
		b.WriteString("OR IGNORE ")
	}
	fmt.Fprintf(&b, "INTO %s (%s) VALUES ", table, identList(columns))

	args := make([]any, 0, len(rows)*len(columns))
	rowPH := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(rowPH)
		args = append(args, row...)
	}
	return b.String(), args
}

// bindValue converts Go values into the representations this backend
// stores: times become fixed-width UTC text, bools 0/1, decimals exact
// text. Everything else passes through to the driver unchanged.
func bindValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return formatStoredTime(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return formatStoredTime(*x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case decimal.Decimal:
		return x.String()
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
