package postgres

import (
	"fmt"
	"strings"

	"mart/internal/storage"
)

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// buildCreateSQL renders the DDL statements for one table: CREATE TABLE IF NOT
// EXISTS plus one CREATE INDEX IF NOT EXISTS per index.
//
// It is pure and deterministic so correctness (identity keys, nullability,
// constraint rendering) is unit-testable without a database.
func buildCreateSQL(t storage.TableSpec) ([]string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("postgres: table name is empty")
	}

	parts := make([]string, 0, len(t.Columns)+2)

	if t.PrimaryKey != nil {
		parts = append(parts, pkDef(*t.PrimaryKey))
	}
	for _, c := range t.Columns {
		def, err := columnDef(c)
		if err != nil {
			return nil, fmt.Errorf("postgres: table %s: %w", t.Name, err)
		}
		parts = append(parts, def)
	}
	for _, con := range t.Constraints {
		if con.Kind != "unique" {
			return nil, fmt.Errorf("postgres: table %s: unsupported constraint kind %q", t.Name, con.Kind)
		}
		parts = append(parts, "UNIQUE ("+identList(con.Columns)+")")
	}

	out := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", t.Name, strings.Join(parts, ", "))}
	for _, ix := range t.Indexes {
		out = append(out, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
			pgIdent(ix.Name), t.Name, identList(ix.Columns),
		))
	}
	return out, nil
}

func pkDef(pk storage.PrimaryKeySpec) string {
	switch strings.ToLower(strings.TrimSpace(pk.Type)) {
	case "bigserial", "serial":
		return fmt.Sprintf("%s BIGSERIAL PRIMARY KEY", pgIdent(pk.Name))
	default:
		return fmt.Sprintf("%s %s PRIMARY KEY", pgIdent(pk.Name), pk.Type)
	}
}

func columnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	typ := strings.TrimSpace(c.Type)
	if name == "" || typ == "" {
		return "", fmt.Errorf("column name/type must be set")
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if ref := strings.TrimSpace(c.References); ref != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(ref)
	}
	return b.String(), nil
}

func identList(cols []string) string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, pgIdent(strings.TrimSpace(c)))
	}
	return strings.Join(out, ", ")
}

// buildInsertSQL constructs a single multi-row INSERT and its args.
//
// If dedupeColumns is non-empty the statement gains ON CONFLICT (...) DO
// NOTHING, making the insert tolerant of duplicates within the batch and
// idempotent across reprocessing.
func buildInsertSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(dedupeColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(identList(dedupeColumns))
		b.WriteString(") DO NOTHING")
	}

	return b.String(), args
}
