package mssql

import (
	"fmt"
	"strings"

	"mart/internal/storage"
)

func sqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func sqlServerType(t string) (string, error) {
	base, args := splitType(t)
	switch base {
	case "bigint":
		return "BIGINT", nil
	case "int", "integer":
		return "INT", nil
	case "smallint":
		return "SMALLINT", nil
	case "boolean":
		return "BIT", nil
	case "timestamptz", "timestamp":
		return "DATETIMEOFFSET(7)", nil
	case "date":
		return "DATE", nil
	case "numeric":
		if args == "" {
			args = "18,4"
		}
		return "DECIMAL(" + args + ")", nil
	case "double precision", "float", "real":
		return "FLOAT", nil
	case "text", "varchar":
		// Bounded even when the portable type is not: unique constraints
		// and indexes cap keys at 900 bytes.
		if args == "" {
			args = "450"
		}
		return "NVARCHAR(" + args + ")", nil
	default:
		return "", fmt.Errorf("mssql: unsupported column type %q", t)
	}
}

// splitType separates a portable type into base name and argument list:
// numeric(12,2) -> ("numeric", "12,2").
func splitType(t string) (base, args string) {
	t = strings.ToLower(strings.TrimSpace(t))
	open := strings.IndexByte(t, '(')
	if open < 0 {
		return t, ""
	}
	end := strings.IndexByte(t, ')')
	if end < open {
		return strings.TrimSpace(t[:open]), ""
	}
	return strings.TrimSpace(t[:open]), strings.TrimSpace(t[open+1 : end])
}

func buildCreateSQL(t storage.TableSpec) ([]string, error) {
	var defs []string

	if t.PrimaryKey != nil {
		switch base, _ := splitType(t.PrimaryKey.Type); base {
		case "bigserial":
			defs = append(defs, fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", sqlIdent(t.PrimaryKey.Name)))
		case "serial":
			defs = append(defs, fmt.Sprintf("%s INT IDENTITY(1,1) PRIMARY KEY", sqlIdent(t.PrimaryKey.Name)))
		default:
			pt, err := sqlServerType(t.PrimaryKey.Type)
			if err != nil {
				return nil, fmt.Errorf("table %s: %w", t.Name, err)
			}
			defs = append(defs, fmt.Sprintf("%s %s PRIMARY KEY", sqlIdent(t.PrimaryKey.Name), pt))
		}
	}

	for _, c := range t.Columns {
		ct, err := sqlServerType(c.Type)
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
			return nil, fmt.Errorf("mssql: table %s: unsupported constraint kind %q", t.Name, cons.Kind)
		}
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)",
			sqlIdent("uq_"+t.Name+"_"+strings.Join(cons.Columns, "_")), identList(cons.Columns)))
	}

	create := fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL\nCREATE TABLE %s (\n  %s\n)",
		t.Name, sqlIdent(t.Name), strings.Join(defs, ",\n  "),
	)

	out := []string{create}
	for _, ix := range t.Indexes {
		out = append(out, fmt.Sprintf(
			"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'%s'))\nCREATE INDEX %s ON %s (%s)",
			ix.Name, t.Name, sqlIdent(ix.Name), sqlIdent(t.Name), identList(ix.Columns),
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

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", sqlIdent(table), identList(columns))

	args := make([]any, 0, len(rows)*len(columns))
	n := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", n)
			n++
		}
		b.WriteString(")")
		args = append(args, row...)
	}
	return b.String(), args
}

// buildInsertNotExistsSQL renders the SQL Server stand-in for ON CONFLICT
// DO NOTHING: the batch goes through a VALUES derived table and only rows
// whose dedupe columns are absent from the target survive the WHERE.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, dedupeColumns []string) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s)\nSELECT %s FROM (VALUES ",
		sqlIdent(table), identList(columns), identListPrefixed("v", columns))

	args := make([]any, 0, len(rows)*len(columns))
	n := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", n)
			n++
		}
		b.WriteString(")")
		args = append(args, row...)
	}

	fmt.Fprintf(&b, ") AS v (%s)\nWHERE NOT EXISTS (SELECT 1 FROM %s t WHERE ",
		identList(columns), sqlIdent(table))
	for i, c := range dedupeColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "t.%s = v.%s", sqlIdent(c), sqlIdent(c))
	}
	b.WriteString(")")
	return b.String(), args
}

func identListPrefixed(prefix string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = prefix + "." + sqlIdent(c)
	}
	return strings.Join(quoted, ", ")
}
