package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"catdb/internal/domain"
)

const pgDumpTimeout = 20 * time.Second

// CreateStatement returns CREATE TABLE DDL for one table, best-effort: it
// never returns an error, only an empty string when every strategy fails.
//
// SQLite keeps the original DDL in sqlite_master and MySQL has SHOW CREATE
// TABLE. Postgres has no equivalent, so the statement is reconstructed
// from pg_catalog; when that fails, pg_dump is tried as a last resort
// (pgURL is the postgres:// form of the live connection).
func CreateStatement(ctx context.Context, db *sql.DB, kind domain.Kind, pgURL, table string) string {
	switch kind {
	case domain.KindSQLite:
		var ddl sql.NullString
		err := db.QueryRowContext(ctx,
			`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&ddl)
		if err != nil {
			return ""
		}
		return ddl.String
	case domain.KindMySQL:
		var name, ddl string
		err := db.QueryRowContext(ctx,
			fmt.Sprintf("SHOW CREATE TABLE `%s`", strings.ReplaceAll(table, "`", "``"))).Scan(&name, &ddl)
		if err != nil {
			return ""
		}
		return ddl
	case domain.KindPostgres:
		if ddl := pgConstructCreate(ctx, db, table); ddl != "" {
			return ddl
		}
		if out := runPgDump(ctx, pgURL, table); out != "" {
			if block := extractCreateTable(out, table); block != "" {
				return block
			}
			return out
		}
	}
	return ""
}

// SchemaDump returns concatenated CREATE TABLE statements for every table
// on the connection. Postgres takes the fast path of one pg_dump run when
// the tool is installed.
func SchemaDump(ctx context.Context, db *sql.DB, kind domain.Kind, pgURL string) string {
	if kind == domain.KindPostgres {
		if out := runPgDump(ctx, pgURL, ""); out != "" {
			return out
		}
	}

	tables, err := guarded(func() ([]string, error) { return listRelations(ctx, db, kind, false) })
	if err != nil {
		return ""
	}
	sort.Strings(tables)

	var parts []string
	for _, table := range tables {
		t := table
		ddl, err := guarded(func() (string, error) {
			return CreateStatement(ctx, db, kind, pgURL, t), nil
		})
		if err == nil && ddl != "" {
			parts = append(parts, fmt.Sprintf("-- CREATE for table %s\n%s", table, ddl))
		}
	}
	return strings.Join(parts, "\n\n")
}

// pgConstructCreate rebuilds DDL from pg_catalog: column types via
// format_type, defaults, identity markers, NOT NULL, constraints via
// pg_get_constraintdef, and index definitions from pg_indexes.
func pgConstructCreate(ctx context.Context, db *sql.DB, table string) string {
	schemaHint, tbl := splitSchemaTable(table)

	var schema, relname string
	var relOID int64
	var err error
	if schemaHint != "" {
		err = db.QueryRowContext(ctx,
			`SELECT n.nspname, c.oid, c.relname
			 FROM pg_class c JOIN pg_namespace n ON c.relnamespace = n.oid
			 WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r','p') LIMIT 1`,
			schemaHint, tbl).Scan(&schema, &relOID, &relname)
	} else {
		err = db.QueryRowContext(ctx,
			`SELECT n.nspname, c.oid, c.relname
			 FROM pg_class c JOIN pg_namespace n ON c.relnamespace = n.oid
			 WHERE c.relname = $1 AND c.relkind IN ('r','p')
			 ORDER BY (n.nspname = current_schema()) DESC LIMIT 1`,
			tbl).Scan(&schema, &relOID, &relname)
	}
	if err != nil {
		return ""
	}

	colRows, err := db.QueryContext(ctx,
		`SELECT a.attname, format_type(a.atttypid, a.atttypmod),
		        a.attnotnull, COALESCE(pg_get_expr(ad.adbin, ad.adrelid), ''), a.attidentity
		 FROM pg_attribute a
		 LEFT JOIN pg_attrdef ad ON a.attrelid = ad.adrelid AND a.attnum = ad.adnum
		 WHERE a.attrelid = $1 AND a.attnum > 0 AND NOT a.attisdropped
		 ORDER BY a.attnum`, relOID)
	if err != nil {
		return ""
	}
	defer colRows.Close()

	var defs []string
	for colRows.Next() {
		var name, colType, defaultExpr, identity string
		var notNull bool
		if err := colRows.Scan(&name, &colType, &notNull, &defaultExpr, &identity); err != nil {
			return ""
		}
		line := quoteIdent(name) + " " + colType
		switch identity {
		case "a":
			line += " GENERATED ALWAYS AS IDENTITY"
		case "d":
			line += " GENERATED BY DEFAULT AS IDENTITY"
		}
		if defaultExpr != "" {
			line += " DEFAULT " + defaultExpr
		}
		if notNull {
			line += " NOT NULL"
		}
		defs = append(defs, line)
	}
	if colRows.Err() != nil || len(defs) == 0 {
		return ""
	}

	conRows, err := db.QueryContext(ctx,
		`SELECT pg_get_constraintdef(c.oid)
		 FROM pg_constraint c
		 WHERE c.conrelid = $1 AND contype IN ('p','f','u','c')
		 ORDER BY contype, conname`, relOID)
	if err == nil {
		defer conRows.Close()
		for conRows.Next() {
			var def string
			if err := conRows.Scan(&def); err == nil && def != "" {
				defs = append(defs, def)
			}
		}
	}

	stmt := fmt.Sprintf("CREATE TABLE %s.%s (\n  %s\n);",
		quoteIdent(schema), quoteIdent(relname), strings.Join(defs, ",\n  "))

	idxRows, err := db.QueryContext(ctx,
		`SELECT indexdef FROM pg_indexes WHERE schemaname = $1 AND tablename = $2`,
		schema, relname)
	if err == nil {
		defer idxRows.Close()
		for idxRows.Next() {
			var def string
			if err := idxRows.Scan(&def); err == nil && def != "" {
				stmt += "\n\n" + def
			}
		}
	}
	return stmt
}

// runPgDump shells out to pg_dump when it exists on PATH. table may be
// empty for a full schema-only dump.
func runPgDump(ctx context.Context, pgURL, table string) string {
	if pgURL == "" {
		return ""
	}
	path, err := exec.LookPath("pg_dump")
	if err != nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, pgDumpTimeout)
	defer cancel()

	args := []string{"--schema-only", "--no-owner", "--no-privileges"}
	if table != "" {
		args = append(args, "--table", table)
	}
	args = append(args, pgURL)

	out, err := exec.CommandContext(ctx, path, args...).Output()
	if err != nil {
		return ""
	}
	return string(out)
}

// extractCreateTable pulls the CREATE TABLE block for one table out of a
// pg_dump script.
func extractCreateTable(dump, table string) string {
	re, err := regexp.Compile(`(?is)CREATE TABLE[\s\S]*?\b` + regexp.QuoteMeta(table) + `\b[\s\S]*?;`)
	if err != nil {
		return ""
	}
	return re.FindString(dump)
}

// splitSchemaTable splits a possibly schema-qualified, possibly quoted
// identifier into schema and table parts. Dots inside quotes do not split.
func splitSchemaTable(name string) (schema, table string) {
	if !strings.Contains(name, `"`) {
		if i := strings.IndexByte(name, '.'); i >= 0 {
			return name[:i], name[i+1:]
		}
		return "", name
	}

	var parts []string
	var cur strings.Builder
	inQuote := false
	for _, ch := range name {
		switch {
		case ch == '"':
			inQuote = !inQuote
		case ch == '.' && !inQuote:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(ch)
		}
	}
	parts = append(parts, cur.String())

	filtered := parts[:0]
	for _, p := range parts {
		if p != "" {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) >= 2 {
		return filtered[0], filtered[1]
	}
	if len(filtered) == 1 {
		return "", filtered[0]
	}
	return "", name
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
