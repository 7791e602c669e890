// Package introspect reads catalog metadata (tables, columns, keys) for
// the three supported engines and renders the human-readable schema
// summaries used by prompts and autocomplete.
//
// Every catalog read is bounded by a short deadline: a wedged driver must
// never stall the caller. Failures degrade to partial output with inline
// markers instead of errors.
package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"catdb/internal/deadline"
	"catdb/internal/domain"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	cacheTTL  = 60 * time.Second
	cacheSize = 32
	maxTables = 50

	catalogTimeout = 5 * time.Second
)

// Column is one column of a table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Default  string `json:"default,omitempty"`
}

// Introspector caches schema summaries per connection name. Summaries go
// stale within a minute on their own; DDL executed through the app should
// invalidate explicitly.
type Introspector struct {
	cache *expirable.LRU[string, string]
}

func New() *Introspector {
	return &Introspector{
		cache: expirable.NewLRU[string, string](cacheSize, nil, cacheTTL),
	}
}

// Invalidate drops the cached summary for one connection.
func (in *Introspector) Invalidate(name string) {
	in.cache.Remove(name)
}

// InvalidateAll drops every cached summary.
func (in *Introspector) InvalidateAll() {
	in.cache.Purge()
}

// Describe returns a text summary of the schema behind the named
// connection: tables with columns, keys, and indexes, then views. At most
// maxTables tables are described so the output stays prompt-sized.
func (in *Introspector) Describe(ctx context.Context, name string, db *sql.DB, kind domain.Kind) (string, error) {
	if cached, ok := in.cache.Get(name); ok {
		return cached, nil
	}

	tables, err := guarded(func() ([]string, error) { return listRelations(ctx, db, kind, false) })
	if err != nil {
		return "", fmt.Errorf("list tables: %w", err)
	}
	views, _ := guarded(func() ([]string, error) { return listRelations(ctx, db, kind, true) })

	if len(tables) == 0 && len(views) == 0 {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Connection dialect: %s\n", kind)

	sort.Strings(tables)
	truncated := false
	if len(tables) > maxTables {
		tables = tables[:maxTables]
		truncated = true
	}
	if len(tables) > 0 {
		b.WriteString("Tables:\n")
	}
	for _, table := range tables {
		fmt.Fprintf(&b, "- %s\n", table)

		cols, err := guarded(func() ([]Column, error) { return TableColumns(ctx, db, kind, table) })
		if err != nil {
			b.WriteString("  (failed to introspect columns)\n")
		}
		for _, col := range cols {
			fmt.Fprintf(&b, "  - %s: %s, nullable=%t", col.Name, col.Type, col.Nullable)
			if col.Default != "" {
				fmt.Fprintf(&b, ", default=%s", col.Default)
			}
			b.WriteByte('\n')
		}

		if pks, err := guarded(func() ([]string, error) { return PrimaryKeyColumns(ctx, db, kind, table) }); err == nil && len(pks) > 0 {
			fmt.Fprintf(&b, "  Primary key: %s\n", strings.Join(pks, ", "))
		}

		if fks, err := guarded(func() ([]ForeignKey, error) { return ForeignKeys(ctx, db, kind, table) }); err == nil {
			for _, fk := range fks {
				fmt.Fprintf(&b, "  Foreign key: %s -> %s(%s)\n",
					strings.Join(fk.Columns, ", "), fk.RefTable, strings.Join(fk.RefColumns, ", "))
			}
		}

		if idxs, err := guarded(func() ([]Index, error) { return Indexes(ctx, db, kind, table) }); err == nil {
			for _, idx := range idxs {
				fmt.Fprintf(&b, "  Index: %s (%s), unique=%t\n",
					idx.Name, strings.Join(idx.Columns, ", "), idx.Unique)
			}
		}
	}
	if truncated {
		fmt.Fprintf(&b, "... (table list truncated to first %d tables)\n", maxTables)
	}

	if len(views) > 0 {
		sort.Strings(views)
		b.WriteString("Views:\n")
		for _, v := range views {
			fmt.Fprintf(&b, "- %s\n", v)
		}
	}

	text := strings.TrimRight(b.String(), "\n")
	in.cache.Add(name, text)
	return text, nil
}

// guarded runs a catalog read under the introspection deadline.
func guarded[T any](fn func() (T, error)) (T, error) {
	return deadline.Run(catalogTimeout, fn)
}

func listRelations(ctx context.Context, db *sql.DB, kind domain.Kind, views bool) ([]string, error) {
	var query string
	switch kind {
	case domain.KindSQLite:
		relType := "table"
		if views {
			relType = "view"
		}
		query = fmt.Sprintf(
			`SELECT name FROM sqlite_master WHERE type = '%s' AND name NOT LIKE 'sqlite_%%' ORDER BY name`,
			relType)
	case domain.KindMySQL:
		tableType := "BASE TABLE"
		if views {
			tableType = "VIEW"
		}
		query = fmt.Sprintf(
			`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
			 WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = '%s' ORDER BY TABLE_NAME`,
			tableType)
	case domain.KindPostgres:
		tableType := "BASE TABLE"
		if views {
			tableType = "VIEW"
		}
		query = fmt.Sprintf(
			`SELECT table_name FROM information_schema.tables
			 WHERE table_schema = current_schema() AND table_type = '%s' ORDER BY table_name`,
			tableType)
	default:
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableColumns returns the column definitions of a table.
func TableColumns(ctx context.Context, db *sql.DB, kind domain.Kind, table string) ([]Column, error) {
	if kind == domain.KindSQLite {
		return sqliteColumns(ctx, db, table)
	}

	var query string
	switch kind {
	case domain.KindMySQL:
		query = `SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COALESCE(COLUMN_DEFAULT, '')
			 FROM INFORMATION_SCHEMA.COLUMNS
			 WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
			 ORDER BY ORDINAL_POSITION`
	case domain.KindPostgres:
		query = `SELECT column_name, data_type, is_nullable, COALESCE(column_default, '')
			 FROM information_schema.columns
			 WHERE table_schema = current_schema() AND table_name = $1
			 ORDER BY ordinal_position`
	default:
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}

	rows, err := db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var col Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Default); err != nil {
			return nil, err
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// AllColumns maps every table on the connection to its column names in
// declaration order, the shape editor completion wants. Tables whose
// column read fails or times out are left out rather than failing the map.
func AllColumns(ctx context.Context, db *sql.DB, kind domain.Kind) (map[string][]string, error) {
	tables, err := guarded(func() ([]string, error) { return listRelations(ctx, db, kind, false) })
	if err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(tables))
	for _, table := range tables {
		t := table
		cols, err := guarded(func() ([]Column, error) { return TableColumns(ctx, db, kind, t) })
		if err != nil {
			continue
		}
		names := make([]string, 0, len(cols))
		for _, col := range cols {
			names = append(names, col.Name)
		}
		out[table] = names
	}
	return out, nil
}

func sqliteColumns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLite(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var cid, notNull, pk int
		var col Column
		var dflt sql.NullString
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		col.Nullable = notNull == 0
		col.Default = dflt.String
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// PrimaryKeyColumns returns the primary-key columns of a table in key
// order. SQLite tables without a declared key fall back to rowid so row
// edits still have an addressable identity.
func PrimaryKeyColumns(ctx context.Context, db *sql.DB, kind domain.Kind, table string) ([]string, error) {
	if table == "" {
		return nil, nil
	}

	var rows *sql.Rows
	var err error
	switch kind {
	case domain.KindSQLite:
		return sqlitePrimaryKeys(ctx, db, table)
	case domain.KindMySQL:
		rows, err = db.QueryContext(ctx,
			`SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
			 WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
			 ORDER BY ORDINAL_POSITION`, table)
	case domain.KindPostgres:
		rows, err = db.QueryContext(ctx,
			`SELECT kcu.column_name
			 FROM information_schema.table_constraints tc
			 JOIN information_schema.key_column_usage kcu
			   ON kcu.constraint_name = tc.constraint_name
			  AND kcu.table_schema = tc.table_schema
			 WHERE tc.constraint_type = 'PRIMARY KEY'
			   AND tc.table_schema = current_schema()
			   AND tc.table_name = $1
			 ORDER BY kcu.ordinal_position`, table)
	default:
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pks []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		pks = append(pks, name)
	}
	return pks, rows.Err()
}

func sqlitePrimaryKeys(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLite(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pks []string
	for rows.Next() {
		var cid, notNull, pk int
		var name, colType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		if pk > 0 {
			pks = append(pks, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pks) == 0 {
		pks = []string{"rowid"}
	}
	return pks, nil
}

func quoteSQLite(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
