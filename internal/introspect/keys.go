package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"catdb/internal/domain"
)

// ForeignKey is one referential constraint on a table.
type ForeignKey struct {
	Columns    []string `json:"columns"`
	RefTable   string   `json:"refTable"`
	RefColumns []string `json:"refColumns"`
}

// Index is one index on a table, including constraint-backed ones.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// ForeignKeys returns the foreign keys of a table with their columns in
// key order.
func ForeignKeys(ctx context.Context, db *sql.DB, kind domain.Kind, table string) ([]ForeignKey, error) {
	switch kind {
	case domain.KindSQLite:
		return sqliteForeignKeys(ctx, db, table)
	case domain.KindMySQL:
		return groupedForeignKeys(ctx, db,
			`SELECT CONSTRAINT_NAME, COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
			 FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
			 WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
			 ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`, table)
	case domain.KindPostgres:
		return groupedForeignKeys(ctx, db,
			`SELECT tc.constraint_name, kcu.column_name, ccu.table_name, ccu.column_name
			 FROM information_schema.table_constraints tc
			 JOIN information_schema.key_column_usage kcu
			   ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
			 JOIN information_schema.constraint_column_usage ccu
			   ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
			 WHERE tc.constraint_type = 'FOREIGN KEY'
			   AND tc.table_schema = current_schema()
			   AND tc.table_name = $1
			 ORDER BY tc.constraint_name, kcu.ordinal_position`, table)
	}
	return nil, fmt.Errorf("unsupported kind %q", kind)
}

// groupedForeignKeys collects (constraint, column, ref table, ref column)
// rows into one ForeignKey per constraint, preserving first-seen order.
func groupedForeignKeys(ctx context.Context, db *sql.DB, query, table string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ForeignKey
	index := map[string]int{}
	for rows.Next() {
		var constraint, column, refTable, refColumn string
		if err := rows.Scan(&constraint, &column, &refTable, &refColumn); err != nil {
			return nil, err
		}
		i, ok := index[constraint]
		if !ok {
			i = len(out)
			index[constraint] = i
			out = append(out, ForeignKey{RefTable: refTable})
		}
		out[i].Columns = append(out[i].Columns, column)
		out[i].RefColumns = append(out[i].RefColumns, refColumn)
	}
	return out, rows.Err()
}

func sqliteForeignKeys(ctx context.Context, db *sql.DB, table string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteSQLite(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ForeignKey
	index := map[int]int{}
	for rows.Next() {
		var id, seq int
		var refTable, from string
		var to sql.NullString // NULL when the FK targets the implicit primary key
		var onUpdate, onDelete, match string
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}
		i, ok := index[id]
		if !ok {
			i = len(out)
			index[id] = i
			out = append(out, ForeignKey{RefTable: refTable})
		}
		out[i].Columns = append(out[i].Columns, from)
		if to.Valid {
			out[i].RefColumns = append(out[i].RefColumns, to.String)
		}
	}
	return out, rows.Err()
}

// Indexes returns the indexes of a table with their columns in index order.
func Indexes(ctx context.Context, db *sql.DB, kind domain.Kind, table string) ([]Index, error) {
	switch kind {
	case domain.KindSQLite:
		return sqliteIndexes(ctx, db, table)
	case domain.KindMySQL:
		return groupedIndexes(ctx, db,
			`SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE = 0
			 FROM INFORMATION_SCHEMA.STATISTICS
			 WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
			 ORDER BY INDEX_NAME, SEQ_IN_INDEX`, table)
	case domain.KindPostgres:
		return groupedIndexes(ctx, db,
			`SELECT i.relname, a.attname, ix.indisunique
			 FROM pg_index ix
			 JOIN pg_class i ON i.oid = ix.indexrelid
			 JOIN pg_class t ON t.oid = ix.indrelid
			 JOIN pg_namespace n ON n.oid = t.relnamespace
			 JOIN unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
			 JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
			 WHERE n.nspname = current_schema() AND t.relname = $1
			 ORDER BY i.relname, k.ord`, table)
	}
	return nil, fmt.Errorf("unsupported kind %q", kind)
}

// groupedIndexes collects (index, column, unique) rows into one Index per
// name, preserving first-seen order.
func groupedIndexes(ctx context.Context, db *sql.DB, query, table string) ([]Index, error) {
	rows, err := db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Index
	index := map[string]int{}
	for rows.Next() {
		var name, column string
		var unique bool
		if err := rows.Scan(&name, &column, &unique); err != nil {
			return nil, err
		}
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, Index{Name: name, Unique: unique})
		}
		out[i].Columns = append(out[i].Columns, column)
	}
	return out, rows.Err()
}

func sqliteIndexes(ctx context.Context, db *sql.DB, table string) ([]Index, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", quoteSQLite(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Index
	for rows.Next() {
		var seq, unique, partial int
		var name, origin string
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, err
		}
		if strings.HasPrefix(name, "sqlite_autoindex") {
			continue
		}
		out = append(out, Index{Name: name, Unique: unique != 0})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		cols, err := sqliteIndexColumns(ctx, db, out[i].Name)
		if err != nil {
			return nil, err
		}
		out[i].Columns = cols
	}
	return out, nil
}

func sqliteIndexColumns(ctx context.Context, db *sql.DB, indexName string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", quoteSQLite(indexName)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString // NULL for expression and rowid members
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}
