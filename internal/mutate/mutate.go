// Package mutate applies grid edits (cell updates and row deletes) to a
// table, building dialect-correct SQL with goqu so identifier quoting and
// placeholder styles stay out of the callers.
package mutate

import (
	"context"
	"database/sql"
	"fmt"

	"catdb/internal/domain"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
)

// dialectFor maps a connection kind onto the goqu dialect name.
func dialectFor(kind domain.Kind) (string, error) {
	switch kind {
	case domain.KindPostgres:
		return "postgres", nil
	case domain.KindMySQL:
		return "mysql", nil
	case domain.KindSQLite:
		return "sqlite3", nil
	}
	return "", fmt.Errorf("no SQL dialect for kind %q", kind)
}

// whereFor builds the primary-key predicate. NULL key values need IS NULL,
// not "= NULL", or the row would never match.
func whereFor(pk map[string]any) goqu.Ex {
	where := goqu.Ex{}
	for col, val := range pk {
		if val == nil {
			where[col] = nil // rendered as IS NULL
		} else {
			where[col] = val
		}
	}
	return where
}

// ApplyUpdates applies all edits inside one transaction: either every edit
// lands or none do. Edits with no changes or no primary key are skipped.
// Returns the total row count the driver reports updated, so an edit whose
// key no longer matches any row (a stale grid row) contributes zero.
func ApplyUpdates(ctx context.Context, db *sql.DB, kind domain.Kind, table string, edits []domain.PendingEdit) (int, error) {
	name, err := dialectFor(kind)
	if err != nil {
		return 0, err
	}
	dialect := goqu.Dialect(name)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	applied := 0
	for _, edit := range edits {
		if len(edit.Changes) == 0 || len(edit.PrimaryKey) == 0 {
			continue
		}
		record := goqu.Record{}
		for col, val := range edit.Changes {
			record[col] = val
		}
		query, args, err := dialect.Update(table).
			Set(record).
			Where(whereFor(edit.PrimaryKey)).
			Prepared(true).
			ToSQL()
		if err != nil {
			return 0, fmt.Errorf("build update: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("update %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			applied += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return applied, nil
}

// DeleteRow removes the row identified by pk in its own transaction and
// returns the number of rows the database reports deleted. An empty key
// deletes nothing rather than everything.
func DeleteRow(ctx context.Context, db *sql.DB, kind domain.Kind, table string, pk map[string]any) (int64, error) {
	if len(pk) == 0 {
		return 0, nil
	}
	name, err := dialectFor(kind)
	if err != nil {
		return 0, err
	}

	query, args, err := goqu.Dialect(name).Delete(table).
		Where(whereFor(pk)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
