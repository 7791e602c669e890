package introspect_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"catdb/internal/domain"
	"catdb/internal/introspect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newSchemaDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE authors (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			country TEXT DEFAULT 'unknown'
		)`,
		`CREATE TABLE books (
			author_id INTEGER REFERENCES authors(id),
			title TEXT,
			PRIMARY KEY (author_id, title)
		)`,
		`CREATE TABLE notes (body TEXT)`,
		`CREATE INDEX idx_books_title ON books(title)`,
		`CREATE VIEW recent_books AS SELECT title FROM books`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
	return db
}

func TestDescribe_SQLite(t *testing.T) {
	db := newSchemaDB(t)
	in := introspect.New()

	text, err := in.Describe(context.Background(), "test", db, domain.KindSQLite)
	require.NoError(t, err)

	assert.Contains(t, text, "Connection dialect: sqlite")
	assert.Contains(t, text, "Tables:")
	assert.Contains(t, text, "- authors")
	assert.Contains(t, text, "- books")
	assert.Contains(t, text, "name: TEXT, nullable=false")
	assert.Contains(t, text, "default='unknown'")
	assert.Contains(t, text, "Primary key: id")
	assert.Contains(t, text, "Primary key: author_id, title")
	assert.Contains(t, text, "Foreign key: author_id -> authors(id)")
	assert.Contains(t, text, "Index: idx_books_title (title), unique=false")
	assert.Contains(t, text, "Views:")
	assert.Contains(t, text, "- recent_books")
	assert.NotContains(t, text, "sqlite_", "internal tables stay hidden")
}

func TestDescribe_CachesUntilInvalidated(t *testing.T) {
	db := newSchemaDB(t)
	in := introspect.New()
	ctx := context.Background()

	first, err := in.Describe(ctx, "conn", db, domain.KindSQLite)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE added_later (id INTEGER)`)
	require.NoError(t, err)

	cached, err := in.Describe(ctx, "conn", db, domain.KindSQLite)
	require.NoError(t, err)
	assert.Equal(t, first, cached, "second call within the TTL is served from cache")
	assert.NotContains(t, cached, "added_later")

	in.Invalidate("conn")
	fresh, err := in.Describe(ctx, "conn", db, domain.KindSQLite)
	require.NoError(t, err)
	assert.Contains(t, fresh, "added_later")
}

func TestDescribe_CacheIsPerConnection(t *testing.T) {
	db := newSchemaDB(t)
	other, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "other.db"))
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	_, err = other.Exec(`CREATE TABLE solo (id INTEGER)`)
	require.NoError(t, err)

	in := introspect.New()
	ctx := context.Background()

	a, err := in.Describe(ctx, "a", db, domain.KindSQLite)
	require.NoError(t, err)
	b, err := in.Describe(ctx, "b", other, domain.KindSQLite)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Contains(t, b, "solo")
}

func TestTableColumns_SQLite(t *testing.T) {
	db := newSchemaDB(t)

	cols, err := introspect.TableColumns(context.Background(), db, domain.KindSQLite, "authors")
	require.NoError(t, err)
	require.Len(t, cols, 3)

	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "name", cols[1].Name)
	assert.False(t, cols[1].Nullable)
	assert.Equal(t, "country", cols[2].Name)
	assert.True(t, cols[2].Nullable)
	assert.Equal(t, "'unknown'", cols[2].Default)
}

func TestPrimaryKeyColumns_SQLite(t *testing.T) {
	db := newSchemaDB(t)
	ctx := context.Background()

	pks, err := introspect.PrimaryKeyColumns(ctx, db, domain.KindSQLite, "authors")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, pks)

	pks, err = introspect.PrimaryKeyColumns(ctx, db, domain.KindSQLite, "books")
	require.NoError(t, err)
	assert.Equal(t, []string{"author_id", "title"}, pks)
}

func TestPrimaryKeyColumns_RowidFallback(t *testing.T) {
	db := newSchemaDB(t)

	pks, err := introspect.PrimaryKeyColumns(context.Background(), db, domain.KindSQLite, "notes")
	require.NoError(t, err)
	assert.Equal(t, []string{"rowid"}, pks, "keyless tables address rows by rowid")
}

func TestPrimaryKeyColumns_EmptyTableName(t *testing.T) {
	db := newSchemaDB(t)

	pks, err := introspect.PrimaryKeyColumns(context.Background(), db, domain.KindSQLite, "")
	require.NoError(t, err)
	assert.Nil(t, pks)
}

func TestCreateStatement_SQLite(t *testing.T) {
	db := newSchemaDB(t)

	ddl := introspect.CreateStatement(context.Background(), db, domain.KindSQLite, "", "authors")
	assert.Contains(t, ddl, "CREATE TABLE authors")
	assert.Contains(t, ddl, "name TEXT NOT NULL")
}

func TestCreateStatement_UnknownTable(t *testing.T) {
	db := newSchemaDB(t)

	ddl := introspect.CreateStatement(context.Background(), db, domain.KindSQLite, "", "missing")
	assert.Empty(t, ddl, "unknown tables yield empty DDL, not an error")
}

func TestSchemaDump_SQLite(t *testing.T) {
	db := newSchemaDB(t)

	dump := introspect.SchemaDump(context.Background(), db, domain.KindSQLite, "")
	assert.Contains(t, dump, "-- CREATE for table authors")
	assert.Contains(t, dump, "-- CREATE for table books")
	assert.Contains(t, dump, "CREATE TABLE authors")
}

func TestForeignKeys_SQLite(t *testing.T) {
	db := newSchemaDB(t)
	ctx := context.Background()

	fks, err := introspect.ForeignKeys(ctx, db, domain.KindSQLite, "books")
	require.NoError(t, err)
	require.Len(t, fks, 1)
	assert.Equal(t, []string{"author_id"}, fks[0].Columns)
	assert.Equal(t, "authors", fks[0].RefTable)
	assert.Equal(t, []string{"id"}, fks[0].RefColumns)

	fks, err = introspect.ForeignKeys(ctx, db, domain.KindSQLite, "authors")
	require.NoError(t, err)
	assert.Empty(t, fks)
}

func TestIndexes_SQLite(t *testing.T) {
	db := newSchemaDB(t)
	_, err := db.Exec(`CREATE UNIQUE INDEX idx_authors_name ON authors(name, country)`)
	require.NoError(t, err)
	ctx := context.Background()

	idxs, err := introspect.Indexes(ctx, db, domain.KindSQLite, "authors")
	require.NoError(t, err)
	require.Len(t, idxs, 1)
	assert.Equal(t, "idx_authors_name", idxs[0].Name)
	assert.Equal(t, []string{"name", "country"}, idxs[0].Columns)
	assert.True(t, idxs[0].Unique)

	// The composite primary key's implicit index stays hidden.
	idxs, err = introspect.Indexes(ctx, db, domain.KindSQLite, "books")
	require.NoError(t, err)
	require.Len(t, idxs, 1)
	assert.Equal(t, "idx_books_title", idxs[0].Name)
	assert.False(t, idxs[0].Unique)
}

func TestAllColumns_SQLite(t *testing.T) {
	db := newSchemaDB(t)

	all, err := introspect.AllColumns(context.Background(), db, domain.KindSQLite)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"authors": {"id", "name", "country"},
		"books":   {"author_id", "title"},
		"notes":   {"body"},
	}, all)
}
