package executor_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"catdb/internal/domain"
	"catdb/internal/executor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "exec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedNumbers(t *testing.T, db *sql.DB, n int) {
	t.Helper()
	_, err := db.Exec(`CREATE TABLE numbers (n INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		_, err := db.Exec(`INSERT INTO numbers (n) VALUES (?)`, i)
		require.NoError(t, err)
	}
}

func TestRun_SingleSelect(t *testing.T) {
	db := newTestDB(t)
	seedNumbers(t, db, 3)

	results, err := executor.Run(context.Background(), db, "SELECT n FROM numbers ORDER BY n", executor.Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, []string{"n"}, res.Columns)
	require.Len(t, res.Rows, 3)
	assert.False(t, res.Truncated)
	assert.Greater(t, res.ElapsedSeconds, 0.0)
}

func TestRun_WriteReturnsMessage(t *testing.T) {
	db := newTestDB(t)
	seedNumbers(t, db, 5)

	results, err := executor.Run(context.Background(), db, "DELETE FROM numbers WHERE n > 2", executor.Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, []string{"Message"}, results[0].Columns)
	require.Len(t, results[0].Rows, 1)
	assert.Equal(t, "Affected rows: 3", results[0].Rows[0][0])
}

func TestRun_TruncationAtRowLimit(t *testing.T) {
	db := newTestDB(t)
	seedNumbers(t, db, 12)

	results, err := executor.Run(context.Background(), db, "SELECT n FROM numbers", executor.Options{RowLimit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, results[0].Rows, 10, "rows beyond the limit are dropped")
	assert.True(t, results[0].Truncated)
}

func TestRun_ExactLimitNotTruncated(t *testing.T) {
	db := newTestDB(t)
	seedNumbers(t, db, 10)

	results, err := executor.Run(context.Background(), db, "SELECT n FROM numbers", executor.Options{RowLimit: 10})
	require.NoError(t, err)
	assert.Len(t, results[0].Rows, 10)
	assert.False(t, results[0].Truncated, "exactly rowLimit rows is not a truncation")
}

func TestRun_StatementsExecuteInOrder(t *testing.T) {
	db := newTestDB(t)

	script := `
		CREATE TABLE log (msg TEXT);
		INSERT INTO log (msg) VALUES ('first');
		INSERT INTO log (msg) VALUES ('second');
		SELECT msg FROM log ORDER BY rowid
	`
	results, err := executor.Run(context.Background(), db, script, executor.Options{})
	require.NoError(t, err)
	require.Len(t, results, 4)

	last := results[3]
	require.Len(t, last.Rows, 2)
	assert.Equal(t, "first", last.Rows[0][0])
	assert.Equal(t, "second", last.Rows[1][0])
}

func TestRun_ErrorAbortsScript(t *testing.T) {
	db := newTestDB(t)
	seedNumbers(t, db, 1)

	script := "SELECT n FROM numbers; SELECT * FROM missing_table; SELECT 2"
	results, err := executor.Run(context.Background(), db, script, executor.Options{})

	var stmtErr *domain.StatementError
	require.ErrorAs(t, err, &stmtErr)
	assert.Equal(t, "SELECT * FROM missing_table", stmtErr.Statement)
	assert.Len(t, results, 1, "results before the failure are kept")
}

func TestRun_OnResultStreams(t *testing.T) {
	db := newTestDB(t)
	seedNumbers(t, db, 2)

	var streamed []domain.ExecutionResult
	opts := executor.Options{OnResult: func(r domain.ExecutionResult) {
		streamed = append(streamed, r)
	}}
	results, err := executor.Run(context.Background(), db, "SELECT 1; SELECT n FROM numbers", opts)
	require.NoError(t, err)
	assert.Equal(t, results, streamed, "callback sees the same results in order")
}

func TestRun_OnResultDeliveredBeforeFailure(t *testing.T) {
	db := newTestDB(t)

	var streamed int
	opts := executor.Options{OnResult: func(domain.ExecutionResult) { streamed++ }}
	_, err := executor.Run(context.Background(), db, "SELECT 1; SELECT * FROM missing", opts)
	require.Error(t, err)
	assert.Equal(t, 1, streamed, "the completed statement's result was delivered")
}

func TestRun_CanceledContext(t *testing.T) {
	db := newTestDB(t)
	seedNumbers(t, db, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := executor.Run(ctx, db, "SELECT n FROM numbers", executor.Options{})
	assert.ErrorIs(t, err, domain.ErrCanceled)
	assert.Empty(t, results)
}

func TestRun_CancellationWinsOverTimeout(t *testing.T) {
	db := newTestDB(t)
	seedNumbers(t, db, 1)

	// Both the context deadline and the statement timeout are already due
	// when the statement starts; cancellation must be reported.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := executor.Run(ctx, db, "SELECT n FROM numbers", executor.Options{Timeout: time.Nanosecond})
	assert.ErrorIs(t, err, domain.ErrCanceled)
	var timeoutErr *domain.TimeoutError
	assert.False(t, errors.As(err, &timeoutErr), "must not be a timeout")
}

func TestRun_StatementTimeout(t *testing.T) {
	db := newTestDB(t)

	// A heavy recursive CTE keeps SQLite busy far past the 50ms limit.
	heavy := `WITH RECURSIVE cnt(x) AS (
		SELECT 1 UNION ALL SELECT x+1 FROM cnt LIMIT 50000000
	) SELECT count(*) FROM cnt`

	start := time.Now()
	_, err := executor.Run(context.Background(), db, heavy, executor.Options{Timeout: 50 * time.Millisecond})
	var timeoutErr *domain.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Less(t, time.Since(start), 5*time.Second, "timeout must not wait for the statement")
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Limit)
}

func TestRun_EmptyScript(t *testing.T) {
	db := newTestDB(t)
	results, err := executor.Run(context.Background(), db, "  ;;  ", executor.Options{})
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestRun_ByteSlicesBecomeStrings(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Exec(`CREATE TABLE blobs (data BLOB)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO blobs (data) VALUES (?)`, []byte("hello"))
	require.NoError(t, err)

	results, err := executor.Run(context.Background(), db, "SELECT data FROM blobs", executor.Options{})
	require.NoError(t, err)
	require.Len(t, results[0].Rows, 1)
	assert.Equal(t, "hello", results[0].Rows[0][0])
}

func TestRun_SessionStateCarriesAcrossStatements(t *testing.T) {
	db := newTestDB(t)

	// Temp tables are connection-scoped; both statements must share one
	// session for the second to see the first's table.
	script := `
		CREATE TEMP TABLE scratch (v INTEGER);
		INSERT INTO scratch (v) VALUES (7);
		SELECT v FROM scratch
	`
	results, err := executor.Run(context.Background(), db, script, executor.Options{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Len(t, results[2].Rows, 1)
	assert.Equal(t, fmt.Sprintf("%v", int64(7)), fmt.Sprintf("%v", results[2].Rows[0][0]))
}
