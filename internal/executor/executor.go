// Package executor runs multi-statement SQL scripts against an open
// database with per-statement timeouts and cooperative cancellation.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"catdb/internal/domain"
	"catdb/internal/sqltext"
)

const (
	// DefaultRowLimit caps result sets; one extra row is fetched to detect
	// truncation without counting the full set.
	DefaultRowLimit = 1000

	// DefaultTimeout bounds each individual statement, not the script.
	DefaultTimeout = 30 * time.Second
)

// Options tunes a Run call. The zero value uses the defaults above.
type Options struct {
	RowLimit int
	Timeout  time.Duration

	// OnResult, when set, receives each statement's result as soon as it
	// is available, before the next statement starts. Results produced
	// before a script aborts are still delivered.
	OnResult func(domain.ExecutionResult)
}

func (o Options) rowLimit() int {
	if o.RowLimit <= 0 {
		return DefaultRowLimit
	}
	return o.RowLimit
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// Run splits sqlText into statements and executes them in order on a
// single session, so session state (temp tables, SET commands) carries
// across statements. The first failing statement aborts the script;
// results of completed statements are returned alongside the error.
//
// Cancellation via ctx or the per-statement timeout cancels the running
// statement's context; a session wedged past the grace period is
// force-closed. Cancellation wins over timeout when both race.
func Run(ctx context.Context, db *sql.DB, sqlText string, opts Options) ([]domain.ExecutionResult, error) {
	statements := sqltext.Split(sqlText)
	if len(statements) == 0 {
		return nil, nil
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, domain.ErrCanceled
		}
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	var results []domain.ExecutionResult
	for _, stmt := range statements {
		if err := ctx.Err(); err != nil {
			return results, domain.ErrCanceled
		}
		res, err := runStatement(ctx, conn, stmt, opts)
		if err != nil {
			return results, err
		}
		if opts.OnResult != nil {
			opts.OnResult(res)
		}
		results = append(results, res)
	}
	return results, nil
}

// interruptGrace bounds how long an interrupted statement may take to
// acknowledge cancellation before the session is force-closed.
const interruptGrace = 2 * time.Second

// runStatement executes one statement on a worker goroutine and races it
// against cancellation and the timeout. On either, the statement context
// is canceled so the driver aborts server-side work; a driver that ignores
// the cancel gets its session force-closed after a short grace period.
func runStatement(ctx context.Context, conn *sql.Conn, stmt string, opts Options) (domain.ExecutionResult, error) {
	stmtCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		res, err := execute(stmtCtx, conn, stmt, opts.rowLimit())
		done <- outcome{result: res, err: err}
	}()

	timer := time.NewTimer(opts.timeout())
	defer timer.Stop()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, context.Canceled) || ctx.Err() != nil {
				return domain.ExecutionResult{}, domain.ErrCanceled
			}
			return domain.ExecutionResult{}, &domain.StatementError{Statement: stmt, Err: o.err}
		}
		return o.result, nil
	case <-ctx.Done():
		abortWorker(cancel, done, conn)
		return domain.ExecutionResult{}, domain.ErrCanceled
	case <-timer.C:
		abortWorker(cancel, done, conn)
		// Cancellation that fired in the same instant takes precedence.
		if ctx.Err() != nil {
			return domain.ExecutionResult{}, domain.ErrCanceled
		}
		return domain.ExecutionResult{}, &domain.TimeoutError{Statement: stmt, Limit: opts.timeout()}
	}
}

type outcome struct {
	result domain.ExecutionResult
	err    error
}

// abortWorker cancels the in-flight statement and waits briefly for the
// driver to notice. Past the grace period the session is closed from a
// goroutine so the caller is never stuck behind a wedged driver.
func abortWorker(cancel context.CancelFunc, done <-chan outcome, conn *sql.Conn) {
	cancel()
	grace := time.NewTimer(interruptGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		go conn.Close()
	}
}

func execute(ctx context.Context, conn *sql.Conn, stmt string, rowLimit int) (domain.ExecutionResult, error) {
	start := time.Now()
	if !sqltext.IsReadQuery(stmt) {
		res, err := conn.ExecContext(ctx, stmt)
		if err != nil {
			return domain.ExecutionResult{}, err
		}
		affected, _ := res.RowsAffected()
		return domain.ExecutionResult{
			Columns:        []string{"Message"},
			Rows:           [][]any{{fmt.Sprintf("Affected rows: %d", affected)}},
			ElapsedSeconds: time.Since(start).Seconds(),
		}, nil
	}

	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("columns: %w", err)
	}

	var data [][]any
	truncated := false
	for rows.Next() {
		if len(data) == rowLimit {
			// The limit+1-th row exists; report truncation and stop.
			truncated = true
			break
		}
		values := make([]any, len(cols))
		targets := make([]any, len(cols))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("scan: %w", err)
		}
		for i, v := range values {
			values[i] = formatValue(v)
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return domain.ExecutionResult{}, err
	}

	return domain.ExecutionResult{
		Columns:        cols,
		Rows:           data,
		ElapsedSeconds: time.Since(start).Seconds(),
		Truncated:      truncated,
	}, nil
}

// formatValue converts driver values into JSON-friendly forms.
func formatValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}
