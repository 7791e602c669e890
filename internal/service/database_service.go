package service

import (
	"context"
	"sync"

	"catdb/internal/csvexport"
	"catdb/internal/domain"
	"catdb/internal/executor"
	"catdb/internal/introspect"
	"catdb/internal/mutate"
	"catdb/internal/registry"
	"catdb/internal/sqltext"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ─────────────────────────────────────────────────────────────
// Database Service — connection management and query execution
// ─────────────────────────────────────────────────────────────

// Events emitted during asynchronous query runs.
const (
	EventQueryResult = "query:result"
	EventQueryError  = "query:error"
	EventQueryDone   = "query:done"
)

// RunEvent is the payload for all query:* events.
type RunEvent struct {
	RunID      string                  `json:"runId"`
	Connection string                  `json:"connection"`
	Result     *domain.ExecutionResult `json:"result,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// SQLGenerator produces SQL from a natural language request, streaming
// fragments to the callback. Implemented by the ai package.
type SQLGenerator interface {
	GenerateSQL(ctx context.Context, request string, onChunk func(kind, text string)) (string, error)
}

// DatabaseService is the business-logic layer over the connection
// registry: it resolves connection directives, runs SQL synchronously or
// as cancelable background runs, applies grid edits, and serves schema
// metadata.
type DatabaseService struct {
	registry  *registry.Registry
	inspector *introspect.Introspector
	emitter   EventEmitter
	generator SQLGenerator
	log       zerolog.Logger

	mu         sync.Mutex
	activeName string
	runs       map[string]context.CancelFunc
}

func NewDatabaseService(reg *registry.Registry, insp *introspect.Introspector, emitter EventEmitter, logger zerolog.Logger) *DatabaseService {
	return &DatabaseService{
		registry:  reg,
		inspector: insp,
		emitter:   emitter,
		log:       logger.With().Str("component", "database").Logger(),
		runs:      map[string]context.CancelFunc{},
	}
}

// SetGenerator wires the AI client in after construction; the client
// itself needs the service as its schema describer.
func (s *DatabaseService) SetGenerator(g SQLGenerator) {
	s.generator = g
}

// ── Connection CRUD ────────────────────────────────────────

func (s *DatabaseService) ListConnections() []string {
	return s.registry.List()
}

func (s *DatabaseService) AddConnection(name, kind string, params map[string]string) (string, error) {
	final, err := s.registry.Add(name, kind, params)
	if err != nil {
		return "", err
	}
	s.inspector.Invalidate(final)
	s.setActive(final)
	return final, nil
}

func (s *DatabaseService) AddSQLiteFile(path string) (string, error) {
	name, err := s.registry.AddFile(path)
	if err != nil {
		return "", err
	}
	s.inspector.Invalidate(name)
	s.setActive(name)
	return name, nil
}

func (s *DatabaseService) UpdateConnection(name, kind string, params map[string]string) error {
	if err := s.registry.Update(name, kind, params); err != nil {
		return err
	}
	s.inspector.Invalidate(name)
	return nil
}

func (s *DatabaseService) RemoveConnection(name string) error {
	if err := s.registry.Remove(name); err != nil {
		return err
	}
	s.inspector.Invalidate(name)
	s.mu.Lock()
	if s.activeName == name {
		s.activeName = ""
	}
	s.mu.Unlock()
	return nil
}

// TestConnection forces a live probe without executing anything.
func (s *DatabaseService) TestConnection(ctx context.Context, name string) error {
	_, err := s.registry.Get(ctx, name)
	return err
}

func (s *DatabaseService) setActive(name string) {
	s.mu.Lock()
	s.activeName = name
	s.mu.Unlock()
}

// ── Query execution ────────────────────────────────────────

// resolve picks the connection for a script: a leading directive in the
// SQL overrides the caller's choice.
func (s *DatabaseService) resolve(ctx context.Context, name, sqlText string) (*registry.LiveConnection, string, error) {
	if override, cleaned := sqltext.ExtractConnectionDirective(sqlText); override != "" {
		name, sqlText = override, cleaned
	}
	lc, err := s.registry.Get(ctx, name)
	if err != nil {
		return nil, "", err
	}
	s.setActive(name)
	return lc, sqlText, nil
}

// RunSQL executes the script synchronously, streaming each statement's
// result through OnResult before returning the full list.
func (s *DatabaseService) RunSQL(ctx context.Context, name, sqlText string, rowLimit int, onResult func(domain.ExecutionResult)) ([]domain.ExecutionResult, error) {
	lc, cleaned, err := s.resolve(ctx, name, sqlText)
	if err != nil {
		return nil, err
	}
	return executor.Run(ctx, lc.DB(), cleaned, executor.Options{
		RowLimit: rowLimit,
		OnResult: onResult,
	})
}

// StartRun launches the script in the background and returns the run ID
// immediately. Each statement's result is emitted as a query:result
// event; failure emits query:error; query:done always follows.
func (s *DatabaseService) StartRun(ctx context.Context, name, sqlText string, rowLimit int) string {
	runID := uuid.New().String()
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.runs[runID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.runs, runID)
			s.mu.Unlock()
			s.emitter.Emit(ctx, EventQueryDone, RunEvent{RunID: runID, Connection: name})
		}()

		_, err := s.RunSQL(runCtx, name, sqlText, rowLimit, func(res domain.ExecutionResult) {
			r := res
			s.emitter.Emit(ctx, EventQueryResult, RunEvent{RunID: runID, Connection: name, Result: &r})
		})
		if err != nil {
			s.log.Debug().Err(err).Str("run", runID).Msg("query run failed")
			s.emitter.Emit(ctx, EventQueryError, RunEvent{RunID: runID, Connection: name, Error: err.Error()})
		}
	}()
	return runID
}

// CancelRun aborts a background run. Unknown IDs are ignored: the run may
// have finished between the user's click and this call.
func (s *DatabaseService) CancelRun(runID string) {
	s.mu.Lock()
	cancel, ok := s.runs[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// ── Row mutations ──────────────────────────────────────────

// ApplyEdits applies pending grid edits to a table in one transaction and
// returns how many updates were executed.
func (s *DatabaseService) ApplyEdits(ctx context.Context, name, table string, edits []domain.PendingEdit) (int, error) {
	lc, err := s.registry.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	return mutate.ApplyUpdates(ctx, lc.DB(), lc.Kind, table, edits)
}

// DeleteRow removes one row identified by its primary key values.
func (s *DatabaseService) DeleteRow(ctx context.Context, name, table string, pk map[string]any) (int64, error) {
	lc, err := s.registry.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	return mutate.DeleteRow(ctx, lc.DB(), lc.Kind, table, pk)
}

// ── Schema metadata ────────────────────────────────────────

func (s *DatabaseService) DescribeSchema(ctx context.Context, name string) (string, error) {
	lc, err := s.registry.Get(ctx, name)
	if err != nil {
		return "", err
	}
	return s.inspector.Describe(ctx, name, lc.DB(), lc.Kind)
}

// DescribeActive implements the schema describer used for AI prompts. No
// active connection yields an empty schema, never an error.
func (s *DatabaseService) DescribeActive(ctx context.Context) (string, error) {
	s.mu.Lock()
	name := s.activeName
	s.mu.Unlock()
	if name == "" {
		if names := s.registry.List(); len(names) > 0 {
			name = names[0]
		} else {
			return "", nil
		}
	}
	return s.DescribeSchema(ctx, name)
}

// EditTarget resolves the table behind a SELECT statement and that
// table's primary-key columns so the grid can decide whether its rows
// are editable. Both come back empty when the statement's target cannot
// be determined; a failed key lookup degrades to table-only.
func (s *DatabaseService) EditTarget(ctx context.Context, name, selectSQL string) (string, []string, error) {
	table := sqltext.FirstTableFromSelect(selectSQL)
	if table == "" {
		return "", nil, nil
	}
	lc, err := s.registry.Get(ctx, name)
	if err != nil {
		return "", nil, err
	}
	pks, err := introspect.PrimaryKeyColumns(ctx, lc.DB(), lc.Kind, table)
	if err != nil {
		s.log.Debug().Err(err).Str("table", table).Msg("primary key lookup failed")
		return table, nil, nil
	}
	return table, pks, nil
}

func (s *DatabaseService) PrimaryKeys(ctx context.Context, name, table string) ([]string, error) {
	lc, err := s.registry.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return introspect.PrimaryKeyColumns(ctx, lc.DB(), lc.Kind, table)
}

// AllTableColumns maps every table on the connection to its ordered
// column names, for editor completion.
func (s *DatabaseService) AllTableColumns(ctx context.Context, name string) (map[string][]string, error) {
	lc, err := s.registry.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return introspect.AllColumns(ctx, lc.DB(), lc.Kind)
}

func (s *DatabaseService) TableColumns(ctx context.Context, name, table string) ([]introspect.Column, error) {
	lc, err := s.registry.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return introspect.TableColumns(ctx, lc.DB(), lc.Kind, table)
}

// TableDDL returns the CREATE statement for one table, empty when it
// cannot be determined.
func (s *DatabaseService) TableDDL(ctx context.Context, name, table string) (string, error) {
	lc, err := s.registry.Get(ctx, name)
	if err != nil {
		return "", err
	}
	return introspect.CreateStatement(ctx, lc.DB(), lc.Kind, lc.URL, table), nil
}

// SchemaDDL returns DDL for every table on the connection.
func (s *DatabaseService) SchemaDDL(ctx context.Context, name string) (string, error) {
	lc, err := s.registry.Get(ctx, name)
	if err != nil {
		return "", err
	}
	return introspect.SchemaDump(ctx, lc.DB(), lc.Kind, lc.URL), nil
}

// ── AI assistance ──────────────────────────────────────────

// EventAIChunk streams incremental AI output to the frontend.
const EventAIChunk = "ai:chunk"

// AIChunk is the payload of ai:chunk events.
type AIChunk struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// GenerateSQL turns a natural language request into SQL, emitting
// ai:chunk events while the model streams.
func (s *DatabaseService) GenerateSQL(ctx context.Context, request string) (string, error) {
	if s.generator == nil {
		return "", &domain.ValidationError{Reason: "ai generation is not configured"}
	}
	return s.generator.GenerateSQL(ctx, request, func(kind, text string) {
		s.emitter.Emit(ctx, EventAIChunk, AIChunk{Kind: kind, Text: text})
	})
}

// ── Export ─────────────────────────────────────────────────

// ExportCSV writes a result to disk and returns the final path.
func (s *DatabaseService) ExportCSV(path string, result *domain.ExecutionResult, opts csvexport.Options) (string, error) {
	return csvexport.Export(path, result, opts)
}

// Close cancels running queries and shuts the registry down.
func (s *DatabaseService) Close() error {
	s.mu.Lock()
	for id, cancel := range s.runs {
		cancel()
		delete(s.runs, id)
	}
	s.mu.Unlock()
	return s.registry.Close()
}
