// Package app is the composition root: it wires the registry, services,
// and AI client together and exposes the methods a frontend binds to.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"catdb/internal/ai"
	"catdb/internal/csvexport"
	"catdb/internal/domain"
	"catdb/internal/introspect"
	"catdb/internal/registry"
	"catdb/internal/secret"
	"catdb/internal/service"
	"catdb/internal/settings"

	"github.com/rs/zerolog"
)

// App owns all long-lived components for one running instance.
type App struct {
	ctx      context.Context
	emitter  service.EventEmitter
	log      zerolog.Logger
	database *service.DatabaseService
	state    settings.AppState
}

// New creates an App. The emitter decides where events go: the GUI
// runtime in desktop mode, a NopEmitter in headless mode.
func New(emitter service.EventEmitter, logger zerolog.Logger) *App {
	return &App{emitter: emitter, log: logger}
}

// Startup opens stores and restores saved state. Must run before any
// bound method is called.
func (a *App) Startup(ctx context.Context) error {
	a.ctx = ctx

	configDir, err := settings.Dir()
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	reg, err := registry.New(filepath.Join(configDir, "connections.json"), secret.NewKeychainStore(), a.log)
	if err != nil {
		return fmt.Errorf("open connection registry: %w", err)
	}

	a.database = service.NewDatabaseService(reg, introspect.New(), a.emitter, a.log)
	a.database.SetGenerator(ai.NewClient(a.database, a.log))

	a.state = settings.LoadState()
	a.log.Info().Int("connections", len(a.database.ListConnections())).Msg("app started")
	return nil
}

// Shutdown persists state and releases every connection.
func (a *App) Shutdown(context.Context) {
	if err := settings.SaveState(a.state); err != nil {
		a.log.Warn().Err(err).Msg("save app state failed")
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close database service failed")
		}
	}
}

// Database exposes the service layer to alternate surfaces such as the
// MCP server.
func (a *App) Database() *service.DatabaseService {
	return a.database
}

// ── Connection management ──────────────────────────────────

func (a *App) ListConnections() []string {
	return a.database.ListConnections()
}

func (a *App) AddConnection(name, kind string, params map[string]string) (string, error) {
	return a.database.AddConnection(name, kind, params)
}

func (a *App) AddSQLiteFile(path string) (string, error) {
	return a.database.AddSQLiteFile(path)
}

func (a *App) UpdateConnection(name, kind string, params map[string]string) error {
	return a.database.UpdateConnection(name, kind, params)
}

func (a *App) RemoveConnection(name string) error {
	return a.database.RemoveConnection(name)
}

func (a *App) TestConnection(name string) error {
	return a.database.TestConnection(a.ctx, name)
}

// ── Query execution ────────────────────────────────────────

// RunSQL starts a background run and returns its ID; results arrive as
// query:* events.
func (a *App) RunSQL(connection, sqlText string, rowLimit int) string {
	a.state.LastSQL = sqlText
	return a.database.StartRun(a.ctx, connection, sqlText, rowLimit)
}

func (a *App) CancelRun(runID string) {
	a.database.CancelRun(runID)
}

// ── Editing ────────────────────────────────────────────────

func (a *App) ApplyEdits(connection, table string, edits []domain.PendingEdit) (int, error) {
	return a.database.ApplyEdits(a.ctx, connection, table, edits)
}

func (a *App) DeleteRow(connection, table string, pk map[string]any) (int64, error) {
	return a.database.DeleteRow(a.ctx, connection, table, pk)
}

func (a *App) PrimaryKeys(connection, table string) ([]string, error) {
	return a.database.PrimaryKeys(a.ctx, connection, table)
}

// EditTarget reports the table a SELECT reads from and its key columns.
func (a *App) EditTarget(connection, selectSQL string) (string, []string, error) {
	return a.database.EditTarget(a.ctx, connection, selectSQL)
}

// ── Schema ─────────────────────────────────────────────────

func (a *App) DescribeSchema(connection string) (string, error) {
	return a.database.DescribeSchema(a.ctx, connection)
}

func (a *App) TableColumns(connection, table string) ([]introspect.Column, error) {
	return a.database.TableColumns(a.ctx, connection, table)
}

func (a *App) AllTableColumns(connection string) (map[string][]string, error) {
	return a.database.AllTableColumns(a.ctx, connection)
}

func (a *App) TableDDL(connection, table string) (string, error) {
	return a.database.TableDDL(a.ctx, connection, table)
}

func (a *App) SchemaDDL(connection string) (string, error) {
	return a.database.SchemaDDL(a.ctx, connection)
}

// ── AI ─────────────────────────────────────────────────────

func (a *App) GenerateSQL(request string) (string, error) {
	return a.database.GenerateSQL(a.ctx, request)
}

func (a *App) GetAISettings() settings.AISettings {
	return settings.LoadAI()
}

func (a *App) SaveAISettings(s settings.AISettings) error {
	return settings.SaveAI(s)
}

// ── Export and state ───────────────────────────────────────

// ExportCSV writes one result set to disk and returns the final path.
func (a *App) ExportCSV(path string, result domain.ExecutionResult, delimiter string, noHeader, withBOM bool) (string, error) {
	opts := csvexport.Options{NoHeader: noHeader, WithBOM: withBOM}
	if delimiter != "" {
		opts.Delimiter = rune(delimiter[0])
	}
	return a.database.ExportCSV(path, &result, opts)
}

func (a *App) GetAppState() settings.AppState {
	return a.state
}

func (a *App) SetDarkMode(enabled bool) {
	a.state.DarkMode = enabled
}

func (a *App) SetLastSQL(sqlText string) {
	a.state.LastSQL = sqlText
}
