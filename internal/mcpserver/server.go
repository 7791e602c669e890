// Package mcpserver exposes the SQL client over the Model Context
// Protocol so AI agents can browse connections, run queries, and read
// schema metadata through stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"catdb/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// Server wraps the MCP server and the database service it fronts.
type Server struct {
	mcp      *server.MCPServer
	database *service.DatabaseService
	log      zerolog.Logger
}

// New creates the server and registers all tools.
func New(database *service.DatabaseService, logger zerolog.Logger) *Server {
	s := &Server{
		database: database,
		log:      logger.With().Str("component", "mcp").Logger(),
	}

	s.mcp = server.NewMCPServer(
		"catdb-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerConnectionTools()
	s.registerQueryTools()
	s.registerSchemaTools()
	return s
}

// ServeStdio blocks serving MCP on stdin/stdout until the peer closes.
func (s *Server) ServeStdio() error {
	s.log.Info().Msg("starting stdio server")
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerConnectionTools() {
	s.mcp.AddTool(mcp.NewTool("list_connections",
		mcp.WithDescription("List all configured database connection names"),
	), s.handleListConnections)

	s.mcp.AddTool(mcp.NewTool("add_sqlite_connection",
		mcp.WithDescription("Register a SQLite database by file path"),
		mcp.WithString("path", mcp.Description("Path to the SQLite database file"), mcp.Required()),
	), s.handleAddSQLite)

	s.mcp.AddTool(mcp.NewTool("add_connection",
		mcp.WithDescription("Register a PostgreSQL or MySQL connection"),
		mcp.WithString("name", mcp.Description("Display name for the connection"), mcp.Required()),
		mcp.WithString("kind", mcp.Description("Database kind: postgresql or mysql"), mcp.Required()),
		mcp.WithString("params", mcp.Description(`Connection parameters as a JSON object, e.g. {"host":"localhost","user":"app","password":"...","database":"app"}; a jdbc: descriptor may be passed under the "url" key`), mcp.Required()),
	), s.handleAddConnection)

	s.mcp.AddTool(mcp.NewTool("remove_connection",
		mcp.WithDescription("Remove a configured connection"),
		mcp.WithString("name", mcp.Description("Connection name"), mcp.Required()),
	), s.handleRemoveConnection)
}

func (s *Server) registerQueryTools() {
	s.mcp.AddTool(mcp.NewTool("run_sql",
		mcp.WithDescription("Run SQL against a connection. Scripts may contain several statements separated by semicolons; a leading '-- connection: NAME' directive overrides the connection argument. 🛑 Write statements (UPDATE/DELETE/DROP/INSERT) run without confirmation."),
		mcp.WithString("connection", mcp.Description("Connection name"), mcp.Required()),
		mcp.WithString("sql", mcp.Description("SQL text to execute"), mcp.Required()),
		mcp.WithNumber("rowLimit", mcp.Description("Maximum rows per result set (default 1000)")),
	), s.handleRunSQL)

	s.mcp.AddTool(mcp.NewTool("generate_sql",
		mcp.WithDescription("Generate a SQL query from a natural language request using the configured AI endpoint"),
		mcp.WithString("request", mcp.Description("Natural language description of the query"), mcp.Required()),
	), s.handleGenerateSQL)
}

func (s *Server) registerSchemaTools() {
	s.mcp.AddTool(mcp.NewTool("describe_schema",
		mcp.WithDescription("Get a summary of tables, columns, and keys for a connection"),
		mcp.WithString("connection", mcp.Description("Connection name"), mcp.Required()),
	), s.handleDescribeSchema)

	s.mcp.AddTool(mcp.NewTool("table_ddl",
		mcp.WithDescription("Get the CREATE TABLE statement for a table"),
		mcp.WithString("connection", mcp.Description("Connection name"), mcp.Required()),
		mcp.WithString("table", mcp.Description("Table name, optionally schema-qualified"), mcp.Required()),
	), s.handleTableDDL)
}

func (s *Server) handleListConnections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.database.ListConnections())
}

func (s *Server) handleAddSQLite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	name, err := s.database.AddSQLiteFile(path)
	if err != nil {
		return nil, fmt.Errorf("add sqlite: %w", err)
	}
	return textResult(fmt.Sprintf("Registered connection %q", name)), nil
}

func (s *Server) handleAddConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	kind := req.GetString("kind", "")
	rawParams := req.GetString("params", "")
	if name == "" || kind == "" {
		return nil, fmt.Errorf("name and kind are required")
	}
	params := map[string]string{}
	if rawParams != "" {
		if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
			return nil, fmt.Errorf("params must be a JSON object of strings: %w", err)
		}
	}
	final, err := s.database.AddConnection(name, kind, params)
	if err != nil {
		return nil, fmt.Errorf("add connection: %w", err)
	}
	return textResult(fmt.Sprintf("Registered connection %q", final)), nil
}

func (s *Server) handleRemoveConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if err := s.database.RemoveConnection(name); err != nil {
		return nil, fmt.Errorf("remove connection: %w", err)
	}
	return textResult(fmt.Sprintf("Removed connection %q", name)), nil
}

func (s *Server) handleRunSQL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	connection, _ := args["connection"].(string)
	sqlText, _ := args["sql"].(string)
	rowLimit := int(getFloat(args, "rowLimit", 0))
	if connection == "" || strings.TrimSpace(sqlText) == "" {
		return nil, fmt.Errorf("connection and sql are required")
	}

	results, err := s.database.RunSQL(ctx, connection, sqlText, rowLimit, nil)
	if err != nil {
		// Partial results still matter to the agent; include them.
		if len(results) > 0 {
			return jsonResult(map[string]any{
				"results": results,
				"error":   err.Error(),
			})
		}
		return nil, fmt.Errorf("run sql: %w", err)
	}
	return jsonResult(results)
}

func (s *Server) handleGenerateSQL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	request := req.GetString("request", "")
	if request == "" {
		return nil, fmt.Errorf("request is required")
	}
	sqlText, err := s.database.GenerateSQL(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("generate sql: %w", err)
	}
	return textResult(sqlText), nil
}

func (s *Server) handleDescribeSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connection := req.GetString("connection", "")
	if connection == "" {
		return nil, fmt.Errorf("connection is required")
	}
	schema, err := s.database.DescribeSchema(ctx, connection)
	if err != nil {
		return nil, fmt.Errorf("describe schema: %w", err)
	}
	if schema == "" {
		return textResult("(empty schema)"), nil
	}
	return textResult(schema), nil
}

func (s *Server) handleTableDDL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	connection := req.GetString("connection", "")
	table := req.GetString("table", "")
	if connection == "" || table == "" {
		return nil, fmt.Errorf("connection and table are required")
	}
	ddl, err := s.database.TableDDL(ctx, connection, table)
	if err != nil {
		return nil, fmt.Errorf("table ddl: %w", err)
	}
	if ddl == "" {
		return textResult(fmt.Sprintf("No DDL available for table %q", table)), nil
	}
	return textResult(ddl), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

func getFloat(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}
