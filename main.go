package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"catdb/internal/app"
	"catdb/internal/mcpserver"
	"catdb/internal/service"

	"github.com/rs/zerolog"
)

// catdb runs headless as an MCP server on stdin/stdout. Desktop frontends
// embed the app package directly and bind its methods instead.
func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if os.Getenv("CATDB_DEBUG") != "" {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := app.New(service.NopEmitter{}, logger)
	if err := a.Startup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Shutdown(ctx)

	srv := mcpserver.New(a.Database(), logger)
	if err := srv.ServeStdio(); err != nil {
		logger.Fatal().Err(err).Msg("mcp server error")
	}
}
