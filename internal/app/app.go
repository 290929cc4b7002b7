// Package app provides application initialization and dependency
// injection.
//
// App is the container that wires the whole pipeline: config, logger,
// database pool, model backends, vector store, retriever, answerer,
// remote corpus adapter, fusion layer, and ingestor. One App per
// process; no globals.
package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarrydev/quarry/internal/answerer"
	"github.com/quarrydev/quarry/internal/config"
	"github.com/quarrydev/quarry/internal/fusion"
	"github.com/quarrydev/quarry/internal/ingest"
	"github.com/quarrydev/quarry/internal/llm"
	"github.com/quarrydev/quarry/internal/remote"
	"github.com/quarrydev/quarry/internal/retriever"
	"github.com/quarrydev/quarry/internal/store"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Infrastructure
	Pool *pgxpool.Pool

	// Model backends
	Embedder  llm.Embedder
	Generator llm.Generator

	// Pipeline components
	Store     store.VectorStore
	Docs      store.DocumentLister
	Retriever *retriever.Retriever
	Answerer  *answerer.Answerer
	Ingestor  *ingest.Ingestor

	// Remote is nil when no Gemini credential is configured; every
	// consumer treats that as "remote unavailable", not as a crash.
	Remote *remote.Adapter
	Fusion *fusion.Fusion
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.logger().Info("shutting down application")

	if a.Pool != nil {
		a.Pool.Close()
		a.logger().Debug("database pool closed")
	}
	return nil
}

func (a *App) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
