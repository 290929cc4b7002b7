package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarrydev/quarry/db"
	"github.com/quarrydev/quarry/internal/answerer"
	"github.com/quarrydev/quarry/internal/chunker"
	"github.com/quarrydev/quarry/internal/config"
	"github.com/quarrydev/quarry/internal/fusion"
	"github.com/quarrydev/quarry/internal/ingest"
	"github.com/quarrydev/quarry/internal/knowledge"
	"github.com/quarrydev/quarry/internal/llm"
	"github.com/quarrydev/quarry/internal/remote"
	"github.com/quarrydev/quarry/internal/retriever"
	"github.com/quarrydev/quarry/internal/store"
)

// Setup creates and initializes the application. Callers own the
// returned App and must Close it.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	embedder, generator, err := provideModels(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Embedder = embedder
	a.Generator = generator

	pg, err := store.NewPostgres(pool, cfg.EmbedderDimension, logger.With("component", "store"))
	if err != nil {
		return nil, err
	}
	a.Store = pg
	a.Docs = pg

	// Fail fast on a dimension mismatch between the embedder and the
	// store instead of corrupting searches at runtime.
	if embedder.Dimension() != a.Store.Dimension() {
		return nil, fmt.Errorf("%w: embedder produces dimension %d but the store expects %d",
			knowledge.ErrConfiguration, embedder.Dimension(), a.Store.Dimension())
	}

	ret, err := retriever.New(embedder, a.Store, cfg.TopK, logger.With("component", "retriever"))
	if err != nil {
		return nil, err
	}
	a.Retriever = ret

	ans, err := answerer.New(ret, generator, logger.With("component", "answerer"))
	if err != nil {
		return nil, err
	}
	a.Answerer = ans

	ing, err := ingest.New(chunker.New(), embedder, a.Store, cfg.ChunkSize, cfg.ChunkOverlap,
		logger.With("component", "ingest"))
	if err != nil {
		return nil, err
	}
	a.Ingestor = ing

	// The remote adapter is optional: without a credential the engine
	// runs local-only.
	rem, err := remote.New(ctx, remote.Config{
		APIKey:        cfg.GeminiAPIKey,
		GenerateModel: cfg.GenerateModel,
		RegistryPath:  cfg.CorpusRegistryPath,
		QueryTimeout:  cfg.GenerateTimeout,
		Logger:        logger.With("component", "remote"),
	})
	switch {
	case err == nil:
		a.Remote = rem
	case errors.Is(err, knowledge.ErrRemoteUnavailable):
		logger.Info("remote corpus unavailable, running local-only", "reason", err)
	default:
		return nil, err
	}

	fus, err := provideFusion(a, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Fusion = fus

	return a, nil
}

// provideModels constructs the embedder and generator for the configured
// provider.
func provideModels(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Embedder, llm.Generator, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		o, err := llm.NewOllama(llm.OllamaConfig{
			Host:          cfg.OllamaHost,
			EmbedModel:    cfg.EmbedderModel,
			GenerateModel: cfg.GenerateModel,
			Dimension:     cfg.EmbedderDimension,
			Timeout:       cfg.GenerateTimeout,
			Logger:        logger.With("component", "ollama"),
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("initialized ollama provider", "host", cfg.OllamaHost,
			"embed_model", cfg.EmbedderModel, "generate_model", cfg.GenerateModel)
		return o, o, nil

	default: // gemini
		g, err := llm.NewGoogleAI(ctx, llm.GoogleAIConfig{
			APIKey:          cfg.GeminiAPIKey,
			EmbedModel:      cfg.EmbedderModel,
			GenerateModel:   cfg.GenerateModel,
			Dimension:       cfg.EmbedderDimension,
			EmbedTimeout:    cfg.EmbedTimeout,
			GenerateTimeout: cfg.GenerateTimeout,
			Logger:          logger.With("component", "googleai"),
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("initialized gemini provider",
			"embed_model", cfg.EmbedderModel, "generate_model", cfg.GenerateModel)
		return g, g, nil
	}
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideFusion wires the hybrid layer. The remote side may be absent.
func provideFusion(a *App, cfg *config.Config, logger *slog.Logger) (*fusion.Fusion, error) {
	var rem fusion.RemoteQuerier
	if a.Remote != nil {
		rem = a.Remote
	}
	return fusion.New(a.Answerer, rem, a.Generator, cfg.FusionDeadline,
		logger.With("component", "fusion"))
}
