// Package app wires the application together: configuration, logging, the
// database pool, the embedding and generation client, and the question
// answering pipeline built on top of them.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acmetech/docchat/internal/answer"
	"github.com/acmetech/docchat/internal/config"
	"github.com/acmetech/docchat/internal/ingest"
	"github.com/acmetech/docchat/internal/llm"
	"github.com/acmetech/docchat/internal/log"
	"github.com/acmetech/docchat/internal/rag"
	"github.com/acmetech/docchat/internal/retrieval"
	"github.com/acmetech/docchat/internal/store"
)

// App is the application container holding every wired component.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Pool     *pgxpool.Pool
	LLM      *llm.Client
	Store    *store.Store
	Ingester *ingest.Ingester
	Engine   *rag.Engine
}

// Setup loads configuration, connects to the database, provisions the
// fragment store, and wires the full pipeline. The caller owns the returned
// App and must Close it.
func Setup(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	pool, err := store.Connect(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	st := store.New(pool, cfg.EmbeddingDim, logger)
	if err := st.Provision(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("provisioning fragment store: %w", err)
	}

	client := llm.New(llm.Config{
		APIKey:             cfg.OpenAIAPIKey,
		EmbeddingModel:     cfg.EmbeddingModel,
		EmbeddingDimension: cfg.EmbeddingDim,
		ChatModel:          cfg.ChatModel,
		Temperature:        cfg.Temperature,
		MaxAnswerTokens:    cfg.MaxAnswerTokens,
	}, logger)

	policy := retrieval.New(client, st, retrieval.Config{
		TopK:          cfg.TopK,
		Threshold:     float32(cfg.SimilarityThreshold),
		EmbedTimeout:  cfg.EmbedTimeout(),
		SearchTimeout: cfg.SearchTimeout(),
	}, logger)

	composer := answer.New(client, answer.Config{
		HistoryWindow:   cfg.HistoryWindow,
		GenerateTimeout: cfg.GenerateTimeout(),
	}, logger)

	ingester := ingest.New(client, st, ingest.Config{
		ChunkSize:    cfg.ChunkSize,
		EmbedTimeout: cfg.EmbedTimeout(),
	}, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Pool:     pool,
		LLM:      client,
		Store:    st,
		Ingester: ingester,
		Engine:   rag.New(policy, composer, logger),
	}, nil
}

// Close releases held resources.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
		a.Logger.Info("database pool closed")
	}
}
