package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql

	"github.com/buddy-ai/buddy/internal/agent"
	"github.com/buddy-ai/buddy/internal/checkpoint"
	"github.com/buddy-ai/buddy/internal/config"
	"github.com/buddy-ai/buddy/internal/embeddings"
	"github.com/buddy-ai/buddy/internal/events"
	"github.com/buddy-ai/buddy/internal/ingest"
	"github.com/buddy-ai/buddy/internal/llm"
	"github.com/buddy-ai/buddy/internal/memstore"
	"github.com/buddy-ai/buddy/internal/retrieval"
	"github.com/buddy-ai/buddy/internal/session"
	"github.com/buddy-ai/buddy/internal/summarizer"
	"github.com/buddy-ai/buddy/internal/tools"
)

// embedDims matches the output size of the default embedding model
// (nomic-embed-text). Only the Postgres memory backend needs it.
const embedDims = 768

// app bundles the wired components a command needs, plus the handles
// it must close on the way out.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	loop   *agent.Loop
	index  *retrieval.Index
	bus    *events.Bus

	dbs        []*sql.DB
	checkpoint checkpoint.Store
	memory     memstore.Store
}

func (a *app) close() {
	if a.checkpoint != nil {
		a.checkpoint.Close()
	}
	if a.memory != nil {
		a.memory.Close()
	}
	for _, db := range a.dbs {
		db.Close()
	}
}

// buildApp wires the full agent stack from config.
func buildApp(ctx context.Context, logw io.Writer, configPath string) (*app, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(logw, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("config loaded", "path", cfgPath)

	a := &app{cfg: cfg, logger: logger, bus: events.New()}

	client, err := buildClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	embedder := embeddings.NewClient(cfg.Embeddings.BaseURL, cfg.Embeddings.Model)

	indexDB, err := sql.Open("sqlite3", cfg.Retrieval.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	a.dbs = append(a.dbs, indexDB)
	a.index, err = retrieval.NewIndex(indexDB, embedder)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("retrieval index: %w", err)
	}

	var searx *retrieval.SearXNG
	if cfg.Retrieval.SearXNGURL != "" {
		searx = retrieval.NewSearXNG(cfg.Retrieval.SearXNGURL)
	}
	gateway := retrieval.NewGateway(retrieval.GatewayConfig{
		Index:      a.index,
		Searx:      searx,
		TopK:       cfg.Retrieval.TopK,
		FetchPages: cfg.Retrieval.FetchPages,
		Timeout:    time.Duration(cfg.Retrieval.TimeoutSeconds) * time.Second,
		Logger:     logger,
	})

	a.checkpoint, err = buildCheckpointStore(ctx, cfg, a)
	if err != nil {
		a.close()
		return nil, err
	}
	a.memory, err = buildMemoryStore(ctx, cfg, a, embedder)
	if err != nil {
		a.close()
		return nil, err
	}

	sessions := session.NewManager(a.checkpoint, logger)
	registry := tools.NewRegistry(gateway, a.memory, logger)

	a.loop = agent.New(agent.Config{
		Client:           client,
		Model:            cfg.Provider.Model,
		Registry:         registry,
		Grader:           agent.NewGrader(client, cfg.Provider.Model, logger),
		Rewriter:         agent.NewRewriter(client, cfg.Provider.Model, logger),
		Summarizer:       summarizer.New(client, cfg.Provider.Model, logger),
		Memory:           a.memory,
		Sessions:         sessions,
		Bus:              a.bus,
		Logger:           logger,
		LoopCeiling:      cfg.Agent.LoopCeiling,
		ToolBudget:       cfg.Agent.ToolBudget,
		ApprovalRequired: cfg.Agent.ApprovalRequired,
	})
	return a, nil
}

func buildClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	switch cfg.Provider.Kind {
	case "ollama":
		return llm.NewOllamaClient(cfg.Provider.BaseURL), nil
	case "anthropic":
		return llm.NewAnthropicClient(cfg.Provider.APIKey, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider.kind: %q", cfg.Provider.Kind)
	}
}

func buildCheckpointStore(ctx context.Context, cfg *config.Config, a *app) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "memory":
		return checkpoint.NewMemoryStore(), nil
	case "redis":
		ttl := time.Duration(cfg.Checkpoint.TTLHours) * time.Hour
		store, err := checkpoint.NewRedisStore(ctx, cfg.Checkpoint.RedisURL, ttl)
		if err != nil {
			return nil, fmt.Errorf("redis checkpoint store: %w", err)
		}
		return store, nil
	default:
		db, err := sql.Open("sqlite3", cfg.Checkpoint.Path)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint database: %w", err)
		}
		a.dbs = append(a.dbs, db)
		store, err := checkpoint.NewSQLiteStore(db)
		if err != nil {
			return nil, fmt.Errorf("sqlite checkpoint store: %w", err)
		}
		return store, nil
	}
}

func buildMemoryStore(ctx context.Context, cfg *config.Config, a *app, embedder *embeddings.Client) (memstore.Store, error) {
	switch cfg.Memory.Backend {
	case "postgres":
		store, err := memstore.NewPostgresStore(ctx, cfg.Memory.PostgresURL, embedder, embedDims)
		if err != nil {
			return nil, fmt.Errorf("postgres memory store: %w", err)
		}
		return store, nil
	default:
		db, err := sql.Open("sqlite3", cfg.Memory.Path)
		if err != nil {
			return nil, fmt.Errorf("open memory database: %w", err)
		}
		a.dbs = append(a.dbs, db)
		store, err := memstore.NewSQLiteStore(db)
		if err != nil {
			return nil, fmt.Errorf("sqlite memory store: %w", err)
		}
		return store, nil
	}
}

// runAsk processes a single question on a throwaway thread and prints
// the answer.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	a, err := buildApp(ctx, stdout, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	question := joinArgs(args)
	res, err := a.loop.Run(ctx, session.UserContext{UserID: "cli"}, newThreadID(), question)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		a.logger.Warn(w)
	}
	fmt.Fprintln(stdout, res.FinalAnswer)
	return nil
}

// runIngest imports a markdown file or directory into the knowledge
// base.
func runIngest(ctx context.Context, stdout io.Writer, configPath, path string) error {
	a, err := buildApp(ctx, stdout, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ing := ingest.New(a.index, a.logger)

	info, err := statPath(path)
	if err != nil {
		return err
	}
	var n int
	if info.IsDir() {
		n, err = ing.IngestDir(ctx, path)
	} else {
		n, err = ing.IngestFile(ctx, path)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Ingested %d chunks from %s\n", n, path)
	return nil
}
