// ABOUTME: Assembles the store, knowledge base, model client, and run service from config
// ABOUTME: Shared by the HTTP gateway and the CLI subcommands that run the pipeline locally

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/2389/mentor-gateway/internal/config"
	"github.com/2389/mentor-gateway/internal/embedding"
	"github.com/2389/mentor-gateway/internal/graph"
	"github.com/2389/mentor-gateway/internal/knowledge"
	"github.com/2389/mentor-gateway/internal/llm"
	"github.com/2389/mentor-gateway/internal/perception"
	"github.com/2389/mentor-gateway/internal/session"
	"github.com/2389/mentor-gateway/internal/store"
	"github.com/2389/mentor-gateway/internal/tutor"
)

// Components are the long-lived pieces behind every surface.
type Components struct {
	Store     *store.SQLiteStore
	Knowledge *knowledge.Store
	Client    llm.Client
	Runs      *session.Service
	Extractor *perception.Extractor
}

// OpenStore opens the SQLite database. MENTOR_DB_PATH overrides the configured path.
func OpenStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("MENTOR_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// OpenKnowledge builds the embedder and the knowledge base on top of an open store.
func OpenKnowledge(ctx context.Context, cfg *config.Config, s *store.SQLiteStore, logger *slog.Logger) (*knowledge.Store, error) {
	embedder, err := embedding.New(ctx, cfg.Embedding, cfg.LLM.MaxRetries, cfg.LLM.RetryBackoff, logger.With("component", "embedding"))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	kb, err := knowledge.New(s.DB(), embedder, knowledge.Options{
		BatchSize:   cfg.Knowledge.BatchSize,
		Concurrency: cfg.Knowledge.Concurrency,
		DefaultK:    cfg.Knowledge.TopK,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating knowledge base: %w", err)
	}
	return kb, nil
}

// Assemble opens the database and wires the model client into the tutoring
// pipeline and run service.
func Assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	s, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	c, err := assemble(ctx, cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return c, nil
}

func assemble(ctx context.Context, cfg *config.Config, s *store.SQLiteStore, logger *slog.Logger) (*Components, error) {
	kb, err := OpenKnowledge(ctx, cfg, s, logger)
	if err != nil {
		return nil, err
	}

	client, err := llm.New(ctx, cfg.LLM, logger.With("component", "llm"))
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}

	recorder := session.RecordUsage(client, s, logger)
	agents := tutor.NewAgents(recorder, kb, tutor.Config{
		Model:  cfg.LLM.Model,
		TopK:   cfg.Knowledge.TopK,
		Logger: logger,
	})
	pipeline, err := agents.Build(graph.WithStepLimit(cfg.Pipeline.StepLimit))
	if err != nil {
		return nil, fmt.Errorf("building tutoring graph: %w", err)
	}

	runs := session.New(s, pipeline, kb, session.Options{
		DedupeWindow: cfg.Pipeline.DedupeWindow,
		RunTimeout:   cfg.Pipeline.RunTimeout,
		Logger:       logger,
	})

	extractor := perception.New(client, perception.Options{
		VisionModel:        cfg.LLM.VisionModel,
		TranscriptionModel: cfg.LLM.TranscriptionModel,
		Logger:             logger,
	})

	return &Components{
		Store:     s,
		Knowledge: kb,
		Client:    client,
		Runs:      runs,
		Extractor: extractor,
	}, nil
}

// SeedKnowledge fills an empty knowledge base from path, or from the built-in
// documents when path is empty. Retrieval works on an empty store, so
// failures are only logged.
func (c *Components) SeedKnowledge(ctx context.Context, path string, logger *slog.Logger) {
	n, err := c.Knowledge.Seed(ctx, path)
	if err != nil {
		logger.Warn("failed to seed knowledge base", "path", path, "error", err)
		return
	}
	if n > 0 {
		logger.Info("seeded knowledge base", "path", path, "documents", n)
	}
}

// Close stops the run service and closes the database.
func (c *Components) Close() error {
	var errs []error
	if c.Runs != nil {
		c.Runs.Close()
	}
	if c.Store != nil {
		errs = appendCloseError(errs, "store close", c.Store.Close())
	}
	return errors.Join(errs...)
}
