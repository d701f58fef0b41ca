package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelchain/modelchain/pkg/capability"
	"github.com/modelchain/modelchain/pkg/config"
	"github.com/modelchain/modelchain/pkg/databases"
	"github.com/modelchain/modelchain/pkg/embedders"
	"github.com/modelchain/modelchain/pkg/encoder"
	"github.com/modelchain/modelchain/pkg/ledger"
	"github.com/modelchain/modelchain/pkg/llms"
	"github.com/modelchain/modelchain/pkg/memory"
	"github.com/modelchain/modelchain/pkg/router"
	"github.com/modelchain/modelchain/pkg/server"
	"github.com/modelchain/modelchain/pkg/store"
)

// ServeCmd starts the routing server.
type ServeCmd struct {
	Host string `help:"Override server host."`
	Port int    `help:"Override server port."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := config.NewDBPool()
	defer func() {
		if err := pool.Close(); err != nil {
			slog.Warn("Failed to close database pool", "error", err)
		}
	}()

	db, err := pool.Get(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	st, err := store.NewStore(db, cfg.Database.Dialect())
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	vectors, err := databases.NewDatabaseFromConfig(&cfg.VectorStore)
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	defer vectors.Close()

	embedder, err := embedders.NewEmbedderFromConfig(&cfg.Embedder)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	defer embedder.Close()

	llm, err := llms.NewProviderFromConfig(&cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM provider: %w", err)
	}
	defer llm.Close()

	if cfg.Router.LatentDim != encoder.LatentDim {
		return fmt.Errorf("latent_dim %d is not supported (expected %d)", cfg.Router.LatentDim, encoder.LatentDim)
	}
	qEnc, mEnc, err := encoder.NewEncoders(cfg.Router.CheckpointPath, cfg.Router.Seed, embedder)
	if err != nil {
		return fmt.Errorf("failed to initialize encoders: %w", err)
	}

	engine := capability.NewEngine(st)
	if err := engine.LoadFromStore(ctx); err != nil {
		return err
	}
	if cfg.Router.SeedDefaults {
		if err := engine.SeedDefaults(ctx); err != nil {
			return err
		}
	}

	led := ledger.New(st)
	rt := router.New(qEnc, mEnc, engine, llm, led, st, cfg.Router.TopK)

	mem, err := memory.NewManager(st, vectors, embedder, llm, &cfg.Memory)
	if err != nil {
		return fmt.Errorf("failed to initialize memory: %w", err)
	}

	srv := server.New(&cfg.Server, engine, rt, mem, led, st)

	slog.Info("Starting modelchain server",
		"version", Version,
		"database", cfg.Database.Driver,
		"vector_store", cfg.VectorStore.Type,
		"llm", cfg.LLM.Type)

	return srv.Start(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		slog.Info("No config file given, using defaults")
		return config.DefaultConfig(), nil
	}
	return config.LoadConfigFile(path)
}
