package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"searchchat-backend/internal/api"
	"searchchat-backend/internal/config"
	"searchchat-backend/internal/crypto"
	"searchchat-backend/internal/embedding"
	"searchchat-backend/internal/handlers"
	"searchchat-backend/internal/llm"
	"searchchat-backend/internal/logging"
	"searchchat-backend/internal/mcpserver"
	"searchchat-backend/internal/relevance"
	"searchchat-backend/internal/retrieval"
	"searchchat-backend/internal/services"
	"searchchat-backend/internal/store/postgres"
	"searchchat-backend/internal/tokens"
	"searchchat-backend/internal/vectorstore"
	"searchchat-backend/internal/vectorstore/memory"
	"searchchat-backend/internal/vectorstore/milvus"
	"searchchat-backend/internal/vectorstore/qdrant"
)

const version = "0.3.0"

// validityKeyInfo separates the validity MAC key from other keys derived from VALIDITY_SECRET.
const validityKeyInfo = "searchchat context validity v1"

func main() {
	configFile := pflag.StringP("config", "c", "", "path to a YAML config file (overrides CONFIG_FILE)")
	envFile := pflag.String("env-file", ".env", "path to a .env file")
	port := pflag.StringP("port", "p", "", "HTTP port (overrides HTTP_PORT)")
	pflag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig(config.LoadOptions{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if *port != "" {
		cfg.HTTP.Port = *port
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("FATAL: Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck
	logger.Info("Starting SearchChat Backend...", zap.String("version", version))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
	logger.Info("Server shutdown complete.")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	setupCtx, setupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer setupCancel()

	// 2. Initialize Database Connection Pool (optional)
	var dbpool *pgxpool.Pool
	var recorder services.TurnRecorder
	var turnLogHandler *handlers.TurnLogHandler
	var turnLogCheck func(context.Context) error
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(setupCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("unable to create database connection pool: %w", err)
		}
		dbpool = pool
		defer dbpool.Close()

		if err := dbpool.Ping(setupCtx); err != nil {
			return fmt.Errorf("unable to ping database: %w", err)
		}
		logger.Info("Database connection pool established and pinged successfully.")

		pgStore := postgres.NewPostgresStore(dbpool, logger)
		if err := pgStore.EnsureSchema(setupCtx); err != nil {
			return fmt.Errorf("unable to prepare turn log schema: %w", err)
		}
		storeRecorder := services.NewStoreRecorder(pgStore, 5*time.Second, logger)
		defer storeRecorder.Close()
		recorder = storeRecorder
		turnLogHandler = handlers.NewTurnLogHandler(pgStore, logger)
		turnLogCheck = pgStore.Ping
		logger.Info("Turn log store initialized.")
	} else {
		recorder = services.NewLogRecorder(logger)
		logger.Warn("DATABASE_URL not set, turns are logged but not persisted")
	}

	// 3. Initialize Embedding and Vector Search Backends
	var embedder embedding.Embedder
	switch cfg.Embedding.Provider {
	case "hashing":
		embedder = embedding.NewHashing(cfg.Embedding.Dimensions)
	default:
		embedder = embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			MaxRetries: cfg.Generation.Retries,
		})
	}
	if cfg.Embedding.CacheSize > 0 {
		embedder = embedding.NewCached(embedder, cfg.Embedding.CacheSize)
	}
	logger.Info("Embedder initialized.", zap.String("embedder", embedder.Name()), zap.Int("dimensions", embedder.Dimension()))

	vstore, closeStore, err := openVectorStore(setupCtx, cfg, embedder, dbpool, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("Vector store initialized.", zap.String("backend", vstore.Name()))

	// 4. Initialize Retrieval
	key, err := validityKey(cfg, logger)
	if err != nil {
		return err
	}
	keyer, err := retrieval.NewKeyer(key, cfg.Retrieval.IndexVersion)
	if err != nil {
		return fmt.Errorf("failed to create context keyer: %w", err)
	}

	var reranker retrieval.Reranker
	if cfg.Retrieval.RerankURL != "" {
		reranker = retrieval.NewHTTPReranker(cfg.Retrieval.RerankURL, cfg.Retrieval.Timeout, cfg.Retrieval.Retries)
		logger.Info("Cross-encoder reranker enabled.", zap.String("url", cfg.Retrieval.RerankURL))
	}

	gateway := retrieval.NewGateway(embedder, vstore, reranker, keyer, retrieval.Config{
		TopK:                cfg.Retrieval.TopK,
		MaxTopK:             cfg.Retrieval.MaxTopK,
		CandidateMultiplier: cfg.Retrieval.CandidateMultiplier,
		Timeout:             cfg.Retrieval.Timeout,
		Retries:             cfg.Retrieval.Retries,
	}, logger)

	// 5. Initialize Generation and Services
	counter, err := tokens.New(cfg.Answer.TokenizerEncoding)
	if err != nil {
		logger.Warn("Tokenizer unavailable, using approximate token counts", zap.Error(err))
	}
	completer := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:      cfg.Generation.APIKey,
		BaseURL:     cfg.Generation.BaseURL,
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		TopP:        cfg.Generation.TopP,
		MaxRetries:  cfg.Generation.Retries,
	})

	scorer := relevance.NewEmbeddingScorer(embedder, cfg.Retrieval.Timeout)
	decider := services.NewDecider(gateway, scorer, cfg.Reuse.Threshold, cfg.Reuse.AmbiguityMargin, logger)
	answers := services.NewAnswerGenerator(completer, counter, services.AnswerConfig{
		MaxPassageChars:    cfg.Retrieval.MaxPassageChars,
		Timeout:            cfg.Answer.Timeout,
		HistoryTokenBudget: cfg.Answer.HistoryTokenBudget,
	}, logger)
	suggestions := services.NewSuggestionGenerator(completer, services.SuggestionConfig{
		Max:             cfg.Suggestions.Max,
		MaxPassageChars: cfg.Retrieval.MaxPassageChars,
		Timeout:         cfg.Suggestions.Timeout,
	}, logger)
	orchestrator := services.NewOrchestrator(gateway, decider, answers, suggestions, recorder, services.OrchestratorConfig{
		ChunkRunes:     cfg.Stream.ChunkRunes,
		PacingInterval: cfg.Stream.PacingInterval,
	}, logger)
	logger.Info("Turn orchestrator initialized.")

	// --- Initialize Handlers ---
	var mcpHandler http.Handler
	if cfg.MCPEnabled {
		mcpHandler = mcpserver.NewHTTPHandler(mcpserver.NewServer(orchestrator, version, logger))
		logger.Info("MCP server enabled at /mcp.")
	}

	routerDeps := api.RouterDependencies{
		SearchChatHandler: handlers.NewSearchChatHandler(orchestrator, logger),
		WSHandler:         handlers.NewSearchChatWSHandler(orchestrator, cfg.HTTP.AllowedOrigins, logger),
		HealthHandler: handlers.NewHealthHandler(5*time.Second, logger,
			handlers.HealthCheck{Name: "vector_store", Check: gateway.Health},
			handlers.HealthCheck{Name: "turn_log", Check: turnLogCheck},
			handlers.HealthCheck{Name: "generation", Check: completer.Ping},
		),
		TurnLogHandler: turnLogHandler,
		MCPHandler:     mcpHandler,
		Config:         cfg,
		Logger:         logger,
	}

	// 6. Setup Router & Inject Dependencies
	router := api.NewRouter(routerDeps)
	logger.Info("HTTP router configured.")

	// 7. Configure and Start HTTP Server
	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to listen for OS signals for graceful shutdown
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting and listening", zap.String("port", cfg.HTTP.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("could not listen on %s: %w", cfg.HTTP.Port, err)
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-stopChan:
	}
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// openVectorStore connects the configured search backend. The returned func
// releases it.
func openVectorStore(ctx context.Context, cfg *config.Config, e embedding.Embedder, db *pgxpool.Pool, logger *zap.Logger) (vectorstore.Store, func(), error) {
	noop := func() {}
	vc := cfg.VectorStore
	switch vc.Backend {
	case "qdrant":
		return qdrant.NewStorage(qdrant.Config{
			URL:        vc.QdrantURL,
			APIKey:     vc.QdrantAPIKey,
			Collection: vc.Collection,
			Timeout:    cfg.Retrieval.Timeout,
		}), noop, nil
	case "milvus":
		s, err := milvus.Connect(ctx, milvus.Config{
			Address:     vc.MilvusAddress,
			Username:    vc.MilvusUsername,
			Password:    vc.MilvusPassword,
			Collection:  vc.Collection,
			VectorField: vc.MilvusVectorField,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("unable to connect to milvus: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("Failed to close milvus client", zap.Error(err))
			}
		}, nil
	case "pgvector":
		if db == nil {
			return nil, nil, errors.New("pgvector vector store requires DATABASE_URL")
		}
		return postgres.NewPassageSearcher(db, vc.PgvectorTable), noop, nil
	default:
		s := memory.New()
		if vc.MemorySeedFile != "" {
			seeds, err := memory.LoadSeed(vc.MemorySeedFile)
			if err != nil {
				return nil, nil, err
			}
			if err := s.Index(ctx, e, seeds); err != nil {
				return nil, nil, err
			}
			logger.Info("Seeded in-memory vector store", zap.Int("passages", s.Len()))
		} else {
			logger.Warn("In-memory vector store has no seed file, retrieval will find nothing")
		}
		return s, noop, nil
	}
}

// validityKey derives the context validity MAC key from VALIDITY_SECRET. Without
// a secret a random key is used, so contexts do not survive a restart.
func validityKey(cfg *config.Config, logger *zap.Logger) ([]byte, error) {
	if cfg.Reuse.ValiditySecret == "" {
		logger.Warn("VALIDITY_SECRET not set, using an ephemeral key; contexts issued before a restart will be re-retrieved")
		return crypto.RandomKey()
	}
	return crypto.DeriveKey([]byte(cfg.Reuse.ValiditySecret), validityKeyInfo)
}
