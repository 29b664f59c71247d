// server is the course RAG backend binary: document indexing into Qdrant,
// metadata-filtered retrieval, and conversation-aware chat over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"course-rag-server/internal/api"
	"course-rag-server/internal/chunking"
	"course-rag-server/internal/cleanup"
	"course-rag-server/internal/config"
	"course-rag-server/internal/conversation"
	"course-rag-server/internal/embeddings"
	"course-rag-server/internal/generation"
	"course-rag-server/internal/indexing"
	"course-rag-server/internal/locks"
	"course-rag-server/internal/logging"
	"course-rag-server/internal/memstore"
	"course-rag-server/internal/prompts"
	"course-rag-server/internal/retrieval"
	"course-rag-server/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.SetDefaultLogger(logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level)))
	logger := logging.WithComponent("server")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	services, closeServices, err := buildServices(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to build services", "error", err.Error())
	}
	defer closeServices()

	router := api.NewRouter(cfg, services)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server listening",
			"addr", addr,
			"collection", cfg.Qdrant.Collection,
			"llm_model", cfg.OpenAI.LLMModel)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err.Error())
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Fresh context: the parent is already cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err.Error())
	}
}

// buildServices wires every component from configuration. The returned
// close function releases the store connections.
func buildServices(ctx context.Context, cfg *config.Config) (*api.Services, func(), error) {
	registry, err := prompts.NewRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("prompt registry: %w", err)
	}

	chunker, err := chunking.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		return nil, nil, fmt.Errorf("chunker: %w", err)
	}

	vectorStore, err := storage.NewQdrantStore(&cfg.Qdrant)
	if err != nil {
		return nil, nil, fmt.Errorf("vector store: %w", err)
	}

	memStore, err := memstore.NewRedisStore(&cfg.Redis)
	if err != nil {
		_ = vectorStore.Close()
		return nil, nil, fmt.Errorf("memory store: %w", err)
	}

	embedder := embeddings.NewOpenAIService(&cfg.OpenAI)
	generator := generation.NewOpenAIService(&cfg.OpenAI)

	memory := conversation.NewMemory(memStore, generator, registry, conversation.MemoryConfig{
		TokenLimit:  cfg.Conversation.TokenLimit,
		MaxMessages: cfg.Conversation.MaxMessages,
		TailKeep:    cfg.Conversation.TailKeep,
	})
	retriever := retrieval.NewEngine(embedder, vectorStore, retrieval.Options{
		TopK:           uint64(cfg.Conversation.SimilarityTopK),
		ScoreThreshold: float32(cfg.Conversation.ScoreThreshold),
	})

	// One mutex map serializes indexing and cleanup per course material.
	tenantLocks := locks.NewKeyedMutex()

	services := &api.Services{
		Indexer:      indexing.NewEngine(chunker, embedder, vectorStore, tenantLocks, cfg.Qdrant.Collection),
		Orchestrator: conversation.NewOrchestrator(memory, retriever, generator, registry, cfg.Qdrant.Collection),
		Cleaner:      cleanup.NewCoordinator(vectorStore, memStore, tenantLocks, &cfg.Storage, cfg.Qdrant.Collection),
		VectorStore:  vectorStore,
		MemoryStore:  memStore,
	}

	closeServices := func() {
		if err := memStore.Close(); err != nil {
			logging.Error("closing memory store", "error", err.Error())
		}
		if err := vectorStore.Close(); err != nil {
			logging.Error("closing vector store", "error", err.Error())
		}
	}

	if err := vectorStore.HealthCheck(ctx); err != nil {
		logging.Warn("vector store not reachable at startup", "error", err.Error())
	}
	if err := memStore.HealthCheck(ctx); err != nil {
		logging.Warn("memory store not reachable at startup", "error", err.Error())
	}

	return services, closeServices, nil
}
