package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homebrain.dev/planner/common/id"
	"homebrain.dev/planner/common/logger"
	"homebrain.dev/planner/core/config"
	"homebrain.dev/planner/internal/codeindex"
	"homebrain.dev/planner/internal/embedding"
	"homebrain.dev/planner/internal/engine"
	"homebrain.dev/planner/internal/http/handler"
	"homebrain.dev/planner/internal/http/middleware"
	httprouter "homebrain.dev/planner/internal/http/router"
	"homebrain.dev/planner/internal/llmgateway"
	"homebrain.dev/planner/internal/planner"
	"homebrain.dev/planner/internal/prompts"
	"homebrain.dev/planner/internal/session"
	"homebrain.dev/planner/internal/tools"
	"homebrain.dev/planner/internal/vectorstore"

	"github.com/gin-gonic/gin"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg := config.Load()
	logger.Setup(cfg)

	slog.InfoContext(ctx, "homebrain planning engine starting", "env", cfg.Env)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	embed, err := embedding.NewClient(ctx, embedding.Config{
		BaseURL:   cfg.OllamaBaseURL,
		Model:     cfg.OllamaModel,
		Dimension: cfg.EmbeddingDimension,
		MaxTokens: cfg.EmbeddingMaxTokens,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to construct embedding client", "error", err)
		os.Exit(1)
	}
	if !embed.IsReady() {
		slog.WarnContext(ctx, "embedding model not ready at startup, semantic search will degrade to empty results")
	}

	store, err := vectorstore.New(ctx, vectorstore.Config{PersistPath: cfg.VectorStorePath})
	if err != nil {
		slog.ErrorContext(ctx, "failed to construct vector store", "error", err)
		os.Exit(1)
	}

	index := codeindex.New(cfg.RepoPath, embed, store)
	if err := index.Sync(ctx); err != nil {
		slog.WarnContext(ctx, "initial code index sync failed, continuing with whatever the store already had", "error", err)
	}

	adapter := engine.New(engine.Config{BaseURL: cfg.EngineBaseURL})

	classificationClient, err := llmgateway.NewOpenAIAgentClient(llmgateway.ClientConfig{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.ClassificationLLM,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to construct classification LLM client", "error", err)
		os.Exit(1)
	}
	generationClient, err := llmgateway.NewAnthropicAgentClient(llmgateway.ClientConfig{
		APIKey: cfg.AnthropicAPIKey,
		Model:  cfg.GenerationLLM,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to construct generation LLM client", "error", err)
		os.Exit(1)
	}
	gateway := llmgateway.NewGateway(classificationClient, generationClient, 0)

	promptCatalog := prompts.New()
	toolCatalog := tools.New(adapter, index)

	p := planner.New(gateway, promptCatalog, toolCatalog, adapter, index, planner.Config{
		MaxFixAttempts:          cfg.MaxFixAttempts,
		MaxConcurrency:          cfg.MaxConcurrency,
		ContextGatheringTimeout: time.Duration(cfg.ContextGatheringTimeoutSeconds) * time.Second,
		GenerationTemperature:   cfg.GenerationTemperature,
		ConversationTemperature: cfg.ConversationTemperature,
		DebugDir:                cfg.DebugDir,
	})

	facade := session.New(p, session.Config{
		SessionTimeout: time.Duration(cfg.SessionTimeoutSeconds) * time.Second,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(facade)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute, // generation calls can run long
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(facade *session.Facade) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, httprouter.Handlers{
		Chat: handler.NewChatHandler(facade),
	})

	return router
}

const banner = `
██╗  ██╗ ██████╗ ███╗   ███╗███████╗██████╗ ██████╗  █████╗ ██╗███╗   ██╗
██║  ██║██╔═══██╗████╗ ████║██╔════╝██╔══██╗██╔══██╗██╔══██╗██║████╗  ██║
███████║██║   ██║██╔████╔██║█████╗  ██████╔╝██████╔╝███████║██║██╔██╗ ██║
██╔══██║██║   ██║██║╚██╔╝██║██╔══╝  ██╔══██╗██╔══██╗██╔══██║██║██║╚██╗██║
██║  ██║╚██████╔╝██║ ╚═╝ ██║███████╗██████╔╝██║  ██║██║  ██║██║██║ ╚████║
╚═╝  ╚═╝ ╚═════╝ ╚═╝     ╚═╝╚══════╝╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝╚═╝  ╚═══╝
`
