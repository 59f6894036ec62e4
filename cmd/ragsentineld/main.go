// Command ragsentineld runs the reliability-aware RAG query service: it
// wires every pipeline stage from internal/{understanding,decompose,
// retriever,reranker,rqscore,fallback,generator,verifier,confidence} into
// an Orchestrator and serves it over HTTP. Rewritten from the teacher's
// cmd/ragd/main.go, which wired grpc+Qdrant+tenant services instead; see
// DESIGN.md for what was dropped and why.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/knoguchi/ragsentinel/internal/cache"
	"github.com/knoguchi/ragsentinel/internal/chunkstore"
	"github.com/knoguchi/ragsentinel/internal/config"
	"github.com/knoguchi/ragsentinel/internal/confidence"
	"github.com/knoguchi/ragsentinel/internal/decompose"
	"github.com/knoguchi/ragsentinel/internal/embedder"
	"github.com/knoguchi/ragsentinel/internal/fallback"
	"github.com/knoguchi/ragsentinel/internal/generator"
	"github.com/knoguchi/ragsentinel/internal/ingestion"
	"github.com/knoguchi/ragsentinel/internal/lexical"
	"github.com/knoguchi/ragsentinel/internal/llm"
	"github.com/knoguchi/ragsentinel/internal/metrics"
	"github.com/knoguchi/ragsentinel/internal/orchestrator"
	"github.com/knoguchi/ragsentinel/internal/pg"
	"github.com/knoguchi/ragsentinel/internal/reranker"
	"github.com/knoguchi/ragsentinel/internal/retriever"
	"github.com/knoguchi/ragsentinel/internal/rqscore"
	"github.com/knoguchi/ragsentinel/internal/server"
	"github.com/knoguchi/ragsentinel/internal/tracestore"
	"github.com/knoguchi/ragsentinel/internal/understanding"
	"github.com/knoguchi/ragsentinel/internal/vector"
	"github.com/knoguchi/ragsentinel/internal/verifier"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("starting ragsentinel", "http_port", cfg.HTTPPort, "environment", cfg.Environment)

	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})
	slog.Info("initialized embedder", "model", cfg.OllamaEmbeddingModel)

	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
	)
	slog.Info("initialized llm client", "model", cfg.OllamaLLMModel)

	chunks, err := newChunkStore(ctx, cfg)
	if err != nil {
		return err
	}

	embedCache, err := newEmbedCache(cfg)
	if err != nil {
		return err
	}

	lex := lexical.New()
	vecs := vector.New(embed.Dimension())

	pipeline := ingestion.NewPipelineWithDefaults()
	ingester := ingestion.NewIngester(pipeline, chunks, lex, vecs, embed, embedCache)

	traces, err := newTraceStore(ctx, cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	orch := buildOrchestrator(cfg, chunks, embed, llmClient, lex, vecs, traces, m, logger)

	httpServer := server.New(server.Config{
		Port:           cfg.HTTPPort,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		APIKeys:        cfg.APIKeys,
	}, server.Deps{
		Pipeline:   orch,
		Chunks:     chunks,
		Lexical:    lex,
		Vectors:    vecs,
		Registerer: reg,
		Ingester:   ingester,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

func newChunkStore(ctx context.Context, cfg *config.Config) (chunkstore.Store, error) {
	if cfg.TraceStore != "postgres" && cfg.DatabaseURL == "" {
		return chunkstore.NewMemoryStore(), nil
	}
	db, err := pg.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Warn("postgres unavailable, falling back to in-memory chunk store", "error", err)
		return chunkstore.NewMemoryStore(), nil
	}
	return chunkstore.NewPostgresStore(db), nil
}

func newTraceStore(ctx context.Context, cfg *config.Config) (tracestore.Store, error) {
	if cfg.TraceStore != "postgres" {
		return tracestore.NewMemoryStore(tracestore.DefaultCapacity), nil
	}
	db, err := pg.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect trace store to postgres: %w", err)
	}
	return tracestore.NewPostgresStore(db), nil
}

func newEmbedCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.CacheStore != "redis" || cfg.RedisURL == "" {
		return cache.NewMemoryCache(), nil
	}
	c, err := cache.NewRedisCache(cfg.RedisURL)
	if err != nil {
		slog.Warn("redis unavailable, falling back to in-memory embedding cache", "error", err)
		return cache.NewMemoryCache(), nil
	}
	return c, nil
}

func buildOrchestrator(
	cfg *config.Config,
	chunks chunkstore.Store,
	embed embedder.Embedder,
	llmClient llm.LLM,
	lex *lexical.Index,
	vecs *vector.Index,
	traces tracestore.Store,
	m *metrics.Metrics,
	logger *slog.Logger,
) *orchestrator.Orchestrator {
	hybrid := retriever.New(lex, vecs, chunks, embed, cfg.RRFConstant)

	baseReranker := reranker.NewLLMReranker(llmClient, reranker.WithModel(cfg.OllamaLLMModel))
	pooledReranker := reranker.NewWorkerPoolReranker(baseReranker, cfg.RerankerWorkers)

	rqScorer := rqscore.NewScorer(rqscore.Weights{
		Relevance:   cfg.RQWeightRelevance,
		Margin:      cfg.RQWeightMargin,
		Coverage:    cfg.RQWeightCoverage,
		Consistency: cfg.RQWeightConsistency,
	})

	gate := rqscore.NewGate(
		rqscore.Thresholds{Fallback: cfg.FallbackThresholdNormal, Proceed: cfg.ProceedThresholdNormal},
		rqscore.Thresholds{Fallback: cfg.FallbackThresholdStrict, Proceed: cfg.ProceedThresholdStrict},
	)

	fallbackMgr := fallback.New(hybrid, pooledReranker, rqScorer, llmClient, cfg.OllamaLLMModel, fallback.Config{
		ExpandK:     cfg.FallbackExpandK,
		RerankTopN:  cfg.RerankTopN,
		MaxRewrites: cfg.FallbackMaxRewrites,
		ProceedRQ:   cfg.ProceedThresholdNormal,
		FallbackRQ:  cfg.FallbackThresholdNormal,
	}, logger)

	gen := generator.New(llmClient, cfg.OllamaLLMModel, logger)

	decisionMaker := verifier.NewDecisionMaker(verifier.Thresholds{
		PassGroundednessNormal:  cfg.VerifyPassGroundednessNormal,
		PassContradictionNormal: cfg.VerifyPassContradictionNormal,
		PassGroundednessStrict:  cfg.VerifyPassGroundednessStrict,
		PassContradictionStrict: cfg.VerifyPassContradictionStrict,
		WarnGroundedness:        cfg.VerifyWarnGroundednessNormal,
		WarnContradiction:       cfg.VerifyWarnContradictionNormal,
		SelfInconsistency:       cfg.SelfInconsistencyThreshold,
	})

	confScorer := confidence.New(cfg.ConfidenceWeightRQ, cfg.ConfidenceWeightGroundedness, cfg.ConfidenceWeightContradiction)

	return orchestrator.New(
		understanding.New(),
		decompose.New(llmClient, cfg.OllamaLLMModel, logger),
		hybrid,
		pooledReranker,
		rqScorer,
		gate,
		fallbackMgr,
		gen,
		verifier.NewGroundednessChecker(llmClient, cfg.OllamaLLMModel, logger),
		verifier.NewContradictionDetector(llmClient, cfg.OllamaLLMModel, logger),
		verifier.NewSelfConsistencyChecker(llmClient, cfg.OllamaLLMModel, logger),
		decisionMaker,
		confScorer,
		traces,
		m,
		orchestrator.Config{
			TopKBM25:                 retriever.DefaultTopKBM25,
			TopKVector:               retriever.DefaultTopKVector,
			RerankTopN:               cfg.RerankTopN,
			DefaultLatencyBudget:     cfg.LatencyBudget,
			SelfConsistencyMinBudget: cfg.SelfConsistencyMinBudget,
		},
		logger,
	)
}
