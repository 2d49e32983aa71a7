package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/chunker"
	"github.com/kailas-cloud/ragbot/internal/config"
	dbRedis "github.com/kailas-cloud/ragbot/internal/db/redis"
	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/knowledge"
	"github.com/kailas-cloud/ragbot/internal/metrics"
	"github.com/kailas-cloud/ragbot/internal/repository/embcache"
	"github.com/kailas-cloud/ragbot/internal/storage/sqlite"
	openaiT "github.com/kailas-cloud/ragbot/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/ragbot/internal/usecase/embedding"
	"github.com/kailas-cloud/ragbot/internal/usecase/ingest"
	"github.com/kailas-cloud/ragbot/internal/usecase/rag"
	"github.com/kailas-cloud/ragbot/internal/vectorstore/memory"
	"github.com/kailas-cloud/ragbot/internal/vectorstore/valkey"
	"github.com/kailas-cloud/ragbot/internal/vectorstore/weaviate"
)

// pipeline holds the provider-backed components. close releases their connections.
type pipeline struct {
	embedder domain.Embedder
	chat     *openaiT.ChatModel
	vectors  domain.VectorStore
	rag      *rag.Service
	ingest   *ingest.Service

	closers []func()
}

func (p *pipeline) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// buildPipeline is the composition root of the retrieval and ingest paths.
// Provider selection happens here and nowhere else.
func buildPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *pipeline, err error) {
	p := &pipeline{}
	defer func() {
		if err != nil {
			p.close()
		}
	}()

	var cache *dbRedis.Store
	if cfg.Embedding.Cache {
		cache, err = connectRedis(ctx, cfg.Cache.Addrs, cfg.Cache.Password,
			time.Duration(cfg.VectorStore.ReadinessTimeoutSec)*time.Second)
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		p.closers = append(p.closers, cache.Close)
		logger.Info("Connected to embedding cache", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	p.embedder = buildEmbedder(cfg, cache, logger)
	p.chat = buildChatModel(cfg, logger)

	p.vectors, err = buildVectorStore(ctx, cfg, logger, &p.closers)
	if err != nil {
		return nil, err
	}

	p.rag, err = rag.New(p.embedder, p.vectors, p.chat, rag.Config{
		Collection:           cfg.VectorStore.Collection,
		K:                    cfg.Retrieval.K,
		FetchK:               cfg.Retrieval.FetchK,
		Lambda:               *cfg.Retrieval.Lambda,
		MinScore:             cfg.Retrieval.MinScore,
		SkipFingerprintCheck: cfg.Retrieval.SkipFingerprintCheck,
		Model:                cfg.EmbeddingModel(),
		Prompt:               cfg.Retrieval.Prompt,
		InsufficientAnswer:   cfg.Retrieval.InsufficientAnswer,
		Temperature:          *cfg.LLM.Temperature,
		MaxTokens:            cfg.LLM.MaxTokens,
	}, logger)
	if err != nil {
		return nil, err
	}

	ch, err := buildChunker(cfg)
	if err != nil {
		return nil, err
	}
	p.ingest = ingest.New(
		knowledge.NewLoader(cfg.Knowledge.DataDir, logger),
		ch, p.embedder, p.vectors,
		ingest.Config{
			Collection: cfg.VectorStore.Collection,
			BatchSize:  cfg.Embedding.BatchSize,
			Model:      cfg.EmbeddingModel(),
		},
		logger,
	)

	logger.Info("Pipeline ready",
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("embedding_model", cfg.EmbeddingModel().Model),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("vectorstore", cfg.VectorStore.Driver),
		zap.String("collection", cfg.VectorStore.Collection),
	)
	return p, nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Instrumented -> Cached.
// Cache hits never wait for the provider rate limiter.
func buildEmbedder(cfg config.Config, cache *dbRedis.Store, logger *zap.Logger) domain.Embedder {
	provName := cfg.Embedding.Provider
	provCfg := cfg.Embedding.Providers[provName]

	// Base provider (with transport metrics built-in)
	base := openaiT.NewEmbedder(&openaiT.Config{
		APIKey:     provCfg.APIKey,
		BaseURL:    provCfg.BaseURL,
		Model:      provCfg.Model,
		Dimensions: provCfg.Dimensions,
		Provider:   provName,
		Logger:     logger,
	})

	var embedder domain.Embedder = embeddinguc.NewInstrumentedEmbedder(
		base, provName, provCfg.Model, logger,
		embeddinguc.WithRateLimit(cfg.Embedding.RequestsPerSecond, cfg.Embedding.Burst),
		embeddinguc.WithMaxBatchSize(cfg.Embedding.BatchSize),
	)
	if cache != nil {
		embedder = embcache.New(embedder, cache, embcache.Config{
			KeyPrefix:   cfg.VectorStore.KeyPrefix,
			Fingerprint: cfg.EmbeddingModel().Fingerprint(),
			TTL:         time.Duration(cfg.Embedding.CacheTTLSec) * time.Second,
		}, metrics.EmbeddingCacheTotal, logger)
	}
	return embedder
}

func buildChatModel(cfg config.Config, logger *zap.Logger) *openaiT.ChatModel {
	provCfg := cfg.LLM.Providers[cfg.LLM.Provider]
	return openaiT.NewChatModel(&openaiT.Config{
		APIKey:   provCfg.APIKey,
		BaseURL:  provCfg.BaseURL,
		Model:    provCfg.Model,
		Provider: cfg.LLM.Provider,
		Timeout:  time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		Logger:   logger,
	})
}

// buildVectorStore connects the configured driver and waits until it is ready.
func buildVectorStore(
	ctx context.Context, cfg config.Config, logger *zap.Logger, closers *[]func(),
) (domain.VectorStore, error) {
	vc := cfg.VectorStore
	readiness := time.Duration(vc.ReadinessTimeoutSec) * time.Second

	var store domain.VectorStore
	switch vc.Driver {
	case "weaviate":
		ws, err := weaviate.New(weaviate.Config{URL: vc.URL, APIKey: vc.APIKey, Logger: logger})
		if err != nil {
			return nil, err
		}
		readyCtx, cancel := context.WithTimeout(ctx, readiness)
		defer cancel()
		if err := ws.Ready(readyCtx); err != nil {
			return nil, fmt.Errorf("weaviate not ready: %w", err)
		}
		store = ws

	case "valkey", "redis":
		backend, err := connectRedis(ctx, vc.Addrs, vc.Password, readiness)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", vc.Driver, err)
		}
		*closers = append(*closers, backend.Close)
		store = valkey.New(backend, valkey.Config{
			KeyPrefix:       vc.KeyPrefix,
			HNSWM:           vc.HNSWM,
			HNSWEFConstruct: vc.HNSWEFConstruct,
		}, logger)

	case "memory":
		logger.Warn("Using the in-memory vector store: ingested chunks are lost on exit")
		store = memory.New()

	default:
		return nil, fmt.Errorf("%w: unknown vectorstore.driver %q", domain.ErrConfig, vc.Driver)
	}

	logger.Info("Connected to vector store", zap.String("driver", vc.Driver))
	return store, nil
}

// connectRedis dials a Valkey/Redis server and waits for it to answer.
func connectRedis(ctx context.Context, addrs []string, password string, timeout time.Duration) (*dbRedis.Store, error) {
	s, err := dbRedis.NewStore(dbRedis.Config{Addrs: addrs, Password: password})
	if err != nil {
		return nil, err
	}
	if err := s.WaitForReady(ctx, timeout); err != nil {
		s.Close()
		return nil, fmt.Errorf("not ready: %w", err)
	}
	return s, nil
}

func buildChunker(cfg config.Config) (*chunker.Chunker, error) {
	method, err := chunker.ParseMethod(cfg.Chunking.Method)
	if err != nil {
		return nil, err
	}
	return chunker.New(
		chunker.WithChunkSize(cfg.Chunking.Size),
		chunker.WithOverlap(*cfg.Chunking.Overlap),
		chunker.WithMethod(method),
	), nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*sqlite.Store, error) {
	store, err := sqlite.Open(ctx, sqlite.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetimeSec) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func registerMetrics() {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterLLMMetrics()
	metrics.RegisterPipelineMetrics()
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}
