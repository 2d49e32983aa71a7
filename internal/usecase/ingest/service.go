// Package ingest builds the vector collection from the knowledge directory.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/logger"
	"github.com/kailas-cloud/ragbot/internal/metrics"
)

// DefaultBatchSize is the number of chunks embedded and upserted per call.
const DefaultBatchSize = 64

// DefaultCollection names the vector collection when none is configured.
const DefaultCollection = "RAGChunk"

// Pipeline stage names used to wrap errors.
const (
	stageLoad    = "load"
	stageChunk   = "chunk"
	stageEmbed   = "embed"
	stagePrepare = "prepare collection"
	stageUpsert  = "upsert"
)

// Config holds ingest settings.
type Config struct {
	Collection string
	BatchSize  int
	Model      domain.EmbeddingModel
}

// Options tunes a single run.
type Options struct {
	// Rebuild drops and recreates the collection; otherwise chunks are appended
	// and the collection is created only when missing.
	Rebuild bool
}

// Report summarizes a finished run.
type Report struct {
	Files      int
	Chunks     int
	Collection string
	Rebuilt    bool
	Duration   time.Duration
}

// Service runs the load → chunk → embed → upsert pipeline. At most one run is active at a time.
type Service struct {
	loader   DocumentLoader
	chunker  Chunker
	embedder domain.Embedder
	store    domain.VectorStore
	cfg      Config
	logger   *zap.Logger

	mu sync.Mutex
}

// New creates an ingest Service.
func New(
	loader DocumentLoader,
	chunker Chunker,
	embedder domain.Embedder,
	store domain.VectorStore,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	return &Service{
		loader:   loader,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Collection returns the target collection name.
func (s *Service) Collection() string { return s.cfg.Collection }

// Run ingests the knowledge directory. A concurrent call fails fast with domain.ErrIngestInProgress.
func (s *Service) Run(ctx context.Context, opts Options) (Report, error) {
	if !s.mu.TryLock() {
		return Report{}, domain.ErrIngestInProgress
	}
	defer s.mu.Unlock()

	mode := "append"
	if opts.Rebuild {
		mode = "rebuild"
	}
	start := time.Now()
	report, err := s.run(ctx, opts)
	report.Duration = time.Since(start)

	log := logger.FromContextOr(ctx, s.logger)
	if err != nil {
		metrics.IngestRunsTotal.WithLabelValues(mode, "error").Inc()
		log.Error("ingest failed", zap.String("mode", mode), zap.Error(err))
		return report, err
	}

	metrics.IngestRunsTotal.WithLabelValues(mode, "success").Inc()
	metrics.IngestDuration.Observe(report.Duration.Seconds())
	log.Info("ingest finished",
		zap.String("mode", mode),
		zap.String("collection", report.Collection),
		zap.Int("files", report.Files),
		zap.Int("chunks", report.Chunks),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (s *Service) run(ctx context.Context, opts Options) (Report, error) {
	report := Report{Collection: s.cfg.Collection, Rebuilt: opts.Rebuild}

	docs, err := s.loader.Load(ctx)
	if err != nil {
		return report, fmt.Errorf("%s: %w", stageLoad, err)
	}
	if len(docs) == 0 {
		return report, fmt.Errorf("%s: %w: no .md, .mdx or .txt files under %s",
			stageLoad, domain.ErrNoDocuments, s.loader.Dir())
	}
	report.Files = len(docs)

	var chunks []domain.Chunk
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%s: %w", stageChunk, err)
		}
		for c := range s.chunker.Chunks(doc) {
			chunks = append(chunks, c)
		}
	}
	if len(chunks) == 0 {
		return report, fmt.Errorf("%s: %w: documents under %s contain no text",
			stageChunk, domain.ErrNoDocuments, s.loader.Dir())
	}

	// Embedding happens before the collection is touched so a provider failure
	// never leaves a rebuilt collection empty.
	items, err := s.embed(ctx, chunks)
	if err != nil {
		return report, fmt.Errorf("%s: %w", stageEmbed, err)
	}

	if err := s.prepare(ctx, opts.Rebuild, len(items[0].Vector)); err != nil {
		return report, fmt.Errorf("%s: %w", stagePrepare, err)
	}

	for start := 0; start < len(items); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(items))
		if err := s.store.Upsert(ctx, s.cfg.Collection, items[start:end]); err != nil {
			return report, fmt.Errorf("%s: %w", stageUpsert, err)
		}
		report.Chunks += end - start
		metrics.IngestChunksTotal.Add(float64(end - start))
	}
	return report, nil
}

func (s *Service) embed(ctx context.Context, chunks []domain.Chunk) ([]domain.StoredChunk, error) {
	items := make([]domain.StoredChunk, 0, len(chunks))
	for start := 0; start < len(chunks); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		res, err := domain.EmbedAll(ctx, s.embedder, texts)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		for i, c := range chunks[start:end] {
			if len(res.Embeddings[i]) == 0 {
				return nil, fmt.Errorf("%w: empty embedding for chunk %s", domain.ErrEmbeddingProviderError, c.ID)
			}
			items = append(items, domain.StoredChunk{Chunk: c, Vector: res.Embeddings[i]})
		}
		s.logger.Debug("batch embedded", zap.Int("from", start), zap.Int("to", end), zap.Int("total", len(chunks)))
	}
	return items, nil
}

// prepare makes the collection ready for upserts of dims-sized vectors.
func (s *Service) prepare(ctx context.Context, rebuild bool, dims int) error {
	name := s.cfg.Collection
	spec := domain.CollectionSpec{Name: name, Dimensions: dims, Fingerprint: s.cfg.Model.FingerprintFor(dims)}

	if rebuild {
		if err := s.store.DropCollection(ctx, name); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
		if err := s.store.CreateCollection(ctx, spec); err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		return nil
	}

	exists, err := s.store.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check %s: %w", name, err)
	}
	if !exists {
		err := s.store.CreateCollection(ctx, spec)
		if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("create %s: %w", name, err)
		}
		return nil
	}

	stored, err := s.store.Fingerprint(ctx, name)
	if err != nil {
		return fmt.Errorf("fingerprint %s: %w", name, err)
	}
	if stored != "" && stored != spec.Fingerprint {
		return &domain.MismatchError{Collection: name, Stored: stored, Configured: spec.Fingerprint}
	}
	return nil
}

// Clear drops the collection, leaving the knowledge directory untouched.
func (s *Service) Clear(ctx context.Context) error {
	if !s.mu.TryLock() {
		return domain.ErrIngestInProgress
	}
	defer s.mu.Unlock()

	if err := s.store.DropCollection(ctx, s.cfg.Collection); err != nil {
		return fmt.Errorf("clear %s: %w", s.cfg.Collection, err)
	}
	s.logger.Info("collection cleared", zap.String("collection", s.cfg.Collection))
	return nil
}
