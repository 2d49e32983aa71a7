package domain

import (
	"context"
	"fmt"
	"strconv"
)

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single API call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// BatchFallback calls Embed once per text for providers without a native batch API.
func BatchFallback(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	embeddings := make([][]float32, len(texts))
	var totalPrompt, totalTokens int

	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("fallback embed [%d]: %w", i, err)
		}
		embeddings[i] = res.Embedding
		totalPrompt += res.PromptTokens
		totalTokens += res.TotalTokens
	}

	return BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: totalPrompt,
		TotalTokens:  totalTokens,
	}, nil
}

// EmbedAll embeds texts through BatchEmbed when e supports it, falling back to one call per text.
func EmbedAll(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	if be, ok := e.(BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return BatchEmbeddingResult{}, err
		}
		if len(res.Embeddings) != len(texts) {
			return BatchEmbeddingResult{}, fmt.Errorf("%w: got %d embeddings for %d texts",
				ErrEmbeddingProviderError, len(res.Embeddings), len(texts))
		}
		return res, nil
	}
	return BatchFallback(ctx, e, texts)
}

// EmbeddingModel identifies the model that produced a set of vectors.
type EmbeddingModel struct {
	Provider   string
	Model      string
	Dimensions int
}

// Fingerprint returns the provider/model/dimensions tag stored alongside a collection.
// Dimensions of 0 means "provider default".
func (m EmbeddingModel) Fingerprint() string {
	return m.Provider + "/" + m.Model + "/" + strconv.Itoa(m.Dimensions)
}

// FingerprintFor returns the fingerprint with the dimension pinned to dims when the
// model reports its default (Dimensions == 0).
func (m EmbeddingModel) FingerprintFor(dims int) string {
	if m.Dimensions == 0 {
		m.Dimensions = dims
	}
	return m.Fingerprint()
}
