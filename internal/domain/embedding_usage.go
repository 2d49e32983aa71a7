package domain

import (
	"context"
	"sync"
)

type usageKey struct{}

// Usage collects token usage for a single HTTP request.
// The handler puts a mutable pointer into the context before calling the service;
// the embedder and chat model write to it; the handler reads it for response headers.
type Usage struct {
	mu               sync.Mutex
	EmbeddingTokens  int
	PromptTokens     int
	CompletionTokens int
	Embedded         bool // true if embedding was called, even on a cache hit with 0 tokens
}

// NewContextWithUsage returns a context with an embedded usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *Usage) {
	u := &Usage{}
	return context.WithValue(ctx, usageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *Usage {
	u, _ := ctx.Value(usageKey{}).(*Usage)
	return u
}

// AddEmbeddingTokens records consumed embedding tokens.
func (u *Usage) AddEmbeddingTokens(n int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.EmbeddingTokens += n
	u.Embedded = true
	u.mu.Unlock()
}

// AddCompletionTokens records consumed chat-completion tokens.
func (u *Usage) AddCompletionTokens(prompt, completion int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.PromptTokens += prompt
	u.CompletionTokens += completion
	u.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (u *Usage) Snapshot() (embedding, prompt, completion int) {
	if u == nil {
		return 0, 0, 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.EmbeddingTokens, u.PromptTokens, u.CompletionTokens
}
