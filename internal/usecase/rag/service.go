// Package rag answers questions from the vector collection: retrieve, then generate.
package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/logger"
	"github.com/kailas-cloud/ragbot/internal/metrics"
)

// Retrieval defaults.
const (
	DefaultK      = 4
	DefaultFetchK = 20
	DefaultLambda = 0.5
)

// DefaultInsufficientAnswer is returned when nothing relevant was retrieved.
const DefaultInsufficientAnswer = "I don't know: the knowledge base has nothing relevant to this question."

// Config holds retrieval and generation settings.
type Config struct {
	Collection           string
	K                    int
	FetchK               int
	Lambda               float64
	MinScore             float64
	SkipFingerprintCheck bool
	Model                domain.EmbeddingModel
	Prompt               string // text/template with {{.Context}} and {{.Memory}}
	InsufficientAnswer   string
	Temperature          float32
	MaxTokens            int
}

// AskOptions carries per-question context.
type AskOptions struct {
	History []domain.Message // earlier turns, oldest first
	Memory  string           // free-form notes about the user
}

type promptData struct {
	Context string
	Memory  string
}

// Service implements the retrieve → generate pipeline.
type Service struct {
	embedder domain.Embedder
	store    VectorSearcher
	chat     domain.ChatModel
	cfg      Config
	prompt   *template.Template
	logger   *zap.Logger
}

// New creates a Service. An unparsable prompt template is a configuration error.
func New(
	embedder domain.Embedder,
	store VectorSearcher,
	chat domain.ChatModel,
	cfg Config,
	logger *zap.Logger,
) (*Service, error) {
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.FetchK < cfg.K {
		cfg.FetchK = max(DefaultFetchK, cfg.K)
	}
	if cfg.InsufficientAnswer == "" {
		cfg.InsufficientAnswer = DefaultInsufficientAnswer
	}
	if cfg.Prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt template", domain.ErrConfig)
	}
	tmpl, err := template.New("system").Parse(cfg.Prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: prompt template: %w", domain.ErrConfig, err)
	}
	return &Service{
		embedder: embedder,
		store:    store,
		chat:     chat,
		cfg:      cfg,
		prompt:   tmpl,
		logger:   logger,
	}, nil
}

// Retrieve embeds the question and returns up to K diverse chunks scoring at least MinScore.
func (s *Service) Retrieve(ctx context.Context, question string) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}

	emb, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if err := s.checkFingerprint(ctx, len(emb.Embedding)); err != nil {
		return nil, err
	}

	candidates, err := s.store.Query(ctx, s.cfg.Collection, emb.Embedding, s.cfg.FetchK, true)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.cfg.Collection, err)
	}

	relevant := candidates[:0:0]
	for _, c := range candidates {
		if c.Score >= s.cfg.MinScore {
			relevant = append(relevant, c)
		}
	}
	metrics.RetrievalCandidates.Observe(float64(len(relevant)))

	selected := MMR(emb.Embedding, relevant, s.cfg.K, s.cfg.Lambda)
	logger.FromContextOr(ctx, s.logger).Debug("retrieved",
		zap.Int("candidates", len(candidates)),
		zap.Int("relevant", len(relevant)),
		zap.Int("selected", len(selected)),
	)
	return selected, nil
}

func (s *Service) checkFingerprint(ctx context.Context, dims int) error {
	if s.cfg.SkipFingerprintCheck {
		return nil
	}
	stored, err := s.store.Fingerprint(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("fingerprint %s: %w", s.cfg.Collection, err)
	}
	// Collections created by other tools carry no fingerprint.
	if stored == "" {
		return nil
	}
	if configured := s.cfg.Model.FingerprintFor(dims); stored != configured {
		return &domain.MismatchError{Collection: s.cfg.Collection, Stored: stored, Configured: configured}
	}
	return nil
}

// Generate answers from chunks. With no chunks it returns the insufficient-context
// answer without calling the LLM.
func (s *Service) Generate(
	ctx context.Context, question string, chunks []domain.ScoredChunk, opts AskOptions,
) (domain.Turn, error) {
	turn := domain.Turn{Question: question, Context: chunks}
	if len(chunks) == 0 {
		metrics.InsufficientContextTotal.Inc()
		turn.Answer = s.cfg.InsufficientAnswer
		turn.Insufficient = true
		return turn, nil
	}

	msgs, err := s.messages(question, chunks, opts)
	if err != nil {
		return domain.Turn{}, err
	}
	c, err := s.chat.Complete(ctx, msgs, s.chatOptions())
	if err != nil {
		return domain.Turn{}, fmt.Errorf("complete: %w", err)
	}
	domain.UsageFromContext(ctx).AddCompletionTokens(c.PromptTokens, c.CompletionTokens)

	turn.Answer = c.Content
	return turn, nil
}

// Ask retrieves context for the question and generates the answer.
func (s *Service) Ask(ctx context.Context, question string, opts AskOptions) (domain.Turn, error) {
	chunks, err := s.Retrieve(ctx, question)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("retrieve: %w", err)
	}
	turn, err := s.Generate(ctx, question, chunks, opts)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("generate: %w", err)
	}
	return turn, nil
}

// AskStream retrieves synchronously, then streams the answer. The channel yields one
// StreamSources event, the tokens, and finally StreamDone or StreamError. It is closed
// after the final event or as soon as ctx is cancelled, which also abandons the upstream stream.
func (s *Service) AskStream(
	ctx context.Context, question string, opts AskOptions,
) (<-chan domain.StreamEvent, error) {
	chunks, err := s.Retrieve(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	events := make(chan domain.StreamEvent)
	if len(chunks) == 0 {
		metrics.InsufficientContextTotal.Inc()
		go func() {
			defer close(events)
			answer := s.cfg.InsufficientAnswer
			_ = send(ctx, events, domain.StreamEvent{Type: domain.StreamSources}) &&
				send(ctx, events, domain.StreamEvent{Type: domain.StreamToken, Token: answer}) &&
				send(ctx, events, domain.StreamEvent{Type: domain.StreamDone, Answer: answer})
		}()
		return events, nil
	}

	msgs, err := s.messages(question, chunks, opts)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	stream, err := s.chat.Stream(ctx, msgs, s.chatOptions())
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	go s.pump(ctx, stream, chunks, events)
	return events, nil
}

// pump forwards tokens from stream to events until EOF, an error, or cancellation.
func (s *Service) pump(
	ctx context.Context, stream domain.TokenStream, chunks []domain.ScoredChunk, events chan<- domain.StreamEvent,
) {
	defer close(events)
	defer func() {
		if err := stream.Close(); err != nil {
			logger.FromContextOr(ctx, s.logger).Debug("close token stream", zap.Error(err))
		}
	}()

	if !send(ctx, events, domain.StreamEvent{Type: domain.StreamSources, Sources: chunks}) {
		return
	}
	var answer strings.Builder
	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			send(ctx, events, domain.StreamEvent{Type: domain.StreamDone, Answer: answer.String()})
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				send(ctx, events, domain.StreamEvent{Type: domain.StreamError, Err: fmt.Errorf("generate: %w", err)})
			}
			return
		}
		answer.WriteString(token)
		if !send(ctx, events, domain.StreamEvent{Type: domain.StreamToken, Token: token}) {
			return
		}
	}
}

func send(ctx context.Context, events chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Service) messages(question string, chunks []domain.ScoredChunk, opts AskOptions) ([]domain.Message, error) {
	var system strings.Builder
	data := promptData{Context: FormatContext(chunks), Memory: strings.TrimSpace(opts.Memory)}
	if err := s.prompt.Execute(&system, data); err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	msgs := make([]domain.Message, 0, len(opts.History)+2)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: system.String()})
	msgs = append(msgs, opts.History...)
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: question})
	return msgs, nil
}

func (s *Service) chatOptions() domain.ChatOptions {
	return domain.ChatOptions{Temperature: s.cfg.Temperature, MaxTokens: s.cfg.MaxTokens}
}

// FormatContext renders chunks as "Source: <file name>\n<text>" blocks separated by blank lines.
func FormatContext(chunks []domain.ScoredChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = "Source: " + c.Chunk.SourceName() + "\n" + c.Chunk.Text
	}
	return strings.Join(parts, "\n\n")
}
