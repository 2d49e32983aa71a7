package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/metrics"
)

const (
	modeComplete = "complete"
	modeStream   = "stream"
)

// ChatModel is a chat-completion provider using the OpenAI-compatible /chat/completions API.
type ChatModel struct {
	client   *openai.Client
	model    string
	provider string
	user     string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewChatModel creates an OpenAI-compatible chat provider.
func NewChatModel(cfg *Config) *ChatModel {
	return &ChatModel{
		client:   newClient(cfg.APIKey, cfg.BaseURL),
		model:    cfg.Model,
		provider: cfg.Provider,
		user:     cfg.User,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

// Complete implements domain.ChatModel.
func (m *ChatModel) Complete(
	ctx context.Context, messages []domain.Message, opts domain.ChatOptions,
) (domain.Completion, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	resp, err := m.client.CreateChatCompletion(ctx, m.request(messages, opts, false))
	duration := time.Since(start)

	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(m.provider, m.model, modeComplete, "error").Inc()
		return domain.Completion{}, parseAPIError("llm", err, domain.ErrLLMProviderError, domain.ErrRateLimited)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequestsTotal.WithLabelValues(m.provider, m.model, modeComplete, "error").Inc()
		return domain.Completion{}, fmt.Errorf("empty completion response: %w", domain.ErrLLMProviderError)
	}

	metrics.LLMRequestsTotal.WithLabelValues(m.provider, m.model, modeComplete, "success").Inc()
	metrics.LLMRequestDuration.WithLabelValues(m.provider, m.model, modeComplete).Observe(duration.Seconds())
	m.recordTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	return domain.Completion{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Stream implements domain.ChatModel. The returned stream owns ctx's timeout and
// must be closed by the caller.
func (m *ChatModel) Stream(
	ctx context.Context, messages []domain.Message, opts domain.ChatOptions,
) (domain.TokenStream, error) {
	ctx, cancel := m.withTimeout(ctx)

	stream, err := m.client.CreateChatCompletionStream(ctx, m.request(messages, opts, true))
	if err != nil {
		cancel()
		metrics.LLMRequestsTotal.WithLabelValues(m.provider, m.model, modeStream, "error").Inc()
		return nil, parseAPIError("llm", err, domain.ErrLLMProviderError, domain.ErrRateLimited)
	}

	return &tokenStream{
		stream: stream,
		cancel: cancel,
		model:  m,
		start:  time.Now(),
	}, nil
}

// HealthCheck verifies API availability via ListModels.
func (m *ChatModel) HealthCheck(ctx context.Context) error {
	if _, err := m.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func (m *ChatModel) request(messages []domain.Message, opts domain.ChatOptions, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(msg.Role), Content: msg.Content})
	}
	// temperature is omitempty on the wire; a zero value would fall back to the provider default.
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}
	req := openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   opts.MaxTokens,
		User:        m.user,
		Stream:      stream,
	}
	if stream {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return req
}

func (m *ChatModel) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

func (m *ChatModel) recordTokens(prompt, completion int) {
	if prompt > 0 {
		metrics.LLMTokensTotal.WithLabelValues(m.provider, m.model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		metrics.LLMTokensTotal.WithLabelValues(m.provider, m.model, "completion").Add(float64(completion))
	}
}

// tokenStream adapts *openai.ChatCompletionStream to domain.TokenStream.
type tokenStream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
	model  *ChatModel
	start  time.Time
	done   bool
}

// Recv returns the next non-empty content fragment, or io.EOF.
func (s *tokenStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.finish("success")
			return "", io.EOF
		}
		if err != nil {
			s.finish("error")
			return "", parseAPIError("llm", err, domain.ErrLLMProviderError, domain.ErrRateLimited)
		}
		if resp.Usage != nil {
			s.model.recordTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

// Close releases the HTTP stream and the request deadline.
func (s *tokenStream) Close() error {
	s.finish("cancelled")
	err := s.stream.Close()
	s.cancel()
	if err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	return nil
}

func (s *tokenStream) finish(status string) {
	if s.done {
		return
	}
	s.done = true
	m := s.model
	metrics.LLMRequestsTotal.WithLabelValues(m.provider, m.model, modeStream, status).Inc()
	if status == "success" {
		metrics.LLMRequestDuration.WithLabelValues(m.provider, m.model, modeStream).Observe(time.Since(s.start).Seconds())
	}
}
