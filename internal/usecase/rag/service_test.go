package rag

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/vectorstore/memory"
)

// --- Mocks ---

type mockEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vectors[text], TotalTokens: 3}, nil
}

type mockChat struct {
	mu          sync.Mutex
	calls       int
	lastMsgs    []domain.Message
	lastOpts    domain.ChatOptions
	answer      string
	tokens      []string
	err         error
	streamBlock chan struct{}
	closed      bool
}

func (m *mockChat) Complete(_ context.Context, msgs []domain.Message, opts domain.ChatOptions) (domain.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastMsgs, m.lastOpts = msgs, opts
	if m.err != nil {
		return domain.Completion{}, m.err
	}
	return domain.Completion{Content: m.answer, PromptTokens: 10, CompletionTokens: 5}, nil
}

func (m *mockChat) Stream(ctx context.Context, msgs []domain.Message, opts domain.ChatOptions) (domain.TokenStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastMsgs, m.lastOpts = msgs, opts
	if m.err != nil {
		return nil, m.err
	}
	return &mockStream{ctx: ctx, chat: m, tokens: append([]string(nil), m.tokens...)}, nil
}

func (m *mockChat) wasClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type mockStream struct {
	ctx    context.Context
	chat   *mockChat
	tokens []string
}

func (s *mockStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		if s.chat.streamBlock != nil {
			select {
			case <-s.chat.streamBlock:
			case <-s.ctx.Done():
				return "", s.ctx.Err()
			}
		}
		return "", io.EOF
	}
	t := s.tokens[0]
	s.tokens = s.tokens[1:]
	return t, nil
}

func (s *mockStream) Close() error {
	s.chat.mu.Lock()
	s.chat.closed = true
	s.chat.mu.Unlock()
	return nil
}

// --- Fixtures ---

var model = domain.EmbeddingModel{Provider: "test", Model: "m"}

const testPrompt = "Answer from context.{{if .Memory}}\nUser: {{.Memory}}{{end}}\nContext:\n{{.Context}}"

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	if err := s.CreateCollection(ctx, domain.CollectionSpec{Name: "Docs", Dimensions: 2, Fingerprint: "test/m/2"}); err != nil {
		t.Fatal(err)
	}
	items := []domain.StoredChunk{
		{Chunk: domain.Chunk{ID: "a", Source: "kb/guide.md", Text: "Install with make."}, Vector: []float32{1, 0}},
		{Chunk: domain.Chunk{ID: "b", Source: "kb/faq.txt", Text: "Unrelated."}, Vector: []float32{0, 1}},
	}
	if err := s.Upsert(ctx, "Docs", items); err != nil {
		t.Fatal(err)
	}
	return s
}

func newService(t *testing.T, store VectorSearcher, chat domain.ChatModel, mutate func(*Config)) *Service {
	t.Helper()
	cfg := Config{
		Collection:  "Docs",
		K:           4,
		FetchK:      20,
		Lambda:      0.5,
		MinScore:    0.5,
		Model:       model,
		Prompt:      testPrompt,
		Temperature: 0.2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	emb := &mockEmbedder{vectors: map[string][]float32{
		"how to install?": {1, 0},
		"off topic":       {-1, 0},
	}}
	svc, err := New(emb, store, chat, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return svc
}

// --- Tests ---

func TestAsk_AnswersFromContext(t *testing.T) {
	chat := &mockChat{answer: "Run make (guide.md)."}
	svc := newService(t, seededStore(t), chat, nil)
	ctx, usage := domain.NewContextWithUsage(context.Background())

	turn, err := svc.Ask(ctx, "how to install?", AskOptions{Memory: "prefers short answers"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if turn.Answer != "Run make (guide.md)." || turn.Insufficient {
		t.Errorf("unexpected turn: %+v", turn)
	}
	if len(turn.Context) != 1 || turn.Context[0].Chunk.ID != "a" {
		t.Errorf("expected only the relevant chunk, got %+v", turn.Context)
	}
	if got := turn.Sources(); len(got) != 1 || got[0] != "guide.md" {
		t.Errorf("unexpected sources %v", got)
	}

	system := chat.lastMsgs[0]
	if system.Role != domain.RoleSystem {
		t.Fatalf("first message must be the system prompt, got %s", system.Role)
	}
	if !strings.Contains(system.Content, "Source: guide.md\nInstall with make.") {
		t.Errorf("context not rendered: %q", system.Content)
	}
	if !strings.Contains(system.Content, "User: prefers short answers") {
		t.Errorf("memory not rendered: %q", system.Content)
	}
	last := chat.lastMsgs[len(chat.lastMsgs)-1]
	if last.Role != domain.RoleUser || last.Content != "how to install?" {
		t.Errorf("last message must be the question, got %+v", last)
	}
	if chat.lastOpts.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", chat.lastOpts.Temperature)
	}
	if _, prompt, completion := usage.Snapshot(); prompt != 10 || completion != 5 {
		t.Errorf("completion usage not recorded: %d/%d", prompt, completion)
	}
}

func TestAsk_InsufficientContextSkipsLLM(t *testing.T) {
	chat := &mockChat{answer: "should not be used"}
	svc := newService(t, seededStore(t), chat, func(c *Config) { c.InsufficientAnswer = "no idea" })

	turn, err := svc.Ask(context.Background(), "off topic", AskOptions{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if chat.calls != 0 {
		t.Errorf("LLM called %d times", chat.calls)
	}
	if !turn.Insufficient || turn.Answer != "no idea" || len(turn.Context) != 0 {
		t.Errorf("unexpected turn %+v", turn)
	}
}

func TestAsk_HistoryBetweenSystemAndQuestion(t *testing.T) {
	chat := &mockChat{answer: "ok"}
	svc := newService(t, seededStore(t), chat, nil)
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "earlier question"},
		{Role: domain.RoleAssistant, Content: "earlier answer"},
	}

	if _, err := svc.Ask(context.Background(), "how to install?", AskOptions{History: history}); err != nil {
		t.Fatal(err)
	}
	if len(chat.lastMsgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(chat.lastMsgs))
	}
	if chat.lastMsgs[1].Content != "earlier question" || chat.lastMsgs[2].Content != "earlier answer" {
		t.Errorf("history misplaced: %+v", chat.lastMsgs)
	}
}

func TestRetrieve_FingerprintMismatch(t *testing.T) {
	store := seededStore(t)
	svc := newService(t, store, &mockChat{}, func(c *Config) {
		c.Model = domain.EmbeddingModel{Provider: "other", Model: "m"}
	})

	_, err := svc.Ask(context.Background(), "how to install?", AskOptions{})
	if !errors.Is(err, domain.ErrModelMismatch) {
		t.Fatalf("expected ErrModelMismatch, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "retrieve:") {
		t.Errorf("error not wrapped with stage: %v", err)
	}

	skipping := newService(t, store, &mockChat{answer: "ok"}, func(c *Config) {
		c.Model = domain.EmbeddingModel{Provider: "other", Model: "m"}
		c.SkipFingerprintCheck = true
	})
	if _, err := skipping.Ask(context.Background(), "how to install?", AskOptions{}); err != nil {
		t.Errorf("skip_fingerprint_check must allow the query, got %v", err)
	}
}

func TestRetrieve_MissingCollection(t *testing.T) {
	svc := newService(t, memory.New(), &mockChat{}, nil)

	_, err := svc.Retrieve(context.Background(), "how to install?")
	if !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestRetrieve_EmptyQuestion(t *testing.T) {
	svc := newService(t, seededStore(t), &mockChat{}, nil)
	if _, err := svc.Retrieve(context.Background(), "  "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAsk_ErrorsWrappedWithStage(t *testing.T) {
	svc := newService(t, seededStore(t), &mockChat{err: domain.ErrLLMProviderError}, nil)

	_, err := svc.Ask(context.Background(), "how to install?", AskOptions{})
	if !errors.Is(err, domain.ErrLLMProviderError) || !strings.HasPrefix(err.Error(), "generate:") {
		t.Errorf("expected generate-wrapped provider error, got %v", err)
	}
}

func TestNew_InvalidPrompt(t *testing.T) {
	_, err := New(&mockEmbedder{}, memory.New(), &mockChat{}, Config{Prompt: "{{.Context"}, zap.NewNop())
	if !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}

func collect(t *testing.T, events <-chan domain.StreamEvent) []domain.StreamEvent {
	t.Helper()
	var out []domain.StreamEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestAskStream_Tokens(t *testing.T) {
	chat := &mockChat{tokens: []string{"Run ", "make", "."}}
	svc := newService(t, seededStore(t), chat, nil)

	events, err := svc.AskStream(context.Background(), "how to install?", AskOptions{})
	if err != nil {
		t.Fatalf("ask stream: %v", err)
	}
	got := collect(t, events)

	if len(got) != 5 {
		t.Fatalf("expected sources + 3 tokens + done, got %d events", len(got))
	}
	if got[0].Type != domain.StreamSources || len(got[0].Sources) != 1 {
		t.Errorf("first event must carry sources: %+v", got[0])
	}
	last := got[len(got)-1]
	if last.Type != domain.StreamDone || last.Answer != "Run make." {
		t.Errorf("unexpected final event %+v", last)
	}
	if !chat.wasClosed() {
		t.Error("upstream stream not closed")
	}
}

func TestAskStream_InsufficientContext(t *testing.T) {
	chat := &mockChat{}
	svc := newService(t, seededStore(t), chat, nil)

	events, err := svc.AskStream(context.Background(), "off topic", AskOptions{})
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, events)
	if chat.calls != 0 {
		t.Error("LLM called for insufficient context")
	}
	if last := got[len(got)-1]; last.Type != domain.StreamDone || last.Answer != DefaultInsufficientAnswer {
		t.Errorf("unexpected final event %+v", last)
	}
}

func TestAskStream_CancelClosesChannel(t *testing.T) {
	chat := &mockChat{tokens: []string{"partial"}, streamBlock: make(chan struct{})}
	svc := newService(t, seededStore(t), chat, nil)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := svc.AskStream(ctx, "how to install?", AskOptions{})
	if err != nil {
		t.Fatal(err)
	}
	<-events // sources
	<-events // "partial"
	cancel()

	for ev := range events {
		if ev.Type == domain.StreamDone {
			t.Errorf("stream completed after cancel: %+v", ev)
		}
	}
	if !chat.wasClosed() {
		t.Error("upstream stream not closed after cancel")
	}
}

func TestAskStream_RetrieveErrorIsSynchronous(t *testing.T) {
	svc := newService(t, memory.New(), &mockChat{}, nil)

	events, err := svc.AskStream(context.Background(), "how to install?", AskOptions{})
	if events != nil || !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("expected synchronous ErrCollectionNotFound, got %v", err)
	}
}

func TestFormatContext(t *testing.T) {
	got := FormatContext([]domain.ScoredChunk{
		{Chunk: domain.Chunk{Source: "a/b/one.md", Text: "first"}},
		{Chunk: domain.Chunk{Text: "second"}},
	})
	want := "Source: one.md\nfirst\n\nSource: unknown\nsecond"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
