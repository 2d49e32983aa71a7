package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/usecase/rag"
)

// --- Mocks ---

type mockThreads struct {
	mu       sync.Mutex
	threads  []domain.Thread
	messages []domain.ThreadMessage
}

func (m *mockThreads) CreateThread(_ context.Context, t domain.Thread) (domain.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.threads {
		if e.ID == t.ID {
			return domain.Thread{}, domain.ErrAlreadyExists
		}
	}
	m.threads = append(m.threads, t)
	return t, nil
}

func (m *mockThreads) GetThread(_ context.Context, userID int64, id string) (domain.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.threads {
		if t.ID == id && t.UserID == userID {
			return t, nil
		}
	}
	return domain.Thread{}, domain.ErrNotFound
}

func (m *mockThreads) DeleteThread(_ context.Context, userID int64, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.threads {
		if t.ID == id && t.UserID == userID {
			m.threads = append(m.threads[:i], m.threads[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockThreads) ListThreads(_ context.Context, userID int64, limit, offset int) ([]domain.ThreadSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.ThreadSummary
	for _, t := range m.threads {
		if t.UserID == userID {
			all = append(all, domain.ThreadSummary{Thread: t})
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

func (m *mockThreads) AppendMessage(
	ctx context.Context, userID int64, threadID string, role domain.Role, content string,
) (domain.ThreadMessage, error) {
	if _, err := m.GetThread(ctx, userID, threadID); err != nil {
		return domain.ThreadMessage{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := domain.ThreadMessage{ID: int64(len(m.messages) + 1), ThreadID: threadID, Role: role, Content: content}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *mockThreads) Messages(ctx context.Context, userID int64, threadID string) ([]domain.ThreadMessage, error) {
	if _, err := m.GetThread(ctx, userID, threadID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ThreadMessage
	for _, msg := range m.messages {
		if msg.ThreadID == threadID {
			out = append(out, msg)
		}
	}
	return out, nil
}

type mockAnswerer struct {
	tokens  []string
	err     error
	gotOpts rag.AskOptions
	block   chan struct{}
}

func (m *mockAnswerer) Ask(_ context.Context, question string, opts rag.AskOptions) (domain.Turn, error) {
	m.gotOpts = opts
	return domain.Turn{Question: question, Answer: "answer"}, m.err
}

func (m *mockAnswerer) AskStream(ctx context.Context, _ string, opts rag.AskOptions) (<-chan domain.StreamEvent, error) {
	m.gotOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan domain.StreamEvent)
	go func() {
		defer close(ch)
		send := func(ev domain.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !send(domain.StreamEvent{Type: domain.StreamSources}) {
			return
		}
		answer := ""
		for _, tok := range m.tokens {
			if m.block != nil {
				select {
				case <-m.block:
				case <-ctx.Done():
					return
				}
			}
			answer += tok
			if !send(domain.StreamEvent{Type: domain.StreamToken, Token: tok}) {
				return
			}
		}
		send(domain.StreamEvent{Type: domain.StreamDone, Answer: answer})
	}()
	return ch, nil
}

type mockAccounts struct {
	mu     sync.Mutex
	memory string
	audit  []string
}

func (m *mockAccounts) Memory(_ context.Context, _ domain.User) (string, error) { return m.memory, nil }

func (m *mockAccounts) Audit(_ context.Context, _ domain.User, action, _, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, action)
}

func (m *mockAccounts) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.audit...)
}

var alice = domain.User{ID: 1, Username: "alice"}

func newTestService(answerer *mockAnswerer, turns int) (*Service, *mockThreads, *mockAccounts) {
	threads := &mockThreads{}
	accounts := &mockAccounts{memory: "likes tea"}
	return New(threads, answerer, accounts, turns, zap.NewNop()), threads, accounts
}

func drain(ch <-chan domain.StreamEvent) []domain.StreamEvent {
	var out []domain.StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

// --- Tests ---

func TestCreateThread_Defaults(t *testing.T) {
	svc, _, accounts := newTestService(&mockAnswerer{}, 0)

	th, err := svc.CreateThread(context.Background(), alice, "", nil)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if th.ID == "" {
		t.Error("expected generated id")
	}
	if th.Metadata["graph_id"] != domain.DefaultGraphID {
		t.Errorf("expected default graph_id, got %v", th.Metadata["graph_id"])
	}
	if th.Title != domain.DefaultThreadTitle {
		t.Errorf("expected default title, got %q", th.Title)
	}
	if got := accounts.actions(); len(got) != 1 || got[0] != domain.AuditThreadCreate {
		t.Errorf("unexpected audit %v", got)
	}

	th, err = svc.CreateThread(context.Background(), alice, "t-1",
		map[string]any{"graph_id": "custom", "title": "Pricing"})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if th.ID != "t-1" || th.Title != "Pricing" || th.Metadata["graph_id"] != "custom" {
		t.Errorf("unexpected thread %+v", th)
	}
}

func TestDeleteThread(t *testing.T) {
	svc, threads, accounts := newTestService(&mockAnswerer{}, 0)
	ctx := context.Background()
	threads.threads = []domain.Thread{{ID: "t-1", UserID: alice.ID}}

	if err := svc.DeleteThread(ctx, domain.User{ID: 2}, "t-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign thread: expected ErrNotFound, got %v", err)
	}
	if err := svc.DeleteThread(ctx, alice, "t-1"); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	if _, err := svc.GetThread(ctx, alice, "t-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("thread still present: %v", err)
	}
	if got := accounts.actions(); len(got) != 1 || got[0] != domain.AuditThreadDelete {
		t.Errorf("unexpected audit %v", got)
	}
}

func TestSearchThreads(t *testing.T) {
	svc, _, _ := newTestService(&mockAnswerer{}, 0)
	ctx := context.Background()
	for i := range 3 {
		graph := "agent"
		if i == 1 {
			graph = "other"
		}
		if _, err := svc.CreateThread(ctx, alice, fmt.Sprintf("t-%d", i), map[string]any{"graph_id": graph}); err != nil {
			t.Fatalf("CreateThread: %v", err)
		}
	}
	if _, err := svc.CreateThread(ctx, domain.User{ID: 2}, "foreign", nil); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	tests := []struct {
		name   string
		filter SearchFilter
		want   int
	}{
		{"all", SearchFilter{}, 3},
		{"graph filter", SearchFilter{GraphID: "agent"}, 2},
		{"assistant filter", SearchFilter{AssistantID: "x"}, 0},
		{"limit", SearchFilter{Limit: 1}, 1},
		{"limit clamped", SearchFilter{Limit: 1000}, 3},
		{"negative offset", SearchFilter{Offset: -5}, 3},
		{"offset", SearchFilter{Offset: 2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.SearchThreads(ctx, alice, tt.filter)
			if err != nil {
				t.Fatalf("SearchThreads: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d threads, got %d", tt.want, len(got))
			}
		})
	}
}

func TestRun_PersistsBothMessages(t *testing.T) {
	answerer := &mockAnswerer{tokens: []string{"Hel", "lo"}}
	svc, threads, accounts := newTestService(answerer, 1)
	ctx := context.Background()

	if _, err := svc.CreateThread(ctx, alice, "t-1", nil); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if _, err := threads.AppendMessage(ctx, alice.ID, "t-1", domain.RoleUser, "earlier q"); err != nil {
		t.Fatal(err)
	}
	if _, err := threads.AppendMessage(ctx, alice.ID, "t-1", domain.RoleAssistant, "earlier a"); err != nil {
		t.Fatal(err)
	}

	events, err := svc.Run(ctx, alice, "t-1", "  hi?  ")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := drain(events)
	if len(got) != 4 || got[0].Type != domain.StreamSources || got[3].Type != domain.StreamDone {
		t.Fatalf("unexpected events %+v", got)
	}

	msgs, _ := threads.Messages(ctx, alice.ID, "t-1")
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[2].Role != domain.RoleUser || msgs[2].Content != "hi?" {
		t.Errorf("unexpected human message %+v", msgs[2])
	}
	if msgs[3].Role != domain.RoleAssistant || msgs[3].Content != "Hello" {
		t.Errorf("unexpected ai message %+v", msgs[3])
	}

	// History excludes the new question.
	if len(answerer.gotOpts.History) != 2 || answerer.gotOpts.History[0].Content != "earlier q" {
		t.Errorf("unexpected history %+v", answerer.gotOpts.History)
	}
	if answerer.gotOpts.Memory != "likes tea" {
		t.Errorf("expected memory, got %q", answerer.gotOpts.Memory)
	}

	want := []string{domain.AuditThreadCreate, domain.AuditMessageHuman, domain.AuditMessageAI}
	if acts := accounts.actions(); fmt.Sprint(acts) != fmt.Sprint(want) {
		t.Errorf("audit: got %v, want %v", acts, want)
	}
}

func TestRun_Errors(t *testing.T) {
	ctx := context.Background()

	svc, _, _ := newTestService(&mockAnswerer{}, 0)
	if _, err := svc.Run(ctx, alice, "missing", "hi"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing thread: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Run(ctx, alice, "missing", "   "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty question: expected ErrInvalidInput, got %v", err)
	}

	failing := &mockAnswerer{err: domain.ErrCollectionNotFound}
	svc, threads, _ := newTestService(failing, 0)
	if _, err := svc.CreateThread(ctx, alice, "t-1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Run(ctx, alice, "t-1", "hi"); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound, got %v", err)
	}
	msgs, _ := threads.Messages(ctx, alice.ID, "t-1")
	if len(msgs) != 1 {
		t.Errorf("expected only the human message, got %d", len(msgs))
	}
}

func TestRun_CancelSkipsAIMessage(t *testing.T) {
	answerer := &mockAnswerer{tokens: []string{"a", "b"}, block: make(chan struct{})}
	svc, threads, _ := newTestService(answerer, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := svc.CreateThread(ctx, alice, "t-1", nil); err != nil {
		t.Fatal(err)
	}
	events, err := svc.Run(ctx, alice, "t-1", "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ev := <-events; ev.Type != domain.StreamSources {
		t.Fatalf("expected sources first, got %v", ev.Type)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		drain(events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}

	msgs, _ := threads.Messages(context.Background(), alice.ID, "t-1")
	if len(msgs) != 1 {
		t.Errorf("expected no ai message after cancel, got %d messages", len(msgs))
	}
}

func TestAsk_UsesMemory(t *testing.T) {
	answerer := &mockAnswerer{}
	svc, _, _ := newTestService(answerer, 0)

	turn, err := svc.Ask(context.Background(), alice, "what?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if turn.Answer != "answer" || answerer.gotOpts.Memory != "likes tea" {
		t.Errorf("unexpected turn %+v opts %+v", turn, answerer.gotOpts)
	}
}
