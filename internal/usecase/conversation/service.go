// Package conversation runs persisted question/answer threads on top of retrieval-augmented generation.
package conversation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/logger"
	"github.com/kailas-cloud/ragbot/internal/usecase/rag"
)

// Thread listing bounds.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// SearchFilter narrows a thread listing. Empty IDs match every thread.
type SearchFilter struct {
	GraphID     string
	AssistantID string
	Limit       int
	Offset      int
}

// Service implements conversation use cases.
type Service struct {
	threads      ThreadStore
	answerer     Answerer
	accounts     Accounts
	historyTurns int
	logger       *zap.Logger
}

// New creates a conversation service. historyTurns previous exchanges are sent to the model (0 = none).
func New(threads ThreadStore, answerer Answerer, accounts Accounts, historyTurns int, logger *zap.Logger) *Service {
	return &Service{
		threads:      threads,
		answerer:     answerer,
		accounts:     accounts,
		historyTurns: historyTurns,
		logger:       logger,
	}
}

// CreateThread creates a thread for u. An empty id gets a random UUID; graph_id defaults to "agent".
func (s *Service) CreateThread(ctx context.Context, u domain.User, id string, metadata map[string]any) (domain.Thread, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	meta := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	if g, _ := meta["graph_id"].(string); g == "" {
		meta["graph_id"] = domain.DefaultGraphID
	}
	title, _ := meta["title"].(string)
	if title == "" {
		title = domain.DefaultThreadTitle
	}

	t, err := s.threads.CreateThread(ctx, domain.Thread{ID: id, UserID: u.ID, Title: title, Metadata: meta})
	if err != nil {
		return domain.Thread{}, err
	}
	s.accounts.Audit(ctx, u, domain.AuditThreadCreate, t.ID, "")
	return t, nil
}

// GetThread returns a thread owned by u.
func (s *Service) GetThread(ctx context.Context, u domain.User, id string) (domain.Thread, error) {
	return s.threads.GetThread(ctx, u.ID, id)
}

// DeleteThread removes a thread owned by u and its messages.
func (s *Service) DeleteThread(ctx context.Context, u domain.User, id string) error {
	if err := s.threads.DeleteThread(ctx, u.ID, id); err != nil {
		return err
	}
	s.accounts.Audit(ctx, u, domain.AuditThreadDelete, id, "")
	return nil
}

// SearchThreads lists u's threads, most recent first. Metadata filters apply within the page.
func (s *Service) SearchThreads(ctx context.Context, u domain.User, f SearchFilter) ([]domain.ThreadSummary, error) {
	limit := f.Limit
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	offset := max(f.Offset, 0)

	page, err := s.threads.ListThreads(ctx, u.ID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := page[:0]
	for _, t := range page {
		if !metaMatches(t.Thread.Metadata, "graph_id", f.GraphID) ||
			!metaMatches(t.Thread.Metadata, "assistant_id", f.AssistantID) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func metaMatches(meta map[string]any, key, want string) bool {
	if want == "" {
		return true
	}
	got, _ := meta[key].(string)
	return got == want
}

// Messages returns the messages of a thread owned by u.
func (s *Service) Messages(ctx context.Context, u domain.User, threadID string) ([]domain.ThreadMessage, error) {
	return s.threads.Messages(ctx, u.ID, threadID)
}

// Run stores question in the thread, then streams the answer. The AI message is stored once
// the answer completes. The returned channel follows rag.Service.AskStream.
func (s *Service) Run(
	ctx context.Context, u domain.User, threadID, question string,
) (<-chan domain.StreamEvent, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: last message content is empty", domain.ErrInvalidInput)
	}

	opts, err := s.askOptions(ctx, u, threadID)
	if err != nil {
		return nil, err
	}
	if _, err := s.threads.AppendMessage(ctx, u.ID, threadID, domain.RoleUser, question); err != nil {
		return nil, err
	}
	s.accounts.Audit(ctx, u, domain.AuditMessageHuman, threadID, "")

	upstream, err := s.answerer.AskStream(ctx, question, opts)
	if err != nil {
		return nil, err
	}

	events := make(chan domain.StreamEvent)
	go s.forward(ctx, u, threadID, upstream, events)
	return events, nil
}

// forward relays upstream and persists the final answer before relaying StreamDone.
func (s *Service) forward(
	ctx context.Context, u domain.User, threadID string,
	upstream <-chan domain.StreamEvent, events chan<- domain.StreamEvent,
) {
	defer close(events)
	for ev := range upstream {
		if ev.Type == domain.StreamDone {
			s.storeAnswer(context.WithoutCancel(ctx), u, threadID, ev.Answer)
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			// upstream closes on the same ctx.
			for range upstream {
			}
			return
		}
	}
}

func (s *Service) storeAnswer(ctx context.Context, u domain.User, threadID, answer string) {
	answer = strings.TrimSpace(answer)
	if _, err := s.threads.AppendMessage(ctx, u.ID, threadID, domain.RoleAssistant, answer); err != nil {
		logger.FromContextOr(ctx, s.logger).Error("store ai message",
			zap.String("thread_id", threadID), zap.Error(err))
		return
	}
	s.accounts.Audit(ctx, u, domain.AuditMessageAI, threadID, "chars="+strconv.Itoa(len(answer)))
}

// Ask answers a one-off question for u without touching any thread.
func (s *Service) Ask(ctx context.Context, u domain.User, question string) (domain.Turn, error) {
	memory, err := s.accounts.Memory(ctx, u)
	if err != nil {
		return domain.Turn{}, fmt.Errorf("load memory: %w", err)
	}
	return s.answerer.Ask(ctx, question, rag.AskOptions{Memory: memory})
}

// askOptions loads the user's memory and the thread history that precedes the new question.
func (s *Service) askOptions(ctx context.Context, u domain.User, threadID string) (rag.AskOptions, error) {
	msgs, err := s.threads.Messages(ctx, u.ID, threadID)
	if err != nil {
		return rag.AskOptions{}, err
	}
	memory, err := s.accounts.Memory(ctx, u)
	if err != nil {
		return rag.AskOptions{}, fmt.Errorf("load memory: %w", err)
	}
	return rag.AskOptions{
		History: domain.HistoryMessages(msgs, s.historyTurns),
		Memory:  memory,
	}, nil
}
