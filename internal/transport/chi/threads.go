package chi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/usecase/conversation"
)

type messageJSON struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	ID      string `json:"id"`
}

type valuesJSON struct {
	Messages []messageJSON `json:"messages"`
}

type threadJSON struct {
	ThreadID  string         `json:"thread_id"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	Values    valuesJSON     `json:"values"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type checkpointJSON struct {
	ThreadID     string `json:"thread_id"`
	CheckpointID string `json:"checkpoint_id"`
}

type stateJSON struct {
	Checkpoint       checkpointJSON  `json:"checkpoint"`
	ParentCheckpoint *checkpointJSON `json:"parent_checkpoint"`
	Values           valuesJSON      `json:"values"`
}

func messageType(r domain.Role) string {
	if r == domain.RoleUser {
		return "human"
	}
	return "ai"
}

func messagesToJSON(msgs []domain.ThreadMessage) []messageJSON {
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageJSON{Type: messageType(m.Role), Content: m.Content, ID: m.ExternalID()})
	}
	return out
}

func threadToJSON(t domain.Thread, msgs []domain.ThreadMessage) threadJSON {
	return threadJSON{
		ThreadID:  t.ID,
		Title:     t.Title,
		Metadata:  t.Metadata,
		Values:    valuesJSON{Messages: messagesToJSON(msgs)},
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// stateFromMessages builds the single checkpoint exposed for a thread: its ID is the last message ID.
func stateFromMessages(threadID string, msgs []domain.ThreadMessage) stateJSON {
	last := int64(0)
	if len(msgs) > 0 {
		last = msgs[len(msgs)-1].ID
	}
	return stateJSON{
		Checkpoint: checkpointJSON{ThreadID: threadID, CheckpointID: strconv.FormatInt(last, 10)},
		Values:     valuesJSON{Messages: messagesToJSON(msgs)},
	}
}

type createThreadRequest struct {
	ThreadID    string         `json:"thread_id"`
	ThreadIDAlt string         `json:"threadId"`
	Metadata    map[string]any `json:"metadata"`
}

// CreateThread handles POST /threads.
func (s *Server) CreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	id := req.ThreadID
	if id == "" {
		id = req.ThreadIDAlt
	}

	t, err := s.conversations.CreateThread(r.Context(), userFrom(r.Context()), id, req.Metadata)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, threadToJSON(t, nil))
}

type searchRequest struct {
	Metadata struct {
		GraphID     string `json:"graph_id"`
		AssistantID string `json:"assistant_id"`
	} `json:"metadata"`
	Limit  *int `json:"limit"`
	Offset *int `json:"offset"`
}

// SearchThreads handles POST /threads/search. limit and offset may also come as query parameters.
func (s *Server) SearchThreads(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if req.Limit == nil {
		if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &req.Limit); err != nil {
			s.handleDomainError(w, r, invalidParam("limit", err))
			return
		}
	}
	if req.Offset == nil {
		if err := runtime.BindQueryParameter("form", true, false, "offset", r.URL.Query(), &req.Offset); err != nil {
			s.handleDomainError(w, r, invalidParam("offset", err))
			return
		}
	}

	threads, err := s.conversations.SearchThreads(r.Context(), userFrom(r.Context()), conversation.SearchFilter{
		GraphID:     req.Metadata.GraphID,
		AssistantID: req.Metadata.AssistantID,
		Limit:       deref(req.Limit),
		Offset:      deref(req.Offset),
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	out := make([]threadJSON, 0, len(threads))
	for _, t := range threads {
		var first []domain.ThreadMessage
		if t.First != nil {
			first = []domain.ThreadMessage{*t.First}
		}
		out = append(out, threadToJSON(t.Thread, first))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetThread handles GET /threads/{thread_id}.
func (s *Server) GetThread(w http.ResponseWriter, r *http.Request) {
	t, err := s.conversations.GetThread(r.Context(), userFrom(r.Context()), chi.URLParam(r, "thread_id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, threadToJSON(t, nil))
}

// DeleteThread handles DELETE /threads/{thread_id}.
func (s *Server) DeleteThread(w http.ResponseWriter, r *http.Request) {
	if err := s.conversations.DeleteThread(r.Context(), userFrom(r.Context()), chi.URLParam(r, "thread_id")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ThreadState handles GET|POST /threads/{thread_id}/state.
func (s *Server) ThreadState(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")
	msgs, err := s.conversations.Messages(r.Context(), userFrom(r.Context()), threadID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateFromMessages(threadID, msgs))
}

// ThreadHistory handles GET|POST /threads/{thread_id}/history. Threads have a single
// checkpoint, so the list holds at most one entry.
func (s *Server) ThreadHistory(w http.ResponseWriter, r *http.Request) {
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		s.handleDomainError(w, r, invalidParam("limit", err))
		return
	}
	if limit != nil && *limit < 0 {
		s.handleDomainError(w, r, fmt.Errorf("%w: limit must not be negative", domain.ErrInvalidInput))
		return
	}

	threadID := chi.URLParam(r, "thread_id")
	msgs, err := s.conversations.Messages(r.Context(), userFrom(r.Context()), threadID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if limit != nil && *limit == 0 {
		writeJSON(w, http.StatusOK, []stateJSON{})
		return
	}
	writeJSON(w, http.StatusOK, []stateJSON{stateFromMessages(threadID, msgs)})
}

func invalidParam(name string, err error) error {
	return fmt.Errorf("%w: invalid %s: %v", domain.ErrInvalidInput, name, err)
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
