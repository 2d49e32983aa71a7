package chi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/logger"
)

// SSE event names understood by agent-chat clients.
const (
	eventMetadata = "metadata"
	eventMessages = "messages"
	eventError    = "error"
	eventEnd      = "end"
)

type runRequest struct {
	AssistantID    string `json:"assistant_id"`
	AssistantIDAlt string `json:"assistantId"`
	Input          struct {
		Messages []struct {
			Type    string          `json:"type"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	} `json:"input"`
}

type runMetadata struct {
	RunID       string `json:"run_id"`
	ThreadID    string `json:"thread_id"`
	AssistantID string `json:"assistant_id"`
}

// StreamRun handles POST /threads/{thread_id}/runs/stream. The question is the last input message;
// the answer streams as server-sent events.
func (s *Server) StreamRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	msgs := req.Input.Messages
	if len(msgs) == 0 {
		s.handleDomainError(w, r, fmt.Errorf("%w: input.messages is required", domain.ErrInvalidInput))
		return
	}
	question := contentText(msgs[len(msgs)-1].Content)

	threadID := chi.URLParam(r, "thread_id")
	events, err := s.conversations.Run(r.Context(), userFrom(r.Context()), threadID, question)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	assistantID := req.AssistantID
	if assistantID == "" {
		assistantID = req.AssistantIDAlt
	}
	if assistantID == "" {
		assistantID = domain.DefaultGraphID
	}
	runID := uuid.NewString()
	aiMessageID := "ai-" + uuid.NewString()
	log := logger.FromContextOr(r.Context(), s.logger).With(zap.String("run_id", runID))

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Content-Location", "/threads/"+threadID+"/runs/"+runID)
	w.WriteHeader(http.StatusOK)

	sse := newSSEWriter(w)
	sse.send(eventMetadata, runMetadata{RunID: runID, ThreadID: threadID, AssistantID: assistantID})

	for ev := range events {
		switch ev.Type {
		case domain.StreamToken:
			sse.send(eventMessages, []any{
				messageJSON{Type: "ai", Content: ev.Token, ID: aiMessageID},
				nil,
			})
		case domain.StreamError:
			log.Warn("run failed", zap.Error(ev.Err))
			sse.send(eventError, map[string]string{"message": safeDomainMessage(ev.Err)})
		case domain.StreamSources, domain.StreamDone:
		}
	}
	sse.send(eventEnd, nil)

	if sse.err != nil {
		log.Debug("client went away during stream", zap.Error(sse.err))
	}
}

// sseWriter writes server-sent events and flushes after each one. The first write error sticks.
type sseWriter struct {
	w   io.Writer
	rc  *http.ResponseController
	err error
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) send(event string, data any) {
	if s.err != nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		s.err = err
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		s.err = err
		return
	}
	s.err = s.rc.Flush()
}

// contentText extracts plain text from a message content that is either a string
// or a list of typed blocks, keeping only "text" blocks.
func contentText(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}

	type block struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	var blocks []block
	if err := json.Unmarshal(raw, &blocks); err == nil {
		texts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				texts = append(texts, b.Text)
			}
		}
		return strings.TrimSpace(strings.Join(texts, " "))
	}

	var single block
	if err := json.Unmarshal(raw, &single); err == nil && single.Type == "text" {
		return strings.TrimSpace(single.Text)
	}
	return ""
}
