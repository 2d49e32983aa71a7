package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

func newTestChatModel(url string) *ChatModel {
	return NewChatModel(&Config{
		APIKey:   "test-key",
		BaseURL:  url,
		Model:    "deepseek-chat",
		Provider: "deepseek",
		Timeout:  5 * time.Second,
		Logger:   zap.NewNop(),
	})
}

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	Stream      bool    `json:"stream"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestChatModel_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "deepseek-chat" || len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected request %+v", req)
		}
		if req.Temperature < 0.19 || req.Temperature > 0.21 {
			t.Errorf("expected temperature 0.2, got %v", req.Temperature)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "c1", "object": "chat.completion", "model": "deepseek-chat",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "See guide.md."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 30, "completion_tokens": 4, "total_tokens": 34}
		}`))
	}))
	defer server.Close()

	got, err := newTestChatModel(server.URL).Complete(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "answer from context"},
		{Role: domain.RoleUser, Content: "where?"},
	}, domain.ChatOptions{Temperature: 0.2})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got.Content != "See guide.md." {
		t.Errorf("unexpected content %q", got.Content)
	}
	if got.PromptTokens != 30 || got.CompletionTokens != 4 {
		t.Errorf("unexpected usage %d/%d", got.PromptTokens, got.CompletionTokens)
	}
}

func TestChatModel_ZeroTemperatureIsSent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"temperature"`) {
			t.Errorf("expected temperature in request body, got %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	if _, err := newTestChatModel(server.URL).Complete(context.Background(),
		[]domain.Message{{Role: domain.RoleUser, Content: "q"}}, domain.ChatOptions{}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
}

func TestChatModel_CompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	_, err := newTestChatModel(server.URL).Complete(context.Background(), nil, domain.ChatOptions{})
	if !errors.Is(err, domain.ErrLLMProviderError) {
		t.Fatalf("expected ErrLLMProviderError, got %v", err)
	}
}

func TestChatModel_CompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"authentication_error"}}`))
	}))
	defer server.Close()

	_, err := newTestChatModel(server.URL).Complete(context.Background(), nil, domain.ChatOptions{})
	if !errors.Is(err, domain.ErrLLMProviderError) {
		t.Fatalf("expected ErrLLMProviderError, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("expected provider message in error, got %v", err)
	}
}

func streamServer(t *testing.T, tokens []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("expected stream=true")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		// role-only delta first, as real providers do
		fmt.Fprint(w, `data: {"id":"s1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"}}]}`+"\n\n")
		for _, tok := range tokens {
			chunk, _ := json.Marshal(map[string]any{
				"id": "s1", "object": "chat.completion.chunk",
				"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": tok}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, `data: {"id":"s1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestChatModel_Stream(t *testing.T) {
	server := streamServer(t, []string{"Hel", "lo", "!"})
	defer server.Close()

	stream, err := newTestChatModel(server.URL).Stream(context.Background(),
		[]domain.Message{{Role: domain.RoleUser, Content: "hi"}}, domain.ChatOptions{Temperature: 0.2})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	var parts []string
	for {
		tok, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		parts = append(parts, tok)
	}
	if strings.Join(parts, "") != "Hello!" || len(parts) != 3 {
		t.Errorf("unexpected tokens %q", parts)
	}
}

func TestChatModel_StreamAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	_, err := newTestChatModel(server.URL).Stream(context.Background(), nil, domain.ChatOptions{})
	if !errors.Is(err, domain.ErrLLMProviderError) || !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrLLMProviderError and ErrRateLimited, got %v", err)
	}
}
