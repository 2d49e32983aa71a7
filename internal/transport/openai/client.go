// Package openai adapts OpenAI-compatible HTTP APIs (OpenAI, DeepSeek, ModelScope, DashScope)
// to the domain embedding and chat contracts.
package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

func newClient(apiKey, baseURL string) *openai.Client {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// parseAPIError extracts a human-readable error from the API response and wraps it with sentinel.
// 429 responses additionally wrap domain.ErrRateLimited via rateLimited.
func parseAPIError(kind string, err error, sentinel, rateLimited error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return statusError(kind, reqErr.HTTPStatusCode, detail, sentinel, rateLimited)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(kind, apiErr.HTTPStatusCode, apiErr.Message, sentinel, rateLimited)
	}

	return fmt.Errorf("%s request failed: %v: %w", kind, err, sentinel)
}

func statusError(kind string, status int, detail string, sentinel, rateLimited error) error {
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%s API error %d: %s: %w: %w", kind, status, detail, sentinel, rateLimited)
	}
	return fmt.Errorf("%s API error %d: %s: %w", kind, status, detail, sentinel)
}

// extractDetail extracts the "detail" field from a JSON error body (ModelScope error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return ""
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	return parsed.Message
}
