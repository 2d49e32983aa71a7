package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/logger"
)

// Error codes returned in errorResponse.Code.
const (
	codeBadRequest         = "bad_request"
	codeUnauthorized       = "unauthorized"
	codeForbidden          = "forbidden"
	codeNotFound           = "not_found"
	codeCollectionNotFound = "collection_not_found"
	codeAlreadyExists      = "already_exists"
	codeConflict           = "conflict"
	codeModelMismatch      = "embedding_model_mismatch"
	codeNoDocuments        = "no_documents"
	codeRateLimited        = "rate_limited"
	codeEmbeddingProvider  = "embedding_provider_error"
	codeLLMProvider        = "llm_provider_error"
	codeVectorStore        = "vector_store_error"
	codeInternal           = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server serves the agent-compatible chat API.
type Server struct {
	accounts      Accounts
	conversations Conversations
	kb            KnowledgeBase
	indexer       Indexer
	health        HealthChecker
	tokenName     string
	maxUpload     int64
	logins        *loginLimiter
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// Deps are the use cases behind the API.
type Deps struct {
	Accounts      Accounts
	Conversations Conversations
	KnowledgeBase KnowledgeBase
	Indexer       Indexer
	Health        HealthChecker
}

// Option configures a Server.
type Option func(*Server)

// WithTokenName sets the name recorded for tokens issued by /auth/login.
func WithTokenName(name string) Option {
	return func(s *Server) { s.tokenName = name }
}

// WithMaxUploadBytes caps multipart uploads to /kb/files.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// WithLoginRate throttles /auth/login per client address.
func WithLoginRate(every time.Duration, burst int) Option {
	return func(s *Server) { s.logins = newLoginLimiter(rate.Every(every), burst) }
}

// Default login throttling: a burst of 5, then one attempt every 2 seconds per client.
const (
	defaultLoginEvery = 2 * time.Second
	defaultLoginBurst = 5
)

// NewServer creates an HTTP API server.
func NewServer(deps Deps, log *zap.Logger, opts ...Option) *Server {
	s := &Server{
		accounts:      deps.Accounts,
		conversations: deps.Conversations,
		kb:            deps.KnowledgeBase,
		indexer:       deps.Indexer,
		health:        deps.Health,
		tokenName:     "agent-chat-ui",
		maxUpload:     10 << 20,
		logins:        newLoginLimiter(rate.Every(defaultLoginEvery), defaultLoginBurst),
		logger:        log,
	}
	for _, o := range opts {
		o(s)
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrUnauthorized, http.StatusUnauthorized, codeUnauthorized),
		sentinelHandler(domain.ErrForbidden, http.StatusForbidden, codeForbidden),
		sentinelHandler(domain.ErrCollectionNotFound, http.StatusNotFound, codeCollectionNotFound),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrAlreadyExists, http.StatusConflict, codeAlreadyExists),
		sentinelHandler(domain.ErrIngestInProgress, http.StatusConflict, codeConflict),
		modelMismatchHandler,
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, codeBadRequest),
		sentinelHandler(domain.ErrInvalidPath, http.StatusBadRequest, codeBadRequest),
		sentinelHandler(domain.ErrNoDocuments, http.StatusUnprocessableEntity, codeNoDocuments),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProvider),
		sentinelHandler(domain.ErrLLMProviderError, http.StatusBadGateway, codeLLMProvider),
		sentinelHandler(domain.ErrVectorStoreError, http.StatusServiceUnavailable, codeVectorStore),
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
// Input, path and auth errors carry details written for the caller and pass through whole.
func safeDomainMessage(err error) string {
	for _, s := range []error{domain.ErrInvalidInput, domain.ErrInvalidPath, domain.ErrUnauthorized, domain.ErrForbidden} {
		if errors.Is(err, s) {
			return err.Error()
		}
	}
	sentinels := []error{
		domain.ErrCollectionNotFound,
		domain.ErrNotFound,
		domain.ErrAlreadyExists,
		domain.ErrIngestInProgress,
		domain.ErrModelMismatch,
		domain.ErrNoDocuments,
		domain.ErrRateLimited,
		domain.ErrEmbeddingProviderError,
		domain.ErrLLMProviderError,
		domain.ErrVectorStoreError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// modelMismatchHandler reports both fingerprints so operators know to rebuild.
func modelMismatchHandler(w http.ResponseWriter, err error, msg string) bool {
	if !errors.Is(err, domain.ErrModelMismatch) {
		return false
	}
	var me *domain.MismatchError
	if errors.As(err, &me) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"code":       codeModelMismatch,
			"message":    msg,
			"stored":     me.Stored,
			"configured": me.Configured,
		})
		return true
	}
	writeError(w, http.StatusConflict, codeModelMismatch, msg)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContextOr(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
