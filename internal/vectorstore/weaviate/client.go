// Package weaviate implements domain.VectorStore on the Weaviate client.
// Objects carry their own vectors (vectorizer "none").
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// Config holds connection parameters.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// HTTPClient overrides the default client; tests pass httptest's.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Store talks to a single Weaviate instance.
type Store struct {
	client *weaviate.Client
	logger *zap.Logger
}

var _ domain.VectorStore = (*Store)(nil)

// New validates cfg and returns a store. No request is made until first use.
func New(cfg Config) (*Store, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: weaviate url %q", domain.ErrConfig, cfg.URL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	wcfg := weaviate.Config{
		Host:             u.Host,
		Scheme:           u.Scheme,
		ConnectionClient: httpClient,
	}
	if cfg.APIKey != "" {
		wcfg.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: weaviate client: %w", domain.ErrConfig, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, logger: logger}, nil
}

// wrap tags a client failure as a vector store error.
func wrap(op string, err error) error {
	return fmt.Errorf("%w: weaviate %s: %w", domain.ErrVectorStoreError, op, err)
}

func isStatus(err error, status int) bool {
	var ce *fault.WeaviateClientError
	return errors.As(err, &ce) && ce.StatusCode == status
}

// Ready calls the readiness endpoint, which answers 200 with an empty body.
func (s *Store) Ready(ctx context.Context) error {
	start := time.Now()
	ok, err := s.client.Misc().ReadyChecker().Do(ctx)
	s.logger.Debug("weaviate readiness", zap.Bool("ready", ok), zap.Duration("duration", time.Since(start)))
	if err != nil {
		return fmt.Errorf("weaviate not ready: %w", wrap("ready", err))
	}
	if !ok {
		return fmt.Errorf("%w: weaviate not ready", domain.ErrVectorStoreError)
	}
	return nil
}
