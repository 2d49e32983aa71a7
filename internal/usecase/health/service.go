// Package health aggregates readiness of the external dependencies.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/ragbot/internal/logger"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates the vector store is down: no question can be answered.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names reported in Report.Checks.
const (
	CheckVectorStore = "vectorstore"
	CheckDatabase    = "database"
	CheckEmbedding   = "embedding"
)

// DefaultTimeout bounds each component check.
const DefaultTimeout = 5 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks. Concurrent Check calls share one round of checks.
type Service struct {
	vectors   VectorStoreChecker
	db        DBPinger
	embedding EmbeddingChecker
	timeout   time.Duration
	group     singleflight.Group
}

// Option configures the Service.
type Option func(*Service)

// WithTimeout overrides the per-check timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a Service. db and embedding can be nil.
func New(vectors VectorStoreChecker, db DBPinger, embedding EmbeddingChecker, opts ...Option) *Service {
	s := &Service{vectors: vectors, db: db, embedding: embedding, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	v, _, _ := s.group.Do("health", func() (any, error) {
		return s.check(ctx), nil
	})
	r, _ := v.(Report)
	// Callers may mutate the map.
	checks := make(map[string]CheckResult, len(r.Checks))
	for k, c := range r.Checks {
		checks[k] = c
	}
	return Report{Status: r.Status, Checks: checks}
}

func (s *Service) check(ctx context.Context) Report {
	pings := map[string]func(context.Context) error{
		CheckVectorStore: s.vectors.Ready,
	}
	if s.db != nil {
		pings[CheckDatabase] = s.db.Ping
	}
	if s.embedding != nil {
		pings[CheckEmbedding] = s.embedding.HealthCheck
	}

	var (
		mu     sync.Mutex
		checks = make(map[string]CheckResult, len(pings))
		g      errgroup.Group
	)
	log := logger.FromContext(ctx)
	for name, ping := range pings {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			res := CheckOK
			if err := ping(pctx); err != nil {
				log.Warn("health check failed", zap.String("component", name), zap.Error(err))
				res = CheckError
			}
			mu.Lock()
			checks[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := Healthy
	for name, v := range checks {
		if v != CheckError {
			continue
		}
		if name == CheckVectorStore {
			status = Unhealthy
			break
		}
		status = Degraded
	}

	return Report{Status: status, Checks: checks}
}
