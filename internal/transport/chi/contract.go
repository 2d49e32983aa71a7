package chi

import (
	"context"
	"io"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/usecase/conversation"
	healthuc "github.com/kailas-cloud/ragbot/internal/usecase/health"
	"github.com/kailas-cloud/ragbot/internal/usecase/ingest"
)

// Accounts authenticates callers and exposes the policies the handlers enforce (account.Service).
type Accounts interface {
	Authenticate(ctx context.Context, key string) (domain.User, error)
	Login(ctx context.Context, username, password, tokenName string) (string, domain.User, error)
	KBDeletePolicy(ctx context.Context) (domain.KBDeletePolicy, error)
	KBReindexPolicy(ctx context.Context) (domain.KBReindexPolicy, error)
	Audit(ctx context.Context, actor domain.User, action, target, details string)
}

// Conversations manages threads and answers (conversation.Service).
type Conversations interface {
	CreateThread(ctx context.Context, u domain.User, id string, metadata map[string]any) (domain.Thread, error)
	GetThread(ctx context.Context, u domain.User, id string) (domain.Thread, error)
	DeleteThread(ctx context.Context, u domain.User, id string) error
	SearchThreads(ctx context.Context, u domain.User, f conversation.SearchFilter) ([]domain.ThreadSummary, error)
	Messages(ctx context.Context, u domain.User, threadID string) ([]domain.ThreadMessage, error)
	Run(ctx context.Context, u domain.User, threadID, question string) (<-chan domain.StreamEvent, error)
	Ask(ctx context.Context, u domain.User, question string) (domain.Turn, error)
}

// KnowledgeBase manages the files under the knowledge directory (knowledge.Base).
type KnowledgeBase interface {
	List(ctx context.Context) ([]domain.KBFile, error)
	Get(ctx context.Context, name string) (domain.KBFile, error)
	Save(ctx context.Context, name string, r io.Reader, uploaderID *int64) (domain.KBFile, error)
	Delete(ctx context.Context, name string) error
}

// Indexer rebuilds the vector collection (ingest.Service).
type Indexer interface {
	Run(ctx context.Context, opts ingest.Options) (ingest.Report, error)
}

// HealthChecker reports dependency health (health.Service).
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
