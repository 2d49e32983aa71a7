package conversation

import (
	"context"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/usecase/rag"
)

// ThreadStore persists threads and their messages (ISP: only thread methods from sqlite.Store).
type ThreadStore interface {
	CreateThread(ctx context.Context, t domain.Thread) (domain.Thread, error)
	GetThread(ctx context.Context, userID int64, id string) (domain.Thread, error)
	DeleteThread(ctx context.Context, userID int64, id string) error
	ListThreads(ctx context.Context, userID int64, limit, offset int) ([]domain.ThreadSummary, error)
	AppendMessage(ctx context.Context, userID int64, threadID string, role domain.Role, content string) (domain.ThreadMessage, error)
	Messages(ctx context.Context, userID int64, threadID string) ([]domain.ThreadMessage, error)
}

// Answerer produces grounded answers (implemented by rag.Service).
type Answerer interface {
	Ask(ctx context.Context, question string, opts rag.AskOptions) (domain.Turn, error)
	AskStream(ctx context.Context, question string, opts rag.AskOptions) (<-chan domain.StreamEvent, error)
}

// Accounts supplies per-user memory and the audit trail (implemented by account.Service).
type Accounts interface {
	Memory(ctx context.Context, u domain.User) (string, error)
	Audit(ctx context.Context, actor domain.User, action, target, details string)
}
