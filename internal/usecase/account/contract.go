package account

import (
	"context"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// UserStore persists users and their password material (ISP: only user methods from sqlite.Store).
type UserStore interface {
	HasUsers(ctx context.Context) (bool, error)
	CreateUser(ctx context.Context, u domain.User, cred domain.Credentials) (domain.User, error)
	UserCredentials(ctx context.Context, username string) (domain.User, domain.Credentials, error)
	UserByUsername(ctx context.Context, username string) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UserMemory(ctx context.Context, userID int64) (string, error)
	SetUserMemory(ctx context.Context, userID int64, memory string) error
}

// TokenStore persists hashed API tokens.
type TokenStore interface {
	CreateAPIToken(ctx context.Context, userID int64, name, prefix string, hash []byte) (domain.APIToken, error)
	UserByTokenHash(ctx context.Context, hash []byte) (domain.User, error)
	ListAPITokens(ctx context.Context, userID int64) ([]domain.APIToken, error)
	RevokeAPIToken(ctx context.Context, userID, tokenID int64) error
}

// SettingStore persists admin-editable settings.
type SettingStore interface {
	Setting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string, userID *int64) error
}

// Auditor records user-initiated actions.
type Auditor interface {
	LogAudit(ctx context.Context, userID *int64, action, target, details string) error
}

// Store is everything the account service needs from persistence.
type Store interface {
	UserStore
	TokenStore
	SettingStore
	Auditor
}
