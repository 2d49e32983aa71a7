// Package account manages users, API tokens, per-user memory and admin settings.
package account

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragbot/internal/domain"
	"github.com/kailas-cloud/ragbot/internal/logger"
)

// ServiceUsername names the principal behind static API keys.
const ServiceUsername = "service"

// Service implements account use cases.
type Service struct {
	store      Store
	staticKeys [][]byte
	logger     *zap.Logger
}

// New creates an account service. staticKeys authenticate as an admin service principal.
func New(store Store, staticKeys []string, logger *zap.Logger) *Service {
	s := &Service{store: store, logger: logger}
	for _, k := range staticKeys {
		if k = strings.TrimSpace(k); k != "" {
			s.staticKeys = append(s.staticKeys, []byte(k))
		}
	}
	return s
}

// Bootstrap creates the first admin when no user exists yet. It reports whether a user was created.
// Empty credentials skip the bootstrap.
func (s *Service) Bootstrap(ctx context.Context, username, password string) (bool, error) {
	if username == "" || password == "" {
		return false, nil
	}
	has, err := s.store.HasUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("check users: %w", err)
	}
	if has {
		return false, nil
	}
	u, err := s.CreateUser(ctx, username, password, "", true)
	if err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	s.logger.Info("bootstrap admin created", zap.String("username", u.Username))
	return true, nil
}

// CreateUser validates input, hashes the password and stores the user.
func (s *Service) CreateUser(ctx context.Context, username, password, department string, admin bool) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, fmt.Errorf("%w: username is required", domain.ErrInvalidInput)
	}
	if username == ServiceUsername {
		return domain.User{}, fmt.Errorf("%w: username %q is reserved", domain.ErrInvalidInput, username)
	}
	if len(password) < domain.MinPasswordLength {
		return domain.User{}, fmt.Errorf("%w: password must be at least %d characters",
			domain.ErrInvalidInput, domain.MinPasswordLength)
	}

	cred, err := HashPassword(password)
	if err != nil {
		return domain.User{}, err
	}
	return s.store.CreateUser(ctx, domain.User{Username: username, IsAdmin: admin, Department: department}, cred)
}

// ListUsers returns every user.
func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.store.ListUsers(ctx)
}

// Login checks a password and issues a fresh API token named tokenName.
// Unknown users and wrong passwords are indistinguishable: both yield domain.ErrUnauthorized.
func (s *Service) Login(ctx context.Context, username, password, tokenName string) (string, domain.User, error) {
	u, cred, err := s.store.UserCredentials(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		// Burn the same work as a real check.
		VerifyPassword(password, domain.Credentials{Salt: []byte("ragbot"), Hash: make([]byte, keyBytes)})
		return "", domain.User{}, fmt.Errorf("%w: invalid username or password", domain.ErrUnauthorized)
	}
	if err != nil {
		return "", domain.User{}, fmt.Errorf("load credentials: %w", err)
	}
	if !VerifyPassword(password, cred) {
		return "", domain.User{}, fmt.Errorf("%w: invalid username or password", domain.ErrUnauthorized)
	}

	token, _, err := s.IssueToken(ctx, u, tokenName)
	if err != nil {
		return "", domain.User{}, err
	}
	return token, u, nil
}

// IssueToken creates an API token for u. The plaintext is returned only here.
func (s *Service) IssueToken(ctx context.Context, u domain.User, name string) (string, domain.APIToken, error) {
	plain, prefix, hash, err := newToken()
	if err != nil {
		return "", domain.APIToken{}, err
	}
	tok, err := s.store.CreateAPIToken(ctx, u.ID, name, prefix, hash)
	if err != nil {
		return "", domain.APIToken{}, fmt.Errorf("store api token: %w", err)
	}
	s.Audit(ctx, u, domain.AuditTokenCreate, u.Username, "name="+name)
	return plain, tok, nil
}

// Authenticate resolves an x-api-key value to a user.
func (s *Service) Authenticate(ctx context.Context, key string) (domain.User, error) {
	if key == "" {
		return domain.User{}, fmt.Errorf("%w: missing api key", domain.ErrUnauthorized)
	}
	for _, k := range s.staticKeys {
		if subtle.ConstantTimeCompare([]byte(key), k) == 1 {
			return domain.User{Username: ServiceUsername, IsAdmin: true}, nil
		}
	}

	u, err := s.store.UserByTokenHash(ctx, hashToken(key))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, fmt.Errorf("%w: invalid api key", domain.ErrUnauthorized)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("authenticate: %w", err)
	}
	return u, nil
}

// ListTokens returns the tokens of u.
func (s *Service) ListTokens(ctx context.Context, u domain.User) ([]domain.APIToken, error) {
	return s.store.ListAPITokens(ctx, u.ID)
}

// RevokeToken revokes one of u's tokens.
func (s *Service) RevokeToken(ctx context.Context, u domain.User, tokenID int64) error {
	if err := s.store.RevokeAPIToken(ctx, u.ID, tokenID); err != nil {
		return err
	}
	s.Audit(ctx, u, domain.AuditTokenRevoke, u.Username, fmt.Sprintf("token_id=%d", tokenID))
	return nil
}

// UserByUsername looks a user up by name.
func (s *Service) UserByUsername(ctx context.Context, username string) (domain.User, error) {
	return s.store.UserByUsername(ctx, username)
}

// Memory returns what the assistant remembers about u. The service principal has none.
func (s *Service) Memory(ctx context.Context, u domain.User) (string, error) {
	if u.ID == 0 {
		return "", nil
	}
	return s.store.UserMemory(ctx, u.ID)
}

// SetMemory replaces the memory of the user with userID.
func (s *Service) SetMemory(ctx context.Context, userID int64, memory string) error {
	return s.store.SetUserMemory(ctx, userID, strings.TrimSpace(memory))
}

// KBDeletePolicy returns the configured knowledge-base delete policy.
func (s *Service) KBDeletePolicy(ctx context.Context) (domain.KBDeletePolicy, error) {
	v, _, err := s.store.Setting(ctx, domain.SettingKBDeletePolicy)
	if err != nil {
		return domain.KBDeleteAdminOnly, err
	}
	return domain.ParseKBDeletePolicy(v), nil
}

// KBReindexPolicy returns the configured knowledge-base reindex policy.
func (s *Service) KBReindexPolicy(ctx context.Context) (domain.KBReindexPolicy, error) {
	v, _, err := s.store.Setting(ctx, domain.SettingKBReindexPolicy)
	if err != nil {
		return domain.KBReindexAdminOnly, err
	}
	return domain.ParseKBReindexPolicy(v), nil
}

// Settings returns every known setting with its effective value.
func (s *Service) Settings(ctx context.Context) (map[string]string, error) {
	del, err := s.KBDeletePolicy(ctx)
	if err != nil {
		return nil, err
	}
	re, err := s.KBReindexPolicy(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		domain.SettingKBDeletePolicy:  string(del),
		domain.SettingKBReindexPolicy: string(re),
	}, nil
}

// SetSetting validates and stores a setting. Only admins may change settings.
func (s *Service) SetSetting(ctx context.Context, actor domain.User, key, value string) error {
	if !actor.IsAdmin {
		return fmt.Errorf("%w: settings are admin-only", domain.ErrForbidden)
	}
	switch key {
	case domain.SettingKBDeletePolicy:
		if domain.ParseKBDeletePolicy(value) != domain.KBDeletePolicy(value) {
			return fmt.Errorf("%w: unknown %s %q", domain.ErrInvalidInput, key, value)
		}
	case domain.SettingKBReindexPolicy:
		if domain.ParseKBReindexPolicy(value) != domain.KBReindexPolicy(value) {
			return fmt.Errorf("%w: unknown %s %q", domain.ErrInvalidInput, key, value)
		}
	default:
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}

	if err := s.store.SetSetting(ctx, key, value, actorID(actor)); err != nil {
		return err
	}
	s.Audit(ctx, actor, domain.AuditSettingUpdate, key, value)
	return nil
}

// Audit records an action of actor. Failures are logged, never returned.
func (s *Service) Audit(ctx context.Context, actor domain.User, action, target, details string) {
	if err := s.store.LogAudit(ctx, actorID(actor), action, target, details); err != nil {
		logger.FromContextOr(ctx, s.logger).Warn("audit write failed",
			zap.String("action", action), zap.String("target", target), zap.Error(err))
	}
}

// actorID is nil for the service principal, which has no users row.
func actorID(u domain.User) *int64 {
	if u.ID == 0 {
		return nil
	}
	id := u.ID
	return &id
}
