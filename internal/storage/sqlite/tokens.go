package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// CreateAPIToken stores a hashed token. The plaintext never reaches the database.
func (s *Store) CreateAPIToken(
	ctx context.Context, userID int64, name, prefix string, hash []byte,
) (domain.APIToken, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, hash, prefix, name, now.Format(timeLayout))
	if isUniqueViolation(err) {
		return domain.APIToken{}, fmt.Errorf("api token: %w", domain.ErrAlreadyExists)
	}
	if err != nil {
		return domain.APIToken{}, fmt.Errorf("insert api token: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.APIToken{}, fmt.Errorf("api token id: %w", err)
	}
	return domain.APIToken{ID: id, UserID: userID, Name: name, Prefix: prefix, CreatedAt: now}, nil
}

// UserByTokenHash returns the owner of a non-revoked token and records its use.
func (s *Store) UserByTokenHash(ctx context.Context, hash []byte) (domain.User, error) {
	var u domain.User
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var tokenID int64
		row := tx.QueryRowContext(ctx, `
			SELECT `+userColumns+`, t.id
			FROM api_tokens t
			JOIN users u ON u.id = t.user_id
			JOIN departments d ON d.id = u.department_id
			WHERE t.token_hash = ? AND t.revoked_at IS NULL
		`, hash)
		var err error
		if u, err = scanUser(row, &tokenID); err != nil {
			return notFound(err, "api token")
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE api_tokens SET last_used_at = ? WHERE id = ?", s.stamp(), tokenID); err != nil {
			return fmt.Errorf("touch api token: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// ListAPITokens returns the tokens of a user, newest first.
func (s *Store) ListAPITokens(ctx context.Context, userID int64) ([]domain.APIToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, token_prefix, created_at, last_used_at, revoked_at
		FROM api_tokens WHERE user_id = ? ORDER BY id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api tokens: %w", err)
	}
	defer rows.Close()

	var out []domain.APIToken
	for rows.Next() {
		var t domain.APIToken
		var created string
		var lastUsed, revoked sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Prefix, &created, &lastUsed, &revoked); err != nil {
			return nil, fmt.Errorf("scan api token: %w", err)
		}
		t.CreatedAt = parseTime(created)
		t.LastUsedAt = parseNullTime(lastUsed)
		t.RevokedAt = parseNullTime(revoked)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RevokeAPIToken marks a token of userID revoked. Unknown or foreign tokens yield domain.ErrNotFound.
func (s *Store) RevokeAPIToken(ctx context.Context, userID, tokenID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_tokens SET revoked_at = ?
		WHERE id = ? AND user_id = ? AND revoked_at IS NULL
	`, s.stamp(), tokenID, userID)
	if err != nil {
		return fmt.Errorf("revoke api token: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("api token %d: %w", tokenID, domain.ErrNotFound)
	}
	return nil
}
