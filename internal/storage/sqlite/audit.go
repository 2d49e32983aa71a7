package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// DefaultAuditLimit caps ListAudit when no limit is given.
const DefaultAuditLimit = 100

// LogAudit appends an audit event.
func (s *Store) LogAudit(ctx context.Context, userID *int64, action, target, details string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (user_id, action, target, details, created_at) VALUES (?, ?, ?, ?, ?)
	`, nullInt64(userID), action, target, details, s.stamp())
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListAudit returns the newest audit events first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, action, target, details, created_at
		FROM audit_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			e       domain.AuditEvent
			user    sql.NullInt64
			created string
		)
		if err := rows.Scan(&e.ID, &user, &e.Action, &e.Target, &e.Details, &created); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.UserID = int64Ptr(user)
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
