package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// CreateThread inserts a thread. An existing ID yields domain.ErrAlreadyExists.
func (s *Store) CreateThread(ctx context.Context, t domain.Thread) (domain.Thread, error) {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return domain.Thread{}, fmt.Errorf("marshal thread metadata: %w", err)
	}
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, user_id, title, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Title, string(meta), now.Format(timeLayout), now.Format(timeLayout))
	if isUniqueViolation(err) {
		return domain.Thread{}, fmt.Errorf("thread %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return domain.Thread{}, fmt.Errorf("insert thread: %w", err)
	}
	return t, nil
}

// GetThread returns a thread owned by userID, or domain.ErrNotFound.
func (s *Store) GetThread(ctx context.Context, userID int64, id string) (domain.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, metadata, created_at, updated_at
		FROM threads WHERE id = ? AND user_id = ?
	`, id, userID)
	t, err := scanThread(row)
	if err != nil {
		return domain.Thread{}, notFound(err, "thread "+id)
	}
	return t, nil
}

// DeleteThread removes a thread owned by userID together with its messages.
func (s *Store) DeleteThread(ctx context.Context, userID int64, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM threads WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("thread %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListThreads returns the threads of userID, most recently updated first, with their first message.
func (s *Store) ListThreads(ctx context.Context, userID int64, limit, offset int) ([]domain.ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.user_id, t.title, t.metadata, t.created_at, t.updated_at,
		       m.id, m.role, m.content, m.created_at
		FROM threads t
		LEFT JOIN messages m ON m.id = (SELECT MIN(id) FROM messages WHERE thread_id = t.id)
		WHERE t.user_id = ?
		ORDER BY t.updated_at DESC, t.id
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []domain.ThreadSummary
	for rows.Next() {
		var (
			t                       domain.Thread
			meta, created, updated  string
			msgID                   sql.NullInt64
			role, content, msgStamp sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &meta, &created, &updated,
			&msgID, &role, &content, &msgStamp); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		fillThread(&t, meta, created, updated)

		sum := domain.ThreadSummary{Thread: t}
		if msgID.Valid {
			sum.First = &domain.ThreadMessage{
				ID:        msgID.Int64,
				ThreadID:  t.ID,
				Role:      domain.Role(role.String),
				Content:   content.String,
				CreatedAt: parseTime(msgStamp.String),
			}
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// AppendMessage stores a message in a thread of userID and bumps the thread's updated_at.
func (s *Store) AppendMessage(
	ctx context.Context, userID int64, threadID string, role domain.Role, content string,
) (domain.ThreadMessage, error) {
	now := s.now()
	msg := domain.ThreadMessage{ThreadID: threadID, Role: role, Content: content, CreatedAt: now}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE threads SET updated_at = ? WHERE id = ? AND user_id = ?", now.Format(timeLayout), threadID, userID)
		if err != nil {
			return fmt.Errorf("touch thread: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
		}

		res, err = tx.ExecContext(ctx,
			"INSERT INTO messages (thread_id, role, content, created_at) VALUES (?, ?, ?, ?)",
			threadID, string(role), content, now.Format(timeLayout))
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		msg.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return domain.ThreadMessage{}, err
	}
	return msg, nil
}

// Messages returns the messages of a thread owned by userID in insertion order.
func (s *Store) Messages(ctx context.Context, userID int64, threadID string) ([]domain.ThreadMessage, error) {
	if _, err := s.GetThread(ctx, userID, threadID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, role, content, created_at
		FROM messages WHERE thread_id = ? ORDER BY id
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.ThreadMessage
	for rows.Next() {
		var m domain.ThreadMessage
		var role, created string
		if err := rows.Scan(&m.ID, &m.ThreadID, &role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = domain.Role(role)
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanThread(row scanner) (domain.Thread, error) {
	var t domain.Thread
	var meta, created, updated string
	if err := row.Scan(&t.ID, &t.UserID, &t.Title, &meta, &created, &updated); err != nil {
		return domain.Thread{}, err
	}
	fillThread(&t, meta, created, updated)
	return t, nil
}

// fillThread decodes stored columns; unreadable metadata falls back to the default graph.
func fillThread(t *domain.Thread, meta, created, updated string) {
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil || t.Metadata == nil {
		t.Metadata = map[string]any{"graph_id": domain.DefaultGraphID}
	}
}
