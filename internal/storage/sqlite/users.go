package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

const userColumns = `u.id, u.username, u.is_admin, d.name, u.created_at`

// HasUsers reports whether at least one user exists.
func (s *Store) HasUsers(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM users").Scan(&n); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return n > 0, nil
}

// CreateUser inserts a user with its password material and an empty memory row.
// The department is created on first use. Duplicate usernames yield domain.ErrAlreadyExists.
func (s *Store) CreateUser(ctx context.Context, u domain.User, cred domain.Credentials) (domain.User, error) {
	dept := strings.TrimSpace(u.Department)
	if dept == "" {
		dept = domain.DefaultDepartment
	}
	now := s.now()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		deptID, err := departmentID(ctx, tx, dept, s.stamp())
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (username, password_salt, password_hash, is_admin, department_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, u.Username, cred.Salt, cred.Hash, u.IsAdmin, deptID, now.Format(timeLayout))
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q: %w", u.Username, domain.ErrAlreadyExists)
		}
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		if u.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("user id: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO user_memory (user_id, memory, updated_at) VALUES (?, '', ?)", u.ID, now.Format(timeLayout))
		if err != nil {
			return fmt.Errorf("insert user memory: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}

	u.Department = dept
	u.CreatedAt = now
	return u, nil
}

func departmentID(ctx context.Context, tx *sql.Tx, name, stamp string) (int64, error) {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO departments (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING", name, stamp)
	if err != nil {
		return 0, fmt.Errorf("upsert department: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM departments WHERE name = ?", name).Scan(&id); err != nil {
		return 0, fmt.Errorf("department id: %w", err)
	}
	return id, nil
}

// UserCredentials returns a user and its password material by username.
func (s *Store) UserCredentials(ctx context.Context, username string) (domain.User, domain.Credentials, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`, u.password_salt, u.password_hash
		FROM users u JOIN departments d ON d.id = u.department_id
		WHERE u.username = ?
	`, username)

	var cred domain.Credentials
	u, err := scanUser(row, &cred.Salt, &cred.Hash)
	if err != nil {
		return domain.User{}, domain.Credentials{}, notFound(err, "user "+username)
	}
	cred.UserID = u.ID
	return u, cred, nil
}

// UserByID returns a user by ID.
func (s *Store) UserByID(ctx context.Context, id int64) (domain.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN departments d ON d.id = u.department_id
		WHERE u.id = ?
	`, id)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, notFound(err, fmt.Sprintf("user %d", id))
	}
	return u, nil
}

// UserByUsername returns a user by name.
func (s *Store) UserByUsername(ctx context.Context, username string) (domain.User, error) {
	u, _, err := s.UserCredentials(ctx, username)
	return u, err
}

// ListUsers returns every user ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN departments d ON d.id = u.department_id
		ORDER BY u.username
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ListDepartments returns every department ordered by name.
func (s *Store) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at FROM departments ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	var out []domain.Department
	for rows.Next() {
		var d domain.Department
		var created string
		if err := rows.Scan(&d.ID, &d.Name, &created); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		d.CreatedAt = parseTime(created)
		out = append(out, d)
	}
	return out, rows.Err()
}

// UserMemory returns the free-form memory of a user ("" when unset).
func (s *Store) UserMemory(ctx context.Context, userID int64) (string, error) {
	var memory string
	err := s.db.QueryRowContext(ctx, "SELECT memory FROM user_memory WHERE user_id = ?", userID).Scan(&memory)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get user memory: %w", err)
	}
	return memory, nil
}

// SetUserMemory replaces the memory of a user.
func (s *Store) SetUserMemory(ctx context.Context, userID int64, memory string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_memory (user_id, memory, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET memory = excluded.memory, updated_at = excluded.updated_at
	`, userID, memory, s.stamp())
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
		}
		return fmt.Errorf("set user memory: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner, extra ...any) (domain.User, error) {
	var u domain.User
	var created string
	dest := append([]any{&u.ID, &u.Username, &u.IsAdmin, &u.Department, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.User{}, err
	}
	u.CreatedAt = parseTime(created)
	return u, nil
}
