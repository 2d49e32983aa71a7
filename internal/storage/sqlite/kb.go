package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// RecordKBUpload stores who uploaded a knowledge-base file. Re-uploads overwrite the record.
func (s *Store) RecordKBUpload(ctx context.Context, name string, uploaderID *int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kb_files (name, uploader_user_id, uploaded_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			uploader_user_id = excluded.uploader_user_id,
			uploaded_at = excluded.uploaded_at
	`, name, nullInt64(uploaderID), s.stamp())
	if err != nil {
		return fmt.Errorf("record kb upload: %w", err)
	}
	return nil
}

// KBFileMeta returns upload metadata keyed by file name. Size and mtime come from disk.
func (s *Store) KBFileMeta(ctx context.Context) (map[string]domain.KBFile, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, uploader_user_id, uploaded_at FROM kb_files")
	if err != nil {
		return nil, fmt.Errorf("list kb files: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.KBFile)
	for rows.Next() {
		var (
			f        domain.KBFile
			uploader sql.NullInt64
			uploaded string
		)
		if err := rows.Scan(&f.Name, &uploader, &uploaded); err != nil {
			return nil, fmt.Errorf("scan kb file: %w", err)
		}
		f.UploaderUserID = int64Ptr(uploader)
		t := parseTime(uploaded)
		f.UploadedAt = &t
		out[f.Name] = f
	}
	return out, rows.Err()
}

// DeleteKBFileMeta forgets a file. Missing rows are not an error.
func (s *Store) DeleteKBFileMeta(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kb_files WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete kb file: %w", err)
	}
	return nil
}
