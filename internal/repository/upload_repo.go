// Package repository provides data access for the file index.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/remote-agent-terminal/ptybridge/internal/model"
)

// UploadRepository provides data access for stored file metadata.
type UploadRepository struct {
	db *sql.DB
}

// NewUploadRepository creates a new UploadRepository.
func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

const uploadColumns = `id, filename, size, digest, content_type, created_at, updated_at`

// Upsert records a stored file. Storing a name again replaces its size,
// digest and content type but keeps its ID and creation time.
func (r *UploadRepository) Upsert(ctx context.Context, u *model.Upload) error {
	query := `
		INSERT INTO uploads (id, filename, size, digest, content_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			size = excluded.size,
			digest = excluded.digest,
			content_type = excluded.content_type,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		u.ID,
		u.Filename,
		u.Size,
		u.Digest,
		u.ContentType,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert upload: %w", err)
	}

	return nil
}

// GetByFilename retrieves a file record by name.
func (r *UploadRepository) GetByFilename(ctx context.Context, filename string) (*model.Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE filename = ?`

	u, err := scanUpload(r.db.QueryRowContext(ctx, query, filename))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUploadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return u, nil
}

// List retrieves all file records ordered by name.
func (r *UploadRepository) List(ctx context.Context) ([]*model.Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads ORDER BY filename`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*model.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating uploads: %w", err)
	}

	return uploads, nil
}

// Delete removes a file record.
func (r *UploadRepository) Delete(ctx context.Context, filename string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE filename = ?`, filename)
	if err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrUploadNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (*model.Upload, error) {
	u := &model.Upload{}
	var contentType sql.NullString
	var createdAt, updatedAt time.Time

	if err := row.Scan(
		&u.ID,
		&u.Filename,
		&u.Size,
		&u.Digest,
		&contentType,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	u.ContentType = contentType.String
	u.CreatedAt = createdAt
	u.UpdatedAt = updatedAt
	return u, nil
}
