package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinsync/internal/common"
	"clinsync/internal/dbx"
	"clinsync/internal/server/model"
)

const documentColumns = `id, patient_id, category, object_key, file_name, content_type,
		original_size, encrypted_size, metadata, access_count, auto_delete, expires_at, uploaded_at`

// Documents persists encrypted-document metadata.
type Documents struct {
	db dbx.DBTX
}

// NewDocuments returns a Documents repository over db.
func NewDocuments(db dbx.DBTX) *Documents {
	return &Documents{db: db}
}

// Create inserts a new document row.
func (r *Documents) Create(ctx context.Context, doc *model.Document) error {
	const q = `
		INSERT INTO documents (id, patient_id, category, object_key, file_name, content_type,
			original_size, encrypted_size, metadata, auto_delete, expires_at, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, q,
		doc.ID,
		doc.PatientID,
		doc.Category,
		doc.ObjectKey,
		doc.FileName,
		doc.ContentType,
		doc.OriginalSize,
		doc.EncryptedSize,
		doc.Metadata,
		doc.AutoDelete,
		doc.ExpiresAt,
		doc.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// FindByID returns the document with the given id, or
// common.ErrNotFound.
func (r *Documents) FindByID(ctx context.Context, id string) (*model.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	var d model.Document
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID,
		&d.PatientID,
		&d.Category,
		&d.ObjectKey,
		&d.FileName,
		&d.ContentType,
		&d.OriginalSize,
		&d.EncryptedSize,
		&d.Metadata,
		&d.AccessCount,
		&d.AutoDelete,
		&d.ExpiresAt,
		&d.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	return &d, nil
}

// BumpAccess increments the access counter.
func (r *Documents) BumpAccess(ctx context.Context, id string) error {
	const q = `UPDATE documents SET access_count = access_count + 1 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("bump access: %w", err)
	}
	return nil
}

// UpdateMetadata replaces the stored envelope metadata, used when the
// owner shares or revokes access.
func (r *Documents) UpdateMetadata(ctx context.Context, id string, metadata []byte) error {
	const q = `UPDATE documents SET metadata = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id, metadata)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

// Delete removes the document row.
func (r *Documents) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM documents WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// ListExpired returns auto-delete documents whose retention lapsed
// before now.
func (r *Documents) ListExpired(ctx context.Context, now time.Time) ([]model.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents
		WHERE auto_delete AND expires_at IS NOT NULL AND expires_at <= $1`

	rows, err := r.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(
			&d.ID,
			&d.PatientID,
			&d.Category,
			&d.ObjectKey,
			&d.FileName,
			&d.ContentType,
			&d.OriginalSize,
			&d.EncryptedSize,
			&d.Metadata,
			&d.AccessCount,
			&d.AutoDelete,
			&d.ExpiresAt,
			&d.UploadedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
