package postgres

import (
	"context"
	"fmt"

	"clinsync/internal/dbx"
	"clinsync/internal/server/model"
)

// Audit persists the append-only document access log. Rows are never
// updated or deleted.
type Audit struct {
	db dbx.DBTX
}

// NewAudit returns an Audit repository over db.
func NewAudit(db dbx.DBTX) *Audit {
	return &Audit{db: db}
}

// Append writes one audit entry.
func (r *Audit) Append(ctx context.Context, e model.AuditEntry) error {
	const q = `
		INSERT INTO audit_log (id, document_id, actor_id, action, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.DocumentID,
		e.ActorID,
		e.Action,
		e.Reason,
		e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListByDocument returns the access history of a document, oldest first.
func (r *Audit) ListByDocument(ctx context.Context, documentID string) ([]model.AuditEntry, error) {
	const q = `
		SELECT id, document_id, actor_id, action, reason, occurred_at
		FROM audit_log
		WHERE document_id = $1
		ORDER BY occurred_at
	`
	rows, err := r.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.ActorID, &e.Action, &e.Reason, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
