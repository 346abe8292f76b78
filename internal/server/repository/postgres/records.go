package postgres

import (
	"context"
	"fmt"

	"clinsync/internal/dbx"
	"clinsync/internal/server/model"
)

// Records persists ingested patient records.
type Records struct {
	db dbx.DBTX
}

// NewRecords returns a Records repository over db.
func NewRecords(db dbx.DBTX) *Records {
	return &Records{db: db}
}

// Insert stores a record. Re-sent records are deduplicated on the
// client-generated offline_id; the duplicate insert is a silent no-op.
// Returns true when a new row was created.
func (r *Records) Insert(ctx context.Context, rec model.Record) (bool, error) {
	const q = `
		INSERT INTO records (id, patient_id, kind, payload, offline_id, priority, offline_created, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (offline_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, q,
		rec.ID,
		rec.PatientID,
		rec.Kind,
		rec.Payload,
		rec.OfflineID,
		rec.Priority,
		rec.OfflineCreated,
		rec.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByPatient returns the records of one kind for a patient, newest
// first.
func (r *Records) ListByPatient(ctx context.Context, patientID, kind string) ([]model.Record, error) {
	const q = `
		SELECT id, patient_id, kind, payload, offline_id, priority, offline_created, received_at
		FROM records
		WHERE patient_id = $1 AND kind = $2
		ORDER BY received_at DESC
	`
	rows, err := r.db.QueryContext(ctx, q, patientID, kind)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var rec model.Record
		if err := rows.Scan(
			&rec.ID,
			&rec.PatientID,
			&rec.Kind,
			&rec.Payload,
			&rec.OfflineID,
			&rec.Priority,
			&rec.OfflineCreated,
			&rec.ReceivedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
