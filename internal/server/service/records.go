// Package service implements the clinic API use cases on top of the
// postgres repositories and object storage.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clinsync/internal/logging"
	"clinsync/internal/server/model"
	"clinsync/internal/server/repository/postgres"
)

// recordEnvelope is the part of an agent submission the server reads.
// The agent merges these fields into the original payload before
// dispatch; offline_timestamp is epoch milliseconds.
type recordEnvelope struct {
	OfflineID        string `json:"offline_id"`
	OfflineTimestamp int64  `json:"offline_timestamp"`
	Priority         string `json:"priority"`
}

// Records ingests synced patient records.
type Records struct {
	repo *postgres.Records
	log  logging.Logger
	now  func() time.Time
}

// NewRecords returns the record ingest service.
func NewRecords(db *sql.DB, log logging.Logger) *Records {
	return &Records{repo: postgres.NewRecords(db), log: log, now: time.Now}
}

// IngestResult reports what happened to a submission.
type IngestResult struct {
	ID        string
	Duplicate bool
}

// Ingest stores one synced record. A replayed submission with a known
// offline_id is acknowledged without creating a second row, so agents
// can safely retry after a lost response.
func (s *Records) Ingest(ctx context.Context, patientID, kind string, body []byte) (*IngestResult, error) {
	var env recordEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid record payload: %w", err)
	}
	if env.OfflineID == "" {
		return nil, fmt.Errorf("invalid record payload: missing offline_id")
	}

	rec := model.Record{
		ID:             uuid.NewString(),
		PatientID:      patientID,
		Kind:           kind,
		Payload:        body,
		OfflineID:      env.OfflineID,
		Priority:       env.Priority,
		OfflineCreated: time.UnixMilli(env.OfflineTimestamp).UTC(),
		ReceivedAt:     s.now().UTC(),
	}

	created, err := s.repo.Insert(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !created {
		s.log.Info(ctx, "duplicate record submission acknowledged", "offline_id", env.OfflineID, "kind", kind)
	}

	return &IngestResult{ID: rec.ID, Duplicate: !created}, nil
}

// List returns the stored records of one kind for a patient.
func (s *Records) List(ctx context.Context, patientID, kind string) ([]model.Record, error) {
	return s.repo.ListByPatient(ctx, patientID, kind)
}
