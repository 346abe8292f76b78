package api

import (
	"context"
	"io"
	"net/http"

	"clinsync/internal/server/api/middleware"
	"clinsync/internal/server/service"
)

// maxRecordBody bounds a single record submission.
const maxRecordBody = 1 << 20

// RecordService is the slice of the record service the handlers use.
type RecordService interface {
	Ingest(ctx context.Context, patientID, kind string, body []byte) (*service.IngestResult, error)
}

// ingestResponse acknowledges a record submission. Duplicate is true
// when the offline_id was already known and no new row was created.
type ingestResponse struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

// ingestRecord returns the handler for one record kind.
func (h *Handlers) ingestRecord(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := middleware.GetPatientID(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxRecordBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "unreadable body"})
			return
		}

		res, err := h.records.Ingest(r.Context(), patientID, kind, body)
		if err != nil {
			h.log.Warn(r.Context(), "record ingest rejected", "kind", kind, "error", err)
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid record"})
			return
		}

		status := http.StatusCreated
		if res.Duplicate {
			// Replays are acknowledged, not re-created.
			status = http.StatusOK
		}
		writeJSON(w, status, ingestResponse{ID: res.ID, Duplicate: res.Duplicate})
	}
}
