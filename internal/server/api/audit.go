package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"clinsync/internal/envelope"
	"clinsync/internal/server/api/middleware"
	"clinsync/internal/server/model"
)

// AuditSink accepts append-only audit rows.
type AuditSink interface {
	Append(ctx context.Context, e model.AuditEntry) error
}

// auditEvent mirrors the agent's fire-and-forget access report.
type auditEvent struct {
	DocumentID string                  `json:"document_id"`
	Entry      envelope.AccessLogEntry `json:"entry"`
}

// ingestAuditEvent appends one forwarded access event. The endpoint
// always answers 202: the client already treats forwarding as
// best-effort and a failed append must never surface as a client error.
func (h *Handlers) ingestAuditEvent(w http.ResponseWriter, r *http.Request) {
	patientID, _ := middleware.GetPatientID(r.Context())

	var ev auditEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err == nil && ev.DocumentID != "" {
		actor := ev.Entry.UserID
		if actor == "" {
			actor = patientID
		}
		occurred := ev.Entry.Timestamp
		if occurred.IsZero() {
			occurred = time.Now().UTC()
		}

		err := h.audit.Append(r.Context(), model.AuditEntry{
			ID:         uuid.NewString(),
			DocumentID: ev.DocumentID,
			ActorID:    actor,
			Action:     string(ev.Entry.Action),
			OccurredAt: occurred,
		})
		if err != nil {
			h.log.Warn(r.Context(), "audit append failed", "document_id", ev.DocumentID, "error", err)
		}
	}

	w.WriteHeader(http.StatusAccepted)
}
