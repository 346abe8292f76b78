package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"clinsync/internal/envelope"
	"clinsync/internal/server/api/middleware"
	"clinsync/internal/server/model"
)

// maxUploadSize bounds a multipart document upload. Matches the client
// ceiling plus envelope overhead.
const maxUploadSize = 64 << 20

// DocumentService is the slice of the document service the handlers use.
type DocumentService interface {
	Upload(ctx context.Context, patientID string, metaRaw []byte, blob io.Reader, size int64) (*model.Document, error)
	Metadata(ctx context.Context, requesterID, id string) (*model.Document, error)
	Download(ctx context.Context, requesterID, id string) (io.ReadCloser, *model.Document, error)
	RecordAccess(ctx context.Context, requesterID, id, action string) error
	Share(ctx context.Context, requesterID, id, granteeID string, perm envelope.Permission) error
	Delete(ctx context.Context, requesterID, id, reason string) error
}

func (h *Handlers) uploadDocument(w http.ResponseWriter, r *http.Request) {
	patientID, _ := middleware.GetPatientID(r.Context())

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid multipart form"})
		return
	}

	metaRaw := r.FormValue("metadata")
	if metaRaw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing metadata"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing file"})
		return
	}
	defer file.Close()

	doc, err := h.docs.Upload(r.Context(), patientID, []byte(metaRaw), file, header.Size)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": doc.ID})
}

func (h *Handlers) documentMetadata(w http.ResponseWriter, r *http.Request) {
	patientID, _ := middleware.GetPatientID(r.Context())

	doc, err := h.docs.Metadata(r.Context(), patientID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	// The stored envelope metadata is returned verbatim.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Metadata)
}

func (h *Handlers) downloadDocument(w http.ResponseWriter, r *http.Request) {
	patientID, _ := middleware.GetPatientID(r.Context())

	rc, doc, err := h.docs.Download(r.Context(), patientID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.ID+`.encrypted"`)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn(r.Context(), "document stream interrupted", "document_id", doc.ID, "error", err)
	}
}

func (h *Handlers) recordDocumentAccess(w http.ResponseWriter, r *http.Request) {
	patientID, _ := middleware.GetPatientID(r.Context())

	var entry envelope.AccessLogEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid access entry"})
		return
	}
	if entry.Action == "" {
		entry.Action = envelope.ActionView
	}

	if err := h.docs.RecordAccess(r.Context(), patientID, chi.URLParam(r, "id"), string(entry.Action)); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// shareRequest mirrors the agent's share payload.
type shareRequest struct {
	GranteeID  string              `json:"grantee_id"`
	Permission envelope.Permission `json:"permission"`
}

func (h *Handlers) shareDocument(w http.ResponseWriter, r *http.Request) {
	patientID, _ := middleware.GetPatientID(r.Context())

	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GranteeID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid share request"})
		return
	}

	if err := h.docs.Share(r.Context(), patientID, chi.URLParam(r, "id"), req.GranteeID, req.Permission); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// deleteRequest carries the audit reason for an explicit delete.
type deleteRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) deleteDocument(w http.ResponseWriter, r *http.Request) {
	patientID, _ := middleware.GetPatientID(r.Context())

	var req deleteRequest
	// A missing body is allowed; the reason is then empty.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.docs.Delete(r.Context(), patientID, chi.URLParam(r, "id"), req.Reason); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
