package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinsync/internal/common"
	"clinsync/internal/envelope"
	"clinsync/internal/logging"
	"clinsync/internal/server/auth"
	"clinsync/internal/server/model"
	"clinsync/internal/server/service"
)

var testSecret = []byte("test-secret")

type fakeRecords struct {
	gotPatient string
	gotKind    string
	gotBody    []byte
	result     *service.IngestResult
	err        error
}

func (f *fakeRecords) Ingest(_ context.Context, patientID, kind string, body []byte) (*service.IngestResult, error) {
	f.gotPatient, f.gotKind, f.gotBody = patientID, kind, body
	return f.result, f.err
}

type fakeDocs struct {
	doc      *model.Document
	blob     []byte
	err      error
	uploaded []byte
	shared   string
	deleted  string
	accessed string
	reason   string
}

func (f *fakeDocs) Upload(_ context.Context, _ string, _ []byte, blob io.Reader, _ int64) (*model.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.uploaded, _ = io.ReadAll(blob)
	return f.doc, nil
}

func (f *fakeDocs) Metadata(context.Context, string, string) (*model.Document, error) {
	return f.doc, f.err
}

func (f *fakeDocs) Download(context.Context, string, string) (io.ReadCloser, *model.Document, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.blob)), f.doc, nil
}

func (f *fakeDocs) RecordAccess(_ context.Context, _ string, id, action string) error {
	f.accessed = id + ":" + action
	return f.err
}

func (f *fakeDocs) Share(_ context.Context, _ string, id, granteeID string, _ envelope.Permission) error {
	f.shared = id + ":" + granteeID
	return f.err
}

func (f *fakeDocs) Delete(_ context.Context, _ string, id, reason string) error {
	f.deleted = id
	f.reason = reason
	return f.err
}

type fakeAudit struct {
	entries []model.AuditEntry
	err     error
}

func (f *fakeAudit) Append(_ context.Context, e model.AuditEntry) error {
	f.entries = append(f.entries, e)
	return f.err
}

func newTestServer(t *testing.T, records *fakeRecords, docs *fakeDocs, audit *fakeAudit) *httptest.Server {
	t.Helper()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := NewHandlers(records, docs, audit, log)
	router, err := NewRouter(h, testSecret, prometheus.NewRegistry(), log)
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doAuthed(t *testing.T, method, url string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	token, err := auth.GenerateToken("pat-42", testSecret, time.Minute)
	require.NoError(t, err)

	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealth_NoAuthRequired(t *testing.T) {
	srv := newTestServer(t, &fakeRecords{}, &fakeDocs{}, &fakeAudit{})

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIngest_RequiresAuth(t *testing.T) {
	srv := newTestServer(t, &fakeRecords{}, &fakeDocs{}, &fakeAudit{})

	resp, err := http.Post(srv.URL+"/api/appointments", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIngest_CreatedAndDuplicate(t *testing.T) {
	records := &fakeRecords{result: &service.IngestResult{ID: "rec-1"}}
	srv := newTestServer(t, records, &fakeDocs{}, &fakeAudit{})

	body := `{"doctor":"dr-ana","offline_id":"off-1"}`
	resp := doAuthed(t, http.MethodPost, srv.URL+"/api/appointments", bytes.NewReader([]byte(body)), "application/json")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pat-42", records.gotPatient)
	assert.Equal(t, "appointment", records.gotKind)
	assert.JSONEq(t, body, string(records.gotBody))

	records.result = &service.IngestResult{ID: "rec-1", Duplicate: true}
	resp2 := doAuthed(t, http.MethodPost, srv.URL+"/api/appointments", bytes.NewReader([]byte(body)), "application/json")
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	var ack ingestResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&ack))
	assert.True(t, ack.Duplicate)
}

func TestIngest_KindRouting(t *testing.T) {
	records := &fakeRecords{result: &service.IngestResult{ID: "rec-1"}}
	srv := newTestServer(t, records, &fakeDocs{}, &fakeAudit{})

	routes := map[string]string{
		"/api/messages":      "message",
		"/api/vital-signs":   "vital_signs",
		"/api/prescriptions": "prescription",
		"/api/consultations": "consultation_notes",
	}
	for path, kind := range routes {
		resp := doAuthed(t, http.MethodPost, srv.URL+path, bytes.NewReader([]byte(`{}`)), "application/json")
		resp.Body.Close()
		assert.Equal(t, kind, records.gotKind, path)
	}
}

func TestUploadDocument(t *testing.T) {
	docs := &fakeDocs{doc: &model.Document{ID: "doc-1"}}
	srv := newTestServer(t, &fakeRecords{}, docs, &fakeAudit{})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "doc-1.encrypted")
	require.NoError(t, err)
	_, err = part.Write([]byte("ciphertext"))
	require.NoError(t, err)
	require.NoError(t, w.WriteField("metadata", `{"id":"doc-1","patient_id":"pat-42"}`))
	require.NoError(t, w.Close())

	resp := doAuthed(t, http.MethodPost, srv.URL+"/api/documents/upload", &buf, w.FormDataContentType())
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []byte("ciphertext"), docs.uploaded)
}

func TestUploadDocument_MissingMetadata(t *testing.T) {
	srv := newTestServer(t, &fakeRecords{}, &fakeDocs{}, &fakeAudit{})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_, err := w.CreateFormFile("file", "doc-1.encrypted")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp := doAuthed(t, http.MethodPost, srv.URL+"/api/documents/upload", &buf, w.FormDataContentType())
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDocumentMetadata_ReturnsStoredJSON(t *testing.T) {
	docs := &fakeDocs{doc: &model.Document{ID: "doc-1", Metadata: []byte(`{"id":"doc-1","category":"exam_result"}`)}}
	srv := newTestServer(t, &fakeRecords{}, docs, &fakeAudit{})

	resp := doAuthed(t, http.MethodGet, srv.URL+"/api/documents/doc-1/metadata", nil, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"doc-1","category":"exam_result"}`, string(body))
}

func TestDownloadDocument(t *testing.T) {
	docs := &fakeDocs{doc: &model.Document{ID: "doc-1"}, blob: []byte("ciphertext")}
	srv := newTestServer(t, &fakeRecords{}, docs, &fakeAudit{})

	resp := doAuthed(t, http.MethodGet, srv.URL+"/api/documents/doc-1/download", nil, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), body)
}

func TestDownloadDocument_AccessDeniedMapsTo403(t *testing.T) {
	docs := &fakeDocs{err: common.ErrAccessDenied}
	srv := newTestServer(t, &fakeRecords{}, docs, &fakeAudit{})

	resp := doAuthed(t, http.MethodGet, srv.URL+"/api/documents/doc-1/download", nil, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDocumentNotFoundMapsTo404(t *testing.T) {
	docs := &fakeDocs{err: common.ErrNotFound}
	srv := newTestServer(t, &fakeRecords{}, docs, &fakeAudit{})

	resp := doAuthed(t, http.MethodGet, srv.URL+"/api/documents/missing/metadata", nil, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecordDocumentAccess(t *testing.T) {
	docs := &fakeDocs{}
	srv := newTestServer(t, &fakeRecords{}, docs, &fakeAudit{})

	entry := `{"user_id":"pat-42","action":"view","timestamp":"2026-08-30T10:00:00Z"}`
	resp := doAuthed(t, http.MethodPatch, srv.URL+"/api/documents/doc-1/access", bytes.NewReader([]byte(entry)), "application/json")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "doc-1:view", docs.accessed)
}

func TestShareDocument(t *testing.T) {
	docs := &fakeDocs{}
	srv := newTestServer(t, &fakeRecords{}, docs, &fakeAudit{})

	body := `{"grantee_id":"dr-ana","permission":{"can_view":true}}`
	resp := doAuthed(t, http.MethodPost, srv.URL+"/api/documents/doc-1/share", bytes.NewReader([]byte(body)), "application/json")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "doc-1:dr-ana", docs.shared)
}

func TestShareDocument_MissingGrantee(t *testing.T) {
	srv := newTestServer(t, &fakeRecords{}, &fakeDocs{}, &fakeAudit{})

	resp := doAuthed(t, http.MethodPost, srv.URL+"/api/documents/doc-1/share", bytes.NewReader([]byte(`{}`)), "application/json")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteDocument_WithReason(t *testing.T) {
	docs := &fakeDocs{}
	srv := newTestServer(t, &fakeRecords{}, docs, &fakeAudit{})

	body := `{"reason":"patient request"}`
	resp := doAuthed(t, http.MethodDelete, srv.URL+"/api/documents/doc-1", bytes.NewReader([]byte(body)), "application/json")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "doc-1", docs.deleted)
	assert.Equal(t, "patient request", docs.reason)
}

func TestAuditEvent_Always202(t *testing.T) {
	audit := &fakeAudit{}
	srv := newTestServer(t, &fakeRecords{}, &fakeDocs{}, audit)

	body := `{"document_id":"doc-1","entry":{"user_id":"dr-ana","action":"view"}}`
	resp := doAuthed(t, http.MethodPost, srv.URL+"/api/audit/document-access", bytes.NewReader([]byte(body)), "application/json")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "doc-1", audit.entries[0].DocumentID)
	assert.Equal(t, "dr-ana", audit.entries[0].ActorID)
}

func TestAuditEvent_SinkFailureStill202(t *testing.T) {
	audit := &fakeAudit{err: errors.New("db down")}
	srv := newTestServer(t, &fakeRecords{}, &fakeDocs{}, audit)

	body := `{"document_id":"doc-1","entry":{"action":"view"}}`
	resp := doAuthed(t, http.MethodPost, srv.URL+"/api/audit/document-access", bytes.NewReader([]byte(body)), "application/json")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}
