package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinsync/internal/agent/store"
	"clinsync/internal/common"
	"clinsync/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDispatchRecord_EndpointAndEnvelopeFields(t *testing.T) {
	var (
		gotPath string
		gotBody map[string]any
		gotAuth string
		gotComp string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotComp = r.Header.Get(common.ComplianceHeaderName)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, StaticToken("tok-123"), testLogger())

	created := time.Date(2026, 7, 1, 8, 30, 0, 0, time.UTC)
	rec := store.PendingRecord{
		ID:        "rec-1",
		Kind:      store.KindAppointment,
		Payload:   json.RawMessage(`{"doctor":"dr-ana","date":"2026-09-01"}`),
		CreatedAt: created,
		Priority:  store.PriorityHigh,
	}

	require.NoError(t, c.DispatchRecord(context.Background(), rec))

	assert.Equal(t, "/api/appointments", gotPath)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, common.ComplianceHeaderValue, gotComp)

	assert.Equal(t, "dr-ana", gotBody["doctor"])
	assert.Equal(t, "rec-1", gotBody["offline_id"])
	assert.Equal(t, float64(created.UnixMilli()), gotBody["offline_timestamp"])
	assert.Equal(t, "high", gotBody["priority"])
}

func TestDispatchRecord_KindRouting(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
	}))
	defer srv.Close()

	c := New(srv.URL, StaticToken(""), testLogger())
	ctx := context.Background()

	kinds := []store.RecordKind{
		store.KindAppointment, store.KindMessage, store.KindVitalSigns,
		store.KindPrescription, store.KindConsultationNotes,
	}
	for _, k := range kinds {
		rec := store.PendingRecord{ID: "x", Kind: k, Payload: json.RawMessage(`{}`), Priority: store.PriorityLow}
		require.NoError(t, c.DispatchRecord(ctx, rec))
	}

	assert.Equal(t, []string{
		"/api/appointments", "/api/messages", "/api/vital-signs",
		"/api/prescriptions", "/api/consultations",
	}, paths)
}

func TestDispatchRecord_ServerErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, StaticToken(""), testLogger())
	rec := store.PendingRecord{ID: "x", Kind: store.KindMessage, Payload: json.RawMessage(`{}`)}

	err := c.DispatchRecord(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestDo_UnauthorizedMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, StaticToken("expired"), testLogger())
	err := c.Ping(context.Background())
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestPing_HealthEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer srv.Close()

	c := New(srv.URL, StaticToken(""), testLogger())
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "/api/health", gotPath)
}
