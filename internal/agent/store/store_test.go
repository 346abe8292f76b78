package store

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"clinsync/internal/common"
	"clinsync/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	cipher, err := NewAESCipher(testKey())
	require.NoError(t, err)

	dsn := filepath.Join(t.TempDir(), "portal.db")
	s, err := Open(context.Background(), dsn, "patient-1", cipher, testLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_BadPathIsStorageUnavailable(t *testing.T) {
	cipher, err := NewAESCipher(testKey())
	require.NoError(t, err)

	_, err = Open(context.Background(), "/nonexistent-dir/deep/vault.db", "patient-1", cipher, testLogger())
	require.ErrorIs(t, err, common.ErrStorageUnavailable)
}

func TestStoreRecord_SensitivePayloadEncryptedAtRest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"systolic":180,"diastolic":110}`)
	id, err := s.StoreRecord(ctx, KindVitalSigns, payload, PriorityEmergency)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Raw row must not contain the plaintext.
	var raw []byte
	var encrypted bool
	err = s.db.QueryRow(`SELECT payload, encrypted FROM pending_records WHERE id=?`, id).Scan(&raw, &encrypted)
	require.NoError(t, err)
	assert.True(t, encrypted)
	assert.NotContains(t, string(raw), "systolic")

	// Read back through the store: plaintext-equal to the input.
	records, err := s.QueryByKind(ctx, KindVitalSigns, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.JSONEq(t, string(payload), string(records[0].Payload))
	assert.Equal(t, PriorityEmergency, records[0].Priority)
	assert.Equal(t, "patient-1", records[0].OwnerID)
}

func TestStoreRecord_PlainKindStoredAsIs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"date":"2026-09-01","doctor":"dr-ana"}`)
	id, err := s.StoreRecord(ctx, KindAppointment, payload, PriorityHigh)
	require.NoError(t, err)

	var raw []byte
	var encrypted bool
	err = s.db.QueryRow(`SELECT payload, encrypted FROM pending_records WHERE id=?`, id).Scan(&raw, &encrypted)
	require.NoError(t, err)
	assert.False(t, encrypted)
	assert.JSONEq(t, string(payload), string(raw))
}

func TestStoreRecord_UnknownKindRejected(t *testing.T) {
	s := openTestStore(t)
	_, err := s.StoreRecord(context.Background(), RecordKind("selfie"), json.RawMessage(`{}`), PriorityLow)
	require.Error(t, err)
}

func TestStoreRecord_TriggersDrainWhenOnline(t *testing.T) {
	s := openTestStore(t)

	var (
		mu      sync.Mutex
		drained int
	)
	done := make(chan struct{}, 1)
	s.SetDrainTrigger(
		func() bool { return true },
		func() {
			mu.Lock()
			drained++
			mu.Unlock()
			done <- struct{}{}
		},
	)

	_, err := s.StoreRecord(context.Background(), KindMessage, json.RawMessage(`{"text":"ola"}`), PriorityMedium)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain trigger never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, drained)
}

func TestStoreRecord_NoDrainWhenOffline(t *testing.T) {
	s := openTestStore(t)

	fired := make(chan struct{}, 1)
	s.SetDrainTrigger(
		func() bool { return false },
		func() { fired <- struct{}{} },
	)

	_, err := s.StoreRecord(context.Background(), KindMessage, json.RawMessage(`{}`), PriorityLow)
	require.NoError(t, err)

	select {
	case <-fired:
		t.Fatal("drain must not fire while offline")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueryPending_ExcludesSynced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.StoreRecord(ctx, KindAppointment, json.RawMessage(`{"n":1}`), PriorityLow)
	require.NoError(t, err)
	id2, err := s.StoreRecord(ctx, KindAppointment, json.RawMessage(`{"n":2}`), PriorityLow)
	require.NoError(t, err)

	require.NoError(t, s.MarkSynced(ctx, id1))

	pending, err := s.QueryPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id2, pending[0].ID)

	// Synced records stay readable for history.
	all, err := s.QueryByKind(ctx, KindAppointment, "patient-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMarkSynced_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.StoreRecord(ctx, KindMessage, json.RawMessage(`{}`), PriorityLow)
	require.NoError(t, err)

	require.NoError(t, s.MarkSynced(ctx, id))
	require.NoError(t, s.MarkSynced(ctx, id))

	var synced bool
	require.NoError(t, s.db.QueryRow(`SELECT synced FROM pending_records WHERE id=?`, id).Scan(&synced))
	assert.True(t, synced)
}

func TestCachedResponse_FreshAndStale(t *testing.T) {
	current := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := openTestStore(t, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	require.NoError(t, s.CacheResponse(ctx, "/api/doctors", []byte(`[{"id":"dr-ana"}]`), "api", "application/json"))

	// Fresh within the hour.
	current = current.Add(59 * time.Minute)
	payload, contentType, err := s.GetCachedResponse(ctx, "/api/doctors")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"dr-ana"}]`, string(payload))
	assert.Equal(t, "application/json", contentType)

	// Stale at exactly one hour: reads as absent, row not deleted.
	current = current.Add(time.Minute)
	_, _, err = s.GetCachedResponse(ctx, "/api/doctors")
	require.ErrorIs(t, err, common.ErrNotFound)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM cached_responses`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestGetCachedResponse_Absent(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.GetCachedResponse(context.Background(), "/api/unknown")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeleteOlderThan_PurgesRegardlessOfSyncState(t *testing.T) {
	current := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := openTestStore(t, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	// 31 days old, never synced: still purged (legal ceiling).
	current = current.AddDate(0, 0, -31)
	oldID, err := s.StoreRecord(ctx, KindPrescription, json.RawMessage(`{"rx":"old"}`), PriorityLow)
	require.NoError(t, err)

	// 29 days old: survives.
	current = current.AddDate(0, 0, 2)
	youngID, err := s.StoreRecord(ctx, KindPrescription, json.RawMessage(`{"rx":"young"}`), PriorityLow)
	require.NoError(t, err)

	current = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	removed, err := s.DeleteOlderThan(ctx, current.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	records, err := s.QueryByKind(ctx, KindPrescription, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, youngID, records[0].ID)
	_ = oldID
}

func TestSettings_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, err := s.GetSetting(ctx, "auth_token")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.SetSetting(ctx, "auth_token", []byte("bearer-abc")))
	require.NoError(t, s.SetSetting(ctx, "auth_token", []byte("bearer-def")))

	v, err = s.GetSetting(ctx, "auth_token")
	require.NoError(t, err)
	assert.Equal(t, []byte("bearer-def"), v)

	require.NoError(t, s.DeleteSetting(ctx, "auth_token"))
	v, err = s.GetSetting(ctx, "auth_token")
	require.NoError(t, err)
	assert.Nil(t, v)
}
