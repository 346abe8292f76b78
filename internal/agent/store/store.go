package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clinsync/internal/common"
	"clinsync/internal/logging"
)

// Store is the local durable store for one signed-in patient. All writes
// happen in the agent process; SQLite's busy timeout covers accidental
// concurrent opens.
type Store struct {
	db      *sql.DB
	cipher  Cipher
	log     logging.Logger
	ownerID string
	now     func() time.Time

	// Drain trigger, wired after construction to avoid a cycle with the
	// sync engine. Both may be nil.
	online func() bool
	drain  func()
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens the durable store at dsn for the given patient. cipher seals
// payloads of sensitive kinds; it must outlive the store.
func Open(ctx context.Context, dsn, ownerID string, cipher Cipher, log logging.Logger, opts ...Option) (*Store, error) {
	db, err := openDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, cipher: cipher, log: log, ownerID: ownerID, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetDrainTrigger wires the connectivity probe and the drain kick-off used
// by StoreRecord's fire-and-forget sync side effect.
func (s *Store) SetDrainTrigger(online func() bool, drain func()) {
	s.online = online
	s.drain = drain
}

// StoreRecord persists one queued mutation and returns its identifier.
// Sensitive kinds are encrypted before hitting disk. If the environment is
// currently online a drain is kicked off asynchronously; its outcome does
// not affect this call.
func (s *Store) StoreRecord(ctx context.Context, kind RecordKind, payload json.RawMessage, priority Priority) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown record kind %q", kind)
	}

	data := []byte(payload)
	var nonce []byte
	encrypted := false

	if kind.Sensitive() {
		var err error
		data, nonce, err = s.cipher.Seal(data)
		if err != nil {
			return "", fmt.Errorf("failed to seal payload: %w", err)
		}
		encrypted = true
	}

	id := uuid.NewString()
	createdAt := s.now().UTC()

	query := `INSERT INTO pending_records (id, kind, payload, nonce, created_at, owner_id, synced, encrypted, priority)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, id, string(kind), data, nonce, createdAt.UnixMilli(), s.ownerID, encrypted, string(priority))
	if err != nil {
		return "", fmt.Errorf("failed to insert record: %w", err)
	}

	if s.online != nil && s.drain != nil && s.online() {
		go s.drain()
	}

	return id, nil
}

// QueryByKind returns all records of a kind, optionally filtered by owner,
// with sensitive payloads decrypted.
func (s *Store) QueryByKind(ctx context.Context, kind RecordKind, ownerID string) ([]PendingRecord, error) {
	query := `SELECT id, kind, payload, nonce, created_at, owner_id, synced, encrypted, priority
			FROM pending_records WHERE kind = ?`
	args := []any{string(kind)}
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at, id`

	return s.queryRecords(ctx, query, args...)
}

// QueryPending returns all unsynced records with sensitive payloads
// decrypted, in FIFO order.
func (s *Store) QueryPending(ctx context.Context) ([]PendingRecord, error) {
	query := `SELECT id, kind, payload, nonce, created_at, owner_id, synced, encrypted, priority
			FROM pending_records WHERE synced = 0 ORDER BY created_at, id`
	return s.queryRecords(ctx, query)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]PendingRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []PendingRecord

	for rows.Next() {
		var (
			r         PendingRecord
			kind      string
			priority  string
			nonce     []byte
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &kind, &r.Payload, &nonce, &createdAt, &r.OwnerID, &r.Synced, &r.Encrypted, &priority); err != nil {
			return nil, err
		}
		r.Kind = RecordKind(kind)
		r.Priority = Priority(priority)
		r.CreatedAt = time.UnixMilli(createdAt).UTC()

		if r.Encrypted {
			plain, err := s.cipher.Open(r.Payload, nonce)
			if err != nil {
				return nil, fmt.Errorf("record %s: %w", r.ID, err)
			}
			r.Payload = plain
		}

		result = append(result, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// MarkSynced flags a record as dispatched. Idempotent: marking an already
// synced record is a no-op, and the flag never goes back.
func (s *Store) MarkSynced(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pending_records SET synced = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark record %s synced: %w", id, err)
	}
	return nil
}

// CacheResponse memoizes a GET response body for the given URL along with
// the Content-Type it was served with.
func (s *Store) CacheResponse(ctx context.Context, url string, payload []byte, kind, contentType string) error {
	query := `INSERT INTO cached_responses (url, payload, kind, content_type, created_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET payload = excluded.payload, kind = excluded.kind,
			content_type = excluded.content_type, created_at = excluded.created_at`
	_, err := s.db.ExecContext(ctx, query, url, payload, kind, contentType, s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to cache response: %w", err)
	}
	return nil
}

// GetCachedResponse returns the cached body and Content-Type for url if the
// entry is younger than CacheValidity. Stale or absent entries read as
// ErrNotFound; stale rows are left for the retention sweeper.
func (s *Store) GetCachedResponse(ctx context.Context, url string) ([]byte, string, error) {
	var (
		payload     []byte
		contentType string
		createdAt   int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT payload, content_type, created_at FROM cached_responses WHERE url = ?`, url).
		Scan(&payload, &contentType, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", common.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read cached response: %w", err)
	}

	if s.now().UTC().Sub(time.UnixMilli(createdAt)) >= CacheValidity {
		return nil, "", common.ErrNotFound
	}

	return payload, contentType, nil
}

// DeleteOlderThan removes every record and cached response created before
// cutoff, regardless of sync state. Returns the number of rows removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	millis := cutoff.UTC().UnixMilli()

	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_records WHERE created_at < ?`, millis)
	if err != nil {
		return 0, fmt.Errorf("failed to purge records: %w", err)
	}
	records, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM cached_responses WHERE created_at < ?`, millis)
	if err != nil {
		return records, fmt.Errorf("failed to purge cached responses: %w", err)
	}
	cached, _ := res.RowsAffected()

	return records + cached, nil
}

// GetSetting reads a value from the settings bucket; nil if absent.
func (s *Store) GetSetting(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting[%s]: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts a value in the settings bucket.
func (s *Store) SetSetting(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting[%s]: %w", key, err)
	}
	return nil
}

// DeleteSetting removes a key from the settings bucket.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting[%s]: %w", key, err)
	}
	return nil
}
