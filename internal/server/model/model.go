// Package model holds the server-side persistence types.
package model

import (
	"encoding/json"
	"time"
)

// Record is a synced patient record ingested from an agent queue.
// OfflineID is the client-generated identifier used for idempotent ingest.
type Record struct {
	ID              string
	PatientID       string
	Kind            string
	Payload         json.RawMessage
	OfflineID       string
	Priority        string
	OfflineCreated  time.Time
	ReceivedAt      time.Time
}

// Document is the metadata row for an encrypted patient document. The
// ciphertext itself lives in object storage under ObjectKey; Metadata is
// the client-produced envelope metadata stored verbatim.
type Document struct {
	ID            string
	PatientID     string
	Category      string
	ObjectKey     string
	FileName      string
	ContentType   string
	OriginalSize  int64
	EncryptedSize int64
	Metadata      json.RawMessage
	AccessCount   int64
	AutoDelete    bool
	ExpiresAt     *time.Time
	UploadedAt    time.Time
}

// AuditEntry is one append-only document access event.
type AuditEntry struct {
	ID         string
	DocumentID string
	ActorID    string
	Action     string
	Reason     string
	OccurredAt time.Time
}
