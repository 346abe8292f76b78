// Package store implements the agent's local durable store: a SQLite
// database holding pending offline mutations, cached GET responses and a
// small settings bucket. Payloads of sensitive record kinds are encrypted
// before they touch disk and decrypted transparently on read.
package store

import (
	"encoding/json"
	"time"
)

// RecordKind classifies a queued mutation.
type RecordKind string

const (
	KindAppointment       RecordKind = "appointment"
	KindMessage           RecordKind = "message"
	KindVitalSigns        RecordKind = "vital_signs"
	KindPrescription      RecordKind = "prescription"
	KindConsultationNotes RecordKind = "consultation_notes"
)

// sensitiveKinds are encrypted at rest on the device.
var sensitiveKinds = map[RecordKind]bool{
	KindVitalSigns:        true,
	KindPrescription:      true,
	KindConsultationNotes: true,
}

// Sensitive reports whether records of this kind are encrypted at rest.
func (k RecordKind) Sensitive() bool {
	return sensitiveKinds[k]
}

// Valid reports whether k is a known record kind.
func (k RecordKind) Valid() bool {
	switch k {
	case KindAppointment, KindMessage, KindVitalSigns, KindPrescription, KindConsultationNotes:
		return true
	}
	return false
}

// Priority orders queued records during a drain pass.
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityMedium    Priority = "medium"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

// Rank returns the dispatch order of the priority: lower ranks drain first.
func (p Priority) Rank() int {
	switch p {
	case PriorityEmergency:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// PendingRecord is one queued mutation awaiting sync. Once Synced is set
// the record is never re-dispatched; it remains readable for history until
// the retention sweeper removes it.
type PendingRecord struct {
	ID        string
	Kind      RecordKind
	Payload   json.RawMessage
	CreatedAt time.Time
	OwnerID   string
	Synced    bool
	Encrypted bool
	Priority  Priority
}

// CachedResponse is a memoized network GET.
type CachedResponse struct {
	URL       string
	Payload   []byte
	Kind      string
	CreatedAt time.Time
}

// CacheValidity is how long a cached response counts as fresh. Stale
// entries read as absent; physical deletion is the sweeper's job.
const CacheValidity = time.Hour
