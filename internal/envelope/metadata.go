package envelope

import (
	"time"
)

// AccessAction is the kind of event recorded in a document's access log.
type AccessAction string

const (
	ActionView     AccessAction = "view"
	ActionDownload AccessAction = "download"
	ActionShare    AccessAction = "share"
	ActionDelete   AccessAction = "delete"
	ActionUpload   AccessAction = "upload"
)

// AccessLogEntry is one append-only audit record on a document.
type AccessLogEntry struct {
	UserID    string       `json:"user_id"`
	UserRole  string       `json:"user_role"`
	Action    AccessAction `json:"action"`
	Timestamp time.Time    `json:"timestamp"`
	IPAddress string       `json:"ip_address,omitempty"`
}

// Permission is one user's grant on a document. A grant with an ExpiresAt
// in the past is inert: it is never honored, only kept for audit.
type Permission struct {
	CanView     bool       `json:"can_view"`
	CanDownload bool       `json:"can_download"`
	CanShare    bool       `json:"can_share"`
	CanDelete   bool       `json:"can_delete"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// RetentionPolicy governs server-side document lifetime.
type RetentionPolicy struct {
	Days       int    `json:"days"`
	AutoDelete bool   `json:"auto_delete"`
	LegalBasis string `json:"legal_basis"`
}

// EncryptionParams describes how a document was sealed. Salt and IV are
// stored base64-encoded; the key itself is never persisted anywhere and is
// only derivable from the passphrase plus the stored salt.
type EncryptionParams struct {
	Algorithm  string `json:"algorithm"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
}

// Metadata is the envelope description stored alongside a document's
// ciphertext. The browser-side original called this the encrypted document
// record; the server owns it once uploaded.
type Metadata struct {
	ID            string           `json:"id"`
	FileName      string           `json:"file_name"`
	OriginalSize  int64            `json:"original_size"`
	EncryptedSize int64            `json:"encrypted_size"`
	MIMEType      string           `json:"mime_type"`
	Category      Category         `json:"category"`
	UploadedAt    time.Time        `json:"uploaded_at"`
	LastAccessAt  time.Time        `json:"last_access_at"`
	AccessCount   int              `json:"access_count"`
	PatientID     string           `json:"patient_id"`
	DoctorID      string           `json:"doctor_id,omitempty"`
	Encryption    EncryptionParams `json:"encryption"`
	AccessLog     []AccessLogEntry `json:"access_log"`
	Retention     RetentionPolicy  `json:"retention"`

	// Permissions is keyed by user id. The owning patient is implicitly
	// granted everything and does not need an entry.
	Permissions map[string]Permission `json:"permissions"`
}

// ExpiresAt returns the moment the server may auto-delete the document.
func (m *Metadata) ExpiresAt() time.Time {
	return m.UploadedAt.AddDate(0, 0, m.Retention.Days)
}

// CanView reports whether userID holds an unexpired view grant. The owning
// patient always can.
func (m *Metadata) CanView(userID string, now time.Time) bool {
	if userID == m.PatientID {
		return true
	}
	p, ok := m.Permissions[userID]
	if !ok || !p.CanView {
		return false
	}
	return p.ExpiresAt == nil || now.Before(*p.ExpiresAt)
}

// CanShare reports whether userID may grant access to others.
func (m *Metadata) CanShare(userID string, now time.Time) bool {
	if userID == m.PatientID {
		return true
	}
	p, ok := m.Permissions[userID]
	if !ok || !p.CanShare {
		return false
	}
	return p.ExpiresAt == nil || now.Before(*p.ExpiresAt)
}

// RecordAccess appends one access-log entry and bumps the counters.
func (m *Metadata) RecordAccess(entry AccessLogEntry) {
	m.AccessLog = append(m.AccessLog, entry)
	m.AccessCount++
	m.LastAccessAt = entry.Timestamp
}

// Grant adds or replaces a permission entry for userID.
func (m *Metadata) Grant(userID string, p Permission) {
	if m.Permissions == nil {
		m.Permissions = make(map[string]Permission)
	}
	m.Permissions[userID] = p
}

// Revoke removes userID's permission entry.
func (m *Metadata) Revoke(userID string) {
	delete(m.Permissions, userID)
}
