// Package envelope seals patient documents with authenticated symmetric
// encryption before they ever leave the device. A document is encrypted
// with AES-256-GCM under a key derived from the patient's passphrase via
// PBKDF2-SHA256, and described by a Metadata record carrying the salt, IV,
// retention policy, permission map and append-only access log. The key
// itself is never persisted.
package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"clinsync/internal/common"
	"clinsync/internal/logging"
)

const (
	// MaxFileSize is the hard ceiling for a single document (50 MiB).
	MaxFileSize = 50 * 1024 * 1024

	// KeyIterations is the PBKDF2 iteration count.
	KeyIterations = 100_000

	keySize   = 32
	saltSize  = 16
	nonceSize = 12

	algorithmTag = "AES-256-GCM"
)

// File is the plaintext input to Encrypt.
type File struct {
	Name string
	MIME string
	Data []byte
}

// Auditor forwards access events to a remote audit sink. Forwarding is
// best-effort: failures are logged and never roll back the operation.
type Auditor interface {
	ForwardAccess(ctx context.Context, documentID string, entry AccessLogEntry)
}

// Envelope encrypts and decrypts patient documents.
//
// The fallback secret substitutes for a missing passphrase and must be a
// stable per-installation value: deriving it from anything volatile (the
// original front end mixed in a wall-clock timestamp) makes ciphertext
// unrecoverable.
type Envelope struct {
	fallbackSecret string
	auditor        Auditor
	log            logging.Logger
	now            func() time.Time
}

// Option configures an Envelope.
type Option func(*Envelope)

// WithAuditor attaches a best-effort remote audit forwarder.
func WithAuditor(a Auditor) Option {
	return func(e *Envelope) { e.auditor = a }
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(e *Envelope) { e.now = now }
}

// New returns an Envelope. fallbackSecret must be non-empty and stable for
// the lifetime of the installation.
func New(fallbackSecret string, log logging.Logger, opts ...Option) (*Envelope, error) {
	if fallbackSecret == "" {
		return nil, fmt.Errorf("fallback secret is required")
	}
	e := &Envelope{fallbackSecret: fallbackSecret, log: log, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// deriveKey stretches the passphrase (or the stable per-patient fallback)
// into a 256-bit AES key.
func (e *Envelope) deriveKey(passphrase, ownerID string, salt []byte) []byte {
	secret := passphrase
	if secret == "" {
		secret = "patient_" + ownerID + "_" + e.fallbackSecret
	}
	return pbkdf2.Key([]byte(secret), salt, KeyIterations, keySize, sha256.New)
}

// Encrypt validates the file against the category's constraints, seals it
// and returns the ciphertext plus its metadata record. The access log is
// seeded with a single upload entry for the owner.
func (e *Envelope) Encrypt(ctx context.Context, file File, ownerID string, category Category, passphrase string) ([]byte, *Metadata, error) {
	if int64(len(file.Data)) > MaxFileSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", common.ErrFileTooLarge, len(file.Data))
	}
	if !category.Valid() {
		return nil, nil, fmt.Errorf("unknown category %q", category)
	}
	if !category.Allows(file.MIME) {
		return nil, nil, fmt.Errorf("%w: %s for %s", common.ErrUnsupportedFileType, file.MIME, category)
	}

	salt := common.GenerateRandByteArray(saltSize)
	nonce := common.GenerateRandByteArray(nonceSize)
	key := e.deriveKey(passphrase, ownerID, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	ciphertext := aesgcm.Seal(nil, nonce, file.Data, nil)

	now := e.now().UTC()
	meta := &Metadata{
		ID:            uuid.NewString(),
		FileName:      file.Name,
		OriginalSize:  int64(len(file.Data)),
		EncryptedSize: int64(len(ciphertext)),
		MIMEType:      file.MIME,
		Category:      category,
		UploadedAt:    now,
		PatientID:     ownerID,
		Encryption: EncryptionParams{
			Algorithm:  algorithmTag,
			Iterations: KeyIterations,
			Salt:       base64.StdEncoding.EncodeToString(salt),
			IV:         base64.StdEncoding.EncodeToString(nonce),
		},
		Retention:   category.Retention(),
		Permissions: make(map[string]Permission),
	}
	entry := AccessLogEntry{UserID: ownerID, UserRole: "patient", Action: ActionUpload, Timestamp: now}
	meta.RecordAccess(entry)
	e.forward(ctx, meta.ID, entry)

	return ciphertext, meta, nil
}

// Decrypt opens the ciphertext described by meta. When requestingUserID is
// non-empty, an unexpired view grant is verified before any cryptographic
// work; a missing or expired grant fails closed with ErrAccessDenied.
//
// A GCM open failure is reported as the opaque ErrDecryptionFailed: the
// primitive cannot distinguish a wrong passphrase from corrupted data.
func (e *Envelope) Decrypt(ctx context.Context, ciphertext []byte, meta *Metadata, passphrase, requestingUserID string) ([]byte, error) {
	now := e.now().UTC()

	if requestingUserID != "" && !meta.CanView(requestingUserID, now) {
		return nil, fmt.Errorf("%w: user %s on document %s", common.ErrAccessDenied, requestingUserID, meta.ID)
	}

	salt, err := base64.StdEncoding.DecodeString(meta.Encryption.Salt)
	if err != nil {
		return nil, fmt.Errorf("invalid salt encoding: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(meta.Encryption.IV)
	if err != nil {
		return nil, fmt.Errorf("invalid iv encoding: %w", err)
	}

	key := e.deriveKey(passphrase, meta.PatientID, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, common.ErrDecryptionFailed
	}

	viewer := requestingUserID
	role := "doctor"
	if viewer == "" || viewer == meta.PatientID {
		viewer = meta.PatientID
		role = "patient"
	}
	entry := AccessLogEntry{UserID: viewer, UserRole: role, Action: ActionView, Timestamp: now}
	meta.RecordAccess(entry)
	e.forward(ctx, meta.ID, entry)

	return plaintext, nil
}

// Share grants granteeID the given permission. The grantor must hold an
// unexpired share grant (the owning patient always does).
func (e *Envelope) Share(ctx context.Context, meta *Metadata, grantorID, granteeID string, p Permission) error {
	now := e.now().UTC()
	if !meta.CanShare(grantorID, now) {
		return fmt.Errorf("%w: user %s cannot share document %s", common.ErrAccessDenied, grantorID, meta.ID)
	}

	meta.Grant(granteeID, p)

	entry := AccessLogEntry{UserID: grantorID, UserRole: "patient", Action: ActionShare, Timestamp: now}
	meta.RecordAccess(entry)
	e.forward(ctx, meta.ID, entry)
	return nil
}

func (e *Envelope) forward(ctx context.Context, documentID string, entry AccessLogEntry) {
	if e.auditor == nil {
		return
	}
	e.auditor.ForwardAccess(ctx, documentID, entry)
}
