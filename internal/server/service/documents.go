package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"clinsync/internal/common"
	"clinsync/internal/dbx"
	"clinsync/internal/envelope"
	"clinsync/internal/logging"
	"clinsync/internal/server/model"
	"clinsync/internal/server/repository/postgres"
	"clinsync/internal/server/storage"
)

// Documents implements the encrypted document pipeline. Blobs are opaque
// ciphertext; every permission decision is made from the envelope
// metadata the client uploaded.
type Documents struct {
	db    *sql.DB
	store storage.ObjectStore
	log   logging.Logger
	now   func() time.Time
}

// NewDocuments returns the document service.
func NewDocuments(db *sql.DB, store storage.ObjectStore, log logging.Logger) *Documents {
	return &Documents{db: db, store: store, log: log, now: time.Now}
}

// Upload stores the ciphertext in object storage and the metadata row in
// the database. If the database write fails the blob is removed again so
// storage and metadata cannot diverge.
func (s *Documents) Upload(ctx context.Context, patientID string, metaRaw []byte, blob io.Reader, size int64) (*model.Document, error) {
	var meta envelope.Metadata
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, fmt.Errorf("invalid document metadata: %w", err)
	}
	if meta.PatientID != patientID {
		return nil, common.ErrAccessDenied
	}

	id := meta.ID
	if id == "" {
		id = uuid.NewString()
	}
	key := "documents/" + id + ".encrypted"

	if err := s.store.Upload(ctx, key, blob, size, "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	doc := &model.Document{
		ID:            id,
		PatientID:     patientID,
		Category:      string(meta.Category),
		ObjectKey:     key,
		FileName:      meta.FileName,
		ContentType:   meta.MIMEType,
		OriginalSize:  meta.OriginalSize,
		EncryptedSize: meta.EncryptedSize,
		Metadata:      metaRaw,
		AutoDelete:    meta.Retention.AutoDelete,
		UploadedAt:    s.now().UTC(),
	}
	if meta.Retention.AutoDelete {
		expires := meta.ExpiresAt()
		doc.ExpiresAt = &expires
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := postgres.NewDocuments(tx).Create(ctx, doc); err != nil {
			return err
		}
		return postgres.NewAudit(tx).Append(ctx, s.auditEntry(doc.ID, patientID, string(envelope.ActionUpload), ""))
	})
	if err != nil {
		// Roll the blob back so no orphaned ciphertext remains.
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}

	return doc, nil
}

// Metadata returns the document row if requesterID holds a view grant.
func (s *Documents) Metadata(ctx context.Context, requesterID, id string) (*model.Document, error) {
	doc, meta, err := s.findWithMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	if !meta.CanView(requesterID, s.now().UTC()) {
		return nil, common.ErrAccessDenied
	}
	return doc, nil
}

// Download streams the ciphertext. The access counter is bumped and an
// audit row appended in the same transaction before the blob is fetched.
func (s *Documents) Download(ctx context.Context, requesterID, id string) (io.ReadCloser, *model.Document, error) {
	doc, meta, err := s.findWithMeta(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !meta.CanView(requesterID, s.now().UTC()) {
		return nil, nil, common.ErrAccessDenied
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := postgres.NewDocuments(tx).BumpAccess(ctx, id); err != nil {
			return err
		}
		return postgres.NewAudit(tx).Append(ctx, s.auditEntry(id, requesterID, string(envelope.ActionDownload), ""))
	})
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.store.Download(ctx, doc.ObjectKey)
	if err != nil {
		return nil, nil, err
	}
	return rc, doc, nil
}

// RecordAccess appends one access event reported by a client, bumping
// the counter alongside.
func (s *Documents) RecordAccess(ctx context.Context, requesterID, id, action string) error {
	_, meta, err := s.findWithMeta(ctx, id)
	if err != nil {
		return err
	}
	if !meta.CanView(requesterID, s.now().UTC()) {
		return common.ErrAccessDenied
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := postgres.NewDocuments(tx).BumpAccess(ctx, id); err != nil {
			return err
		}
		return postgres.NewAudit(tx).Append(ctx, s.auditEntry(id, requesterID, action, ""))
	})
}

// Share grants granteeID a permission on the document. Only holders of
// an unexpired share grant (or the owner) may share.
func (s *Documents) Share(ctx context.Context, requesterID, id, granteeID string, perm envelope.Permission) error {
	_, meta, err := s.findWithMeta(ctx, id)
	if err != nil {
		return err
	}
	if !meta.CanShare(requesterID, s.now().UTC()) {
		return common.ErrAccessDenied
	}

	meta.Grant(granteeID, perm)
	updated, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := postgres.NewDocuments(tx).UpdateMetadata(ctx, id, updated); err != nil {
			return err
		}
		return postgres.NewAudit(tx).Append(ctx, s.auditEntry(id, requesterID, string(envelope.ActionShare), "granted to "+granteeID))
	})
}

// Delete removes the blob and the metadata row. Only the owning patient
// may delete. The blob goes first; a failed blob delete keeps the row so
// the document stays consistent.
func (s *Documents) Delete(ctx context.Context, requesterID, id, reason string) error {
	doc, meta, err := s.findWithMeta(ctx, id)
	if err != nil {
		return err
	}
	if meta.PatientID != requesterID {
		return common.ErrAccessDenied
	}

	if err := s.store.Delete(ctx, doc.ObjectKey); err != nil {
		return fmt.Errorf("delete storage: %w", err)
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := postgres.NewDocuments(tx).Delete(ctx, id); err != nil {
			return err
		}
		return postgres.NewAudit(tx).Append(ctx, s.auditEntry(id, requesterID, string(envelope.ActionDelete), reason))
	})
}

// AuditTrail returns the access history of a document for its owner.
func (s *Documents) AuditTrail(ctx context.Context, requesterID, id string) ([]model.AuditEntry, error) {
	_, meta, err := s.findWithMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta.PatientID != requesterID {
		return nil, common.ErrAccessDenied
	}
	return postgres.NewAudit(s.db).ListByDocument(ctx, id)
}

func (s *Documents) findWithMeta(ctx context.Context, id string) (*model.Document, *envelope.Metadata, error) {
	doc, err := postgres.NewDocuments(s.db).FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	var meta envelope.Metadata
	if err := json.Unmarshal(doc.Metadata, &meta); err != nil {
		return nil, nil, fmt.Errorf("stored metadata corrupt: %w", err)
	}
	return doc, &meta, nil
}

func (s *Documents) auditEntry(documentID, actorID, action, reason string) model.AuditEntry {
	return model.AuditEntry{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		ActorID:    actorID,
		Action:     action,
		Reason:     reason,
		OccurredAt: s.now().UTC(),
	}
}
