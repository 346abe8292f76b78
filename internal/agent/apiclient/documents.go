package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"clinsync/internal/common"
	"clinsync/internal/envelope"
)

// auditTimeout bounds the fire-and-forget audit POST.
const auditTimeout = 5 * time.Second

// UploadDocument sends a sealed document to the clinic API as a multipart
// form: the ciphertext blob named "<id>.encrypted" plus metadata JSON,
// category and patient id fields. The payload is marked pre-encrypted so
// the server stores it untouched.
func (c *Client) UploadDocument(ctx context.Context, ciphertext []byte, meta *envelope.Metadata) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", meta.ID+".encrypted")
	if err != nil {
		return err
	}
	if _, err := part.Write(ciphertext); err != nil {
		return err
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshalling document metadata: %w", err)
	}
	if err := w.WriteField("metadata", string(metaJSON)); err != nil {
		return err
	}
	if err := w.WriteField("category", string(meta.Category)); err != nil {
		return err
	}
	if err := w.WriteField("patientId", meta.PatientID); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/documents/upload", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set(common.EncryptedPayloadHeaderName, "true")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// GetDocumentMetadata fetches the envelope description for a document.
func (c *Client) GetDocumentMetadata(ctx context.Context, id string) (*envelope.Metadata, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/documents/"+id+"/metadata", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var meta envelope.Metadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decoding document metadata: %w", err)
	}
	return &meta, nil
}

// DownloadDocument fetches a document's ciphertext.
func (c *Client) DownloadDocument(ctx context.Context, id string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/documents/"+id+"/download", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// RecordDocumentAccess reports a view/download event so the server can
// bump the access counter and log.
func (c *Client) RecordDocumentAccess(ctx context.Context, id string, entry envelope.AccessLogEntry) error {
	buf, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPatch, "/api/documents/"+id+"/access", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ShareRequest grants a user access to a document.
type ShareRequest struct {
	GrantorID  string              `json:"grantor_id"`
	GranteeID  string              `json:"grantee_id"`
	Permission envelope.Permission `json:"permission"`
}

// ShareDocument grants access to a document server-side.
func (c *Client) ShareDocument(ctx context.Context, id string, share ShareRequest) error {
	buf, err := json.Marshal(share)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/documents/"+id+"/share", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// DeleteRequest carries the audit trail for an explicit delete.
type DeleteRequest struct {
	Reason    string    `json:"reason"`
	ActorID   string    `json:"actor_id"`
	Timestamp time.Time `json:"timestamp"`
}

// DeleteDocument removes a document, recording who asked and why.
func (c *Client) DeleteDocument(ctx context.Context, id string, del DeleteRequest) error {
	buf, err := json.Marshal(del)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/documents/"+id, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// auditEvent is the wire shape of one forwarded access event.
type auditEvent struct {
	DocumentID string                  `json:"document_id"`
	Entry      envelope.AccessLogEntry `json:"entry"`
}

// ForwardAccess implements envelope.Auditor. It is fire-and-forget: the
// POST runs detached with a short deadline and failures are only logged.
func (c *Client) ForwardAccess(ctx context.Context, documentID string, entry envelope.AccessLogEntry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		defer cancel()

		buf, err := json.Marshal(auditEvent{DocumentID: documentID, Entry: entry})
		if err != nil {
			return
		}
		req, err := c.newRequest(ctx, http.MethodPost, "/api/audit/document-access", bytes.NewReader(buf))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.do(req)
		if err != nil {
			c.log.Warn(ctx, "audit forwarding failed", "document", documentID, "error", err)
			return
		}
		resp.Body.Close()
	}()
}
