// Package apiclient talks to the clinic API: one POST per queued record
// kind, the document pipeline and the best-effort audit sink. Every
// request carries the bearer token from the local auth blob and the
// compliance marker header.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"clinsync/internal/agent/store"
	"clinsync/internal/common"
	"clinsync/internal/logging"
)

// endpointByKind maps a record kind to its ingest endpoint.
var endpointByKind = map[store.RecordKind]string{
	store.KindAppointment:       "/api/appointments",
	store.KindMessage:           "/api/messages",
	store.KindVitalSigns:        "/api/vital-signs",
	store.KindPrescription:      "/api/prescriptions",
	store.KindConsultationNotes: "/api/consultations",
}

// TokenSource yields the current bearer token. The agent backs it with the
// store's settings bucket.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource holding a fixed token. Useful in tests.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Client is the HTTP client for the clinic API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     logging.Logger
}

// New returns a Client for the API at baseURL (no trailing slash).
func New(baseURL string, tokens TokenSource, log logging.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		tokens:  tokens,
		log:     log,
	}
}

// newRequest builds a request with auth and compliance headers attached.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading auth token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set(common.ComplianceHeaderName, common.ComplianceHeaderValue)

	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, common.ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, string(body))
	}
	return resp, nil
}

// DispatchRecord sends one pending record to its kind-specific endpoint.
// The body is the original payload plus offline_id, offline_timestamp and
// priority envelope fields, so the server can dedupe replays.
func (c *Client) DispatchRecord(ctx context.Context, rec store.PendingRecord) error {
	path, ok := endpointByKind[rec.Kind]
	if !ok {
		return fmt.Errorf("no endpoint for record kind %q", rec.Kind)
	}

	body := map[string]any{}
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &body); err != nil {
			return fmt.Errorf("record %s payload is not a JSON object: %w", rec.ID, err)
		}
	}
	body["offline_id"] = rec.ID
	body["offline_timestamp"] = rec.CreatedAt.UnixMilli()
	body["priority"] = string(rec.Priority)

	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(buf))
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

// Ping probes the API health endpoint. Used by the online-status watcher.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
