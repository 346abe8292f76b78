// Package gateway is the agent's network worker: an http.RoundTripper
// that applies a per-resource-class caching strategy and keeps the portal
// usable offline. API and page requests go network-first with a cached
// fallback; images and static assets go cache-first. Form submissions and
// appointment bookings that fail on the wire are queued as pending records
// in the one durable store instead of a separate deferred-retry queue.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strings"

	"clinsync/internal/agent/store"
	"clinsync/internal/logging"
)

// ResourceClass drives the caching strategy.
type ResourceClass int

const (
	ClassAPI ResourceClass = iota
	ClassImage
	ClassAsset
	ClassPage
)

// Classify buckets a request by its path and extension.
func Classify(r *http.Request) ResourceClass {
	p := r.URL.Path
	if strings.HasPrefix(p, "/api/") {
		return ClassAPI
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico":
		return ClassImage
	case ".js", ".css", ".woff", ".woff2", ".ttf":
		return ClassAsset
	}
	return ClassPage
}

// offlinePage is the canned page served when neither network nor cache
// can satisfy an HTML request.
const offlinePage = `<!doctype html><html lang="pt"><head><meta charset="utf-8"><title>Sem ligação</title></head>
<body><h1>Sem ligação à internet</h1><p>Os seus dados foram guardados e serão enviados quando a ligação voltar.</p></body></html>`

// imagePlaceholder is the inline SVG served for images with no cached copy.
const imagePlaceholder = `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="150"><rect width="100%" height="100%" fill="#e5e7eb"/><text x="50%" y="50%" text-anchor="middle" fill="#6b7280">offline</text></svg>`

// Cache is the slice of the durable store the gateway reads and writes.
type Cache interface {
	CacheResponse(ctx context.Context, url string, payload []byte, kind, contentType string) error
	GetCachedResponse(ctx context.Context, url string) ([]byte, string, error)
}

// Enqueuer accepts deferred mutations when the network is down.
type Enqueuer interface {
	StoreRecord(ctx context.Context, kind store.RecordKind, payload json.RawMessage, priority store.Priority) (string, error)
}

// deferrableEndpoints maps POST paths whose bodies can be queued for
// background sync onto the record kind they become.
var deferrableEndpoints = map[string]store.RecordKind{
	"/api/appointments": store.KindAppointment,
	"/api/messages":     store.KindMessage,
}

// Transport is the caching round tripper.
type Transport struct {
	next  http.RoundTripper
	cache Cache
	queue Enqueuer
	log   logging.Logger
}

// New returns a Transport delegating to next (http.DefaultTransport when
// nil). queue may be nil to disable offline deferral of mutations.
func New(next http.RoundTripper, cache Cache, queue Enqueuer, log logging.Logger) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{next: next, cache: cache, queue: queue, log: log}
}

// RoundTrip applies the class strategy for GETs, defers queueable POSTs
// when the wire fails, and passes everything else through.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet {
		switch Classify(req) {
		case ClassImage:
			return t.cacheFirst(req, t.imageFallback)
		case ClassAsset:
			return t.cacheFirst(req, nil)
		case ClassAPI:
			return t.networkFirst(req, t.apiFallback)
		default:
			return t.networkFirst(req, t.pageFallback)
		}
	}

	if req.Method == http.MethodPost {
		if kind, ok := deferrableEndpoints[req.URL.Path]; ok && t.queue != nil {
			return t.postWithDeferral(req, kind)
		}
	}

	return t.next.RoundTrip(req)
}

// networkFirst tries the wire, memoizes successes, and falls back to the
// cache (then the class fallback) when the network is unavailable.
func (t *Transport) networkFirst(req *http.Request, fallback func(*http.Request) *http.Response) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err == nil {
		// Only successes are memoized; a cached 404 or 401 body must
		// never come back later looking like data.
		if resp.StatusCode < 400 {
			t.memoize(req, resp)
		}
		return resp, nil
	}

	if cached, ctype, cerr := t.cache.GetCachedResponse(req.Context(), cacheKey(req)); cerr == nil {
		return cachedResponse(req, cached, ctype), nil
	}

	if fallback != nil {
		return fallback(req), nil
	}
	return nil, err
}

// cacheFirst serves a fresh cached copy when present, hitting the wire
// only on a cache miss.
func (t *Transport) cacheFirst(req *http.Request, fallback func(*http.Request) *http.Response) (*http.Response, error) {
	if cached, ctype, err := t.cache.GetCachedResponse(req.Context(), cacheKey(req)); err == nil {
		return cachedResponse(req, cached, ctype), nil
	}

	resp, err := t.next.RoundTrip(req)
	if err == nil && resp.StatusCode < 400 {
		t.memoize(req, resp)
		return resp, nil
	}
	if err == nil {
		// Propagate HTTP-level errors untouched.
		return resp, nil
	}

	if fallback != nil {
		return fallback(req), nil
	}
	return nil, err
}

// postWithDeferral forwards the POST and, if the wire is down, queues the
// body as a pending record so the sync engine replays it later.
func (t *Transport) postWithDeferral(req *http.Request, kind store.RecordKind) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body))

	resp, rtErr := t.next.RoundTrip(req)
	if rtErr == nil {
		return resp, nil
	}

	priority := store.PriorityMedium
	if kind == store.KindAppointment {
		priority = store.PriorityHigh
	}

	id, qErr := t.queue.StoreRecord(req.Context(), kind, body, priority)
	if qErr != nil {
		t.log.Error(req.Context(), "failed to queue deferred submission", "path", req.URL.Path, "error", qErr)
		return nil, rtErr
	}
	t.log.Info(req.Context(), "submission queued for background sync", "path", req.URL.Path, "offline_id", id)

	payload, _ := json.Marshal(map[string]any{"queued": true, "offline_id": id})
	return syntheticResponse(req, http.StatusAccepted, "application/json", payload), nil
}

// memoize stores a successful response body and rewinds it for the caller.
func (t *Transport) memoize(req *http.Request, resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return
	}
	if err := t.cache.CacheResponse(req.Context(), cacheKey(req), body, classTag(Classify(req)), resp.Header.Get("Content-Type")); err != nil {
		t.log.Warn(req.Context(), "failed to cache response", "url", cacheKey(req), "error", err)
	}
}

func (t *Transport) apiFallback(req *http.Request) *http.Response {
	payload, _ := json.Marshal(map[string]any{
		"error":   "offline",
		"message": "sem ligação; tente novamente mais tarde",
	})
	return syntheticResponse(req, http.StatusServiceUnavailable, "application/json", payload)
}

func (t *Transport) pageFallback(req *http.Request) *http.Response {
	return syntheticResponse(req, http.StatusOK, "text/html; charset=utf-8", []byte(offlinePage))
}

func (t *Transport) imageFallback(req *http.Request) *http.Response {
	return syntheticResponse(req, http.StatusOK, "image/svg+xml", []byte(imagePlaceholder))
}

func cacheKey(req *http.Request) string {
	return req.URL.RequestURI()
}

func classTag(c ResourceClass) string {
	switch c {
	case ClassAPI:
		return "api"
	case ClassImage:
		return "image"
	case ClassAsset:
		return "asset"
	default:
		return "page"
	}
}

func cachedResponse(req *http.Request, body []byte, contentType string) *http.Response {
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	resp := syntheticResponse(req, http.StatusOK, contentType, body)
	resp.Header.Set("X-Served-From", "cache")
	return resp
}

func syntheticResponse(req *http.Request, status int, contentType string, body []byte) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", contentType)
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
