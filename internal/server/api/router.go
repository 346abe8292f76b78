package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clinsync/internal/logging"
	"clinsync/internal/server/api/middleware"
)

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	records RecordService
	docs    DocumentService
	audit   AuditSink
	log     logging.Logger
}

// NewHandlers returns the handler set.
func NewHandlers(records RecordService, docs DocumentService, audit AuditSink, log logging.Logger) *Handlers {
	return &Handlers{records: records, docs: docs, audit: audit, log: log}
}

// NewRouter assembles the chi router: health and metrics are open,
// everything under /api requires a bearer token.
func NewRouter(h *Handlers, jwtSecret []byte, reg *prometheus.Registry, log logging.Logger) (http.Handler, error) {
	metrics, err := middleware.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger(log))
	r.Use(metrics.Handler)

	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(jwtSecret, log))

		r.Post("/api/appointments", h.ingestRecord("appointment"))
		r.Post("/api/messages", h.ingestRecord("message"))
		r.Post("/api/vital-signs", h.ingestRecord("vital_signs"))
		r.Post("/api/prescriptions", h.ingestRecord("prescription"))
		r.Post("/api/consultations", h.ingestRecord("consultation_notes"))

		r.Post("/api/documents/upload", h.uploadDocument)
		r.Get("/api/documents/{id}/metadata", h.documentMetadata)
		r.Get("/api/documents/{id}/download", h.downloadDocument)
		r.Patch("/api/documents/{id}/access", h.recordDocumentAccess)
		r.Post("/api/documents/{id}/share", h.shareDocument)
		r.Delete("/api/documents/{id}", h.deleteDocument)

		r.Post("/api/audit/document-access", h.ingestAuditEvent)
	})

	return r, nil
}
