// Package api is the HTTP surface of the clinic server: the record
// ingest endpoints the agents drain their queues into, the encrypted
// document pipeline and the audit sink.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"clinsync/internal/common"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the sentinel errors to HTTP statuses. Unknown errors
// become opaque 500s so internals never leak to clients.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, common.ErrAccessDenied):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "access denied"})
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
