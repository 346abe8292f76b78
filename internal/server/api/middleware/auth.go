package middleware

import (
	"context"
	"net/http"
	"strings"

	"clinsync/internal/logging"
	"clinsync/internal/server/auth"
)

// Authenticate validates the Bearer token on every request and stores
// the patient ID in the context. Requests without a valid token get 401.
func Authenticate(secret []byte, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			patientID, err := auth.GetPatientIDFromToken(token, secret)
			if err != nil {
				log.Debug(r.Context(), "token rejected", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), patientIDKey, patientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPatientID returns the authenticated patient ID stored by
// Authenticate.
func GetPatientID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(patientIDKey).(string)
	return id, ok && id != ""
}
