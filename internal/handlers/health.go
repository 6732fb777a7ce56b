package handlers

import (
	"net/http"
	"time"

	"github.com/useraccounts/apiserver/internal/db"
	"github.com/useraccounts/apiserver/internal/logging"
)

// RequireDatabase short-circuits with 503 when the database does not answer
// a ping. Each request probes the connection itself.
func RequireDatabase(p db.Pinger, timeout time.Duration, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !db.Healthy(r.Context(), p, timeout) {
				log.Warn(r.Context(), "database unreachable", "path", r.URL.Path)
				noCache(w)
				writeError(w, http.StatusServiceUnavailable, "service unavailable")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Healthz is the liveness endpoint. It sits behind RequireDatabase, so
// reaching it means the database answered.
func Healthz(w http.ResponseWriter, r *http.Request) {
	noCache(w)
	if hasBody(r) || r.URL.RawQuery != "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}
