package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/useraccounts/apiserver/internal/logging"
	"github.com/useraccounts/apiserver/internal/services"
	"github.com/useraccounts/apiserver/internal/store"
)

const basicRealm = `Basic realm="accounts", charset="UTF-8"`

// RequireBasicAuth resolves the Basic-Auth credentials of the request to an
// account and stores it in the request context.
func RequireBasicAuth(users *services.UserService, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email, password, ok := r.BasicAuth()
			email = strings.TrimSpace(email)
			if !ok || email == "" {
				unauthorized(w)
				return
			}

			user, err := users.Authenticate(r.Context(), email, password)
			switch {
			case err == nil:
			case errors.Is(err, services.ErrInvalidCredentials):
				unauthorized(w)
				return
			case errors.Is(err, services.ErrUnverified):
				writeError(w, http.StatusForbidden, "account not verified")
				return
			case store.IsUnavailable(err):
				log.Error(r.Context(), "authentication lookup failed", "error", err)
				writeError(w, http.StatusServiceUnavailable, "service unavailable")
				return
			default:
				log.Error(r.Context(), "authentication failed", "error", err)
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", basicRealm)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}
