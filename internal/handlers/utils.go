package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/useraccounts/apiserver/types"
)

type contextKey string

const contextUserKey contextKey = "user"

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is returned by endpoints that have nothing else to say.
type MessageResponse struct {
	Message string `json:"message"`
}

func withUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

// UserFromContext returns the account resolved by RequireBasicAuth.
func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok && user.ID != ""
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache")
}

// hasBody reports whether the request carries a body. An unknown length
// (chunked upload) counts as a body.
func hasBody(r *http.Request) bool {
	return r.ContentLength != 0
}

// MethodNotAllowed answers methods a defined path does not support.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	noCache(w)
	w.WriteHeader(http.StatusMethodNotAllowed)
}

// NotFound answers unknown paths.
func NotFound(w http.ResponseWriter, r *http.Request) {
	noCache(w)
	writeError(w, http.StatusNotFound, "not found")
}
