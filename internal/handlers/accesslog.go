package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/useraccounts/apiserver/internal/logging"
)

// AccessLog writes one record per request through log. Only the path is
// recorded; query strings can carry verification tokens.
func AccessLog(log logging.Logger) func(http.Handler) http.Handler {
	return middleware.RequestLogger(&accessLogFormatter{log: log})
}

type accessLogFormatter struct {
	log logging.Logger
}

func (f *accessLogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &accessLogEntry{log: f.log, r: r}
}

type accessLogEntry struct {
	log logging.Logger
	r   *http.Request
}

func (e *accessLogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	args := []any{
		"method", e.r.Method,
		"path", e.r.URL.Path,
		"status", status,
		"bytes", bytes,
		"duration", elapsed,
		"remote", e.r.RemoteAddr,
		"request_id", middleware.GetReqID(e.r.Context()),
	}
	if status >= http.StatusInternalServerError {
		e.log.Error(e.r.Context(), "request", args...)
		return
	}
	e.log.Info(e.r.Context(), "request", args...)
}

func (e *accessLogEntry) Panic(v any, stack []byte) {
	e.log.Error(e.r.Context(), "panic",
		"path", e.r.URL.Path,
		"panic", fmt.Sprint(v),
		"stack", string(stack),
	)
}
