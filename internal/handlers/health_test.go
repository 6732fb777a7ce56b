package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/useraccounts/apiserver/internal/logging"
)

func TestRequireDatabase(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	t.Run("unreachable", func(t *testing.T) {
		h := RequireDatabase(pinger{err: errors.New("connection refused")}, time.Second, logging.Nop())(next)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	})

	t.Run("reachable", func(t *testing.T) {
		h := RequireDatabase(pinger{}, time.Second, logging.Nop())(next)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("nil pinger", func(t *testing.T) {
		h := RequireDatabase(nil, time.Second, logging.Nop())(next)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"plain", httptest.NewRequest(http.MethodGet, "/healthz", nil), http.StatusOK},
		{"query", httptest.NewRequest(http.MethodGet, "/healthz?verbose=1", nil), http.StatusBadRequest},
		{"body", httptest.NewRequest(http.MethodGet, "/healthz", strings.NewReader("{}")), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Healthz(rec, tt.req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
			assert.Empty(t, rec.Body.String())
		})
	}
}
