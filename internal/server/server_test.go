package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/useraccounts/apiserver/config"
	"github.com/useraccounts/apiserver/internal/auth"
	"github.com/useraccounts/apiserver/internal/logging"
	"github.com/useraccounts/apiserver/internal/services"
	"github.com/useraccounts/apiserver/internal/store"
)

type switchPinger struct {
	down bool
}

func (p *switchPinger) PingContext(ctx context.Context) error {
	if p.down {
		return errors.New("connection refused")
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Verification: config.VerificationConfig{TokenTTL: 2 * time.Minute},
		Upload:       config.UploadConfig{MaxImageBytes: 1 << 20},
		Timeouts:     config.TimeoutConfig{Database: time.Second},
	}
}

func newTestRouter(t *testing.T, cfg config.Config, p *switchPinger) http.Handler {
	t.Helper()
	hasher, err := auth.NewBcryptHasher(auth.DefaultCost)
	require.NoError(t, err)
	tokens, err := services.NewTokenIssuer([]byte("secret"), cfg.Verification.TokenTTL)
	require.NoError(t, err)

	return NewRouter(cfg, Dependencies{
		Pinger: p,
		Users:  store.NewMemoryUserRepository(),
		Images: store.NewMemoryImageRepository(),
		Hasher: hasher,
		Tokens: tokens,
		Log:    logging.Nop(),
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_SignupScenario(t *testing.T) {
	router := newTestRouter(t, testConfig(), &switchPinger{})
	signup := `{"first_name":"John","last_name":"Doe","email":"j@example.com","password":"Password123"}`

	rec := serve(router, httptest.NewRequest(http.MethodPost, "/v1/user", strings.NewReader(signup)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "j@example.com", created["email"])
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	req := httptest.NewRequest(http.MethodGet, "/v1/user/self", nil)
	req.SetBasicAuth("j@example.com", "Password123")
	rec = serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var self map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &self))
	assert.Equal(t, "John", self["firstName"])

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = serve(router, httptest.NewRequest(http.MethodPost, "/v1/user", strings.NewReader(signup)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_HealthGate(t *testing.T) {
	p := &switchPinger{}
	router := newTestRouter(t, testConfig(), p)

	rec := serve(router, httptest.NewRequest(http.MethodHead, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	rec = serve(router, httptest.NewRequest(http.MethodPut, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	p.down = true
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/healthz", nil),
		httptest.NewRequest(http.MethodPut, "/healthz", nil),
		httptest.NewRequest(http.MethodPost, "/v1/user", strings.NewReader(`{}`)),
		httptest.NewRequest(http.MethodGet, "/v1/user/self", nil),
	} {
		rec := serve(router, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, req.Method+" "+req.URL.Path)
		assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	}

	p.down = false
	rec = serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t, testConfig(), &switchPinger{})

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/v2/user", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_ImageRoutesWithoutStorage(t *testing.T) {
	router := newTestRouter(t, testConfig(), &switchPinger{})
	signup := `{"first_name":"John","last_name":"Doe","email":"j@example.com","password":"Password123"}`
	rec := serve(router, httptest.NewRequest(http.MethodPost, "/v1/user", strings.NewReader(signup)))
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/user/self/pic", nil)
	req.SetBasicAuth("j@example.com", "Password123")
	rec = serve(router, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_CORS(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.AllowedOrigins = []string{"https://app.example.com"}
	router := newTestRouter(t, cfg, &switchPinger{})

	req := httptest.NewRequest(http.MethodOptions, "/v1/user/self", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := serve(router, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.RateLimitRPS = 0.001
	cfg.HTTP.RateLimitBurst = 1
	router := newTestRouter(t, cfg, &switchPinger{})

	req := httptest.NewRequest(http.MethodGet, "/v1/user/self", nil)
	rec := serve(router, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/v1/user/self", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
