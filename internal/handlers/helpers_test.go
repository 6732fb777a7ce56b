package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/useraccounts/apiserver/internal/logging"
	"github.com/useraccounts/apiserver/internal/services"
	"github.com/useraccounts/apiserver/internal/store"
	"github.com/useraccounts/apiserver/types"
)

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	return "hashed:" + password, nil
}

func (plainHasher) Verify(password, digest string) bool {
	return digest == "hashed:"+password
}

func (plainHasher) Burn(string) {}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memObjects) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjects) URL(key string) string {
	return "http://objects.test/profile-images/" + key
}

func (m *memObjects) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

type pinger struct {
	err error
}

func (p pinger) PingContext(ctx context.Context) error {
	return p.err
}

type testEnv struct {
	users   *store.MemoryUserRepository
	images  *store.MemoryImageRepository
	objects *memObjects
	router  http.Handler
}

type envOptions struct {
	requireVerified bool
	noStorage       bool
	limiter         *RateLimiter
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	log := logging.Nop()
	tokens, err := services.NewTokenIssuer([]byte("test-secret"), 2*time.Minute)
	require.NoError(t, err)

	env := &testEnv{
		users:   store.NewMemoryUserRepository(),
		images:  store.NewMemoryImageRepository(),
		objects: newMemObjects(),
	}

	userService := services.NewUserService(env.users, plainHasher{}, tokens, nil, log, opts.requireVerified)
	var objects services.ObjectStore
	if !opts.noStorage {
		objects = env.objects
	}
	imageService := services.NewImageService(env.images, objects, log, 1<<10)

	limit := opts.limiter.Middleware
	authMiddleware := RequireBasicAuth(userService, log)
	userHandler := NewUserHandler(userService, log)
	imageHandler := NewImageHandler(imageService, log)

	r := chi.NewRouter()
	r.MethodNotAllowed(MethodNotAllowed)
	r.NotFound(NotFound)
	r.Route("/v1/user", func(r chi.Router) {
		UserRouter(r, userHandler, authMiddleware, limit)
		r.Route("/self/pic", func(r chi.Router) {
			ImageRouter(r, imageHandler, authMiddleware, limit)
		})
	})
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signup(t *testing.T, email, password string) types.User {
	t.Helper()
	body := `{"first_name":"John","last_name":"Doe","email":"` + email + `","password":"` + password + `"}`
	rec := e.do(t, jsonRequest(http.MethodPost, "/v1/user", body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	user, err := e.users.GetByEmail(context.Background(), email)
	require.NoError(t, err)
	return user
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withBasicAuth(req *http.Request, email, password string) *http.Request {
	creds := base64.StdEncoding.EncodeToString([]byte(email + ":" + password))
	req.Header.Set("Authorization", "Basic "+creds)
	return req
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type formFile struct {
	field    string
	fileName string
	data     []byte
}

func multipartRequest(t *testing.T, target string, files []formFile, values map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.fileName)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
