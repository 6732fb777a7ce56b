package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/useraccounts/apiserver/internal/store"
	"github.com/useraccounts/apiserver/types"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]types.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]types.User)}
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memUserRepo) FindByEmailFold(ctx context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

// Create enforces email uniqueness the way the table constraint does.
func (r *memUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) UpdateProfile(ctx context.Context, id string, changes store.ProfileChanges) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	if changes.FirstName != nil {
		user.FirstName = *changes.FirstName
	}
	if changes.LastName != nil {
		user.LastName = *changes.LastName
	}
	if changes.PasswordHash != nil {
		user.PasswordHash = *changes.PasswordHash
	}
	r.users[id] = user
	return user, nil
}

// MarkVerified mirrors the conditional UPDATE of the users table.
func (r *memUserRepo) MarkVerified(ctx context.Context, id, token string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || user.Verified || user.VerificationToken == nil || *user.VerificationToken != token {
		return types.User{}, store.ErrNotFound
	}
	user.Verified = true
	user.VerificationToken = nil
	user.VerificationSentAt = nil
	r.users[id] = user
	return user, nil
}

// racyUserRepo lets every existence check miss so concurrent creates reach the constraint.
type racyUserRepo struct {
	*memUserRepo
}

func (r racyUserRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return types.User{}, store.ErrNotFound
}

// slowReadUserRepo widens the gap between reading a user and writing it back.
type slowReadUserRepo struct {
	*memUserRepo
	delay time.Duration
}

func (r slowReadUserRepo) FindByEmailFold(ctx context.Context, email string) (types.User, error) {
	user, err := r.memUserRepo.FindByEmailFold(ctx, email)
	time.Sleep(r.delay)
	return user, err
}

type fakeHasher struct {
	mu    sync.Mutex
	burns int
}

func (h *fakeHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	return "hashed:" + password, nil
}

func (h *fakeHasher) Verify(password, digest string) bool {
	return digest == "hashed:"+password
}

func (h *fakeHasher) Burn(password string) {
	h.mu.Lock()
	h.burns++
	h.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []VerificationMessage
	err  error
}

func (n *recordingNotifier) SendVerification(ctx context.Context, msg VerificationMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

type memImageRepo struct {
	mu        sync.Mutex
	images    map[string]types.ProfileImage
	createErr error
}

func newMemImageRepo() *memImageRepo {
	return &memImageRepo{images: make(map[string]types.ProfileImage)}
}

func (r *memImageRepo) GetByUserID(ctx context.Context, userID string) (types.ProfileImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	image, ok := r.images[userID]
	if !ok {
		return types.ProfileImage{}, store.ErrNotFound
	}
	return image, nil
}

func (r *memImageRepo) Create(ctx context.Context, image types.ProfileImage) (types.ProfileImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return types.ProfileImage{}, r.createErr
	}
	if _, ok := r.images[image.UserID]; ok {
		return types.ProfileImage{}, store.ErrConflict
	}
	r.images[image.UserID] = image
	return image, nil
}

func (r *memImageRepo) DeleteByUserID(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.images[userID]; !ok {
		return store.ErrNotFound
	}
	delete(r.images, userID)
	return nil
}

type memObjectStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	types     map[string]string
	putErr    error
	deleteErr error
	puts      int
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *memObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	m.objects[key] = buf.Bytes()
	m.types[key] = contentType
	return nil
}

func (m *memObjectStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.objects, key)
	return nil
}

func (m *memObjectStore) URL(key string) string {
	return "mem://images/" + key
}

func (m *memObjectStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
