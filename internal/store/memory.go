package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/useraccounts/apiserver/types"
)

// MemoryUserRepository keeps users in process. It applies the same email
// uniqueness rule as the users table.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]types.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]types.User)}
}

// PingContext always succeeds; it lets the health gate treat the memory store like a database.
func (r *MemoryUserRepository) PingContext(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, ErrNotFound
}

func (r *MemoryUserRepository) FindByEmailFold(ctx context.Context, email string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []types.User
	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			matches = append(matches, user)
		}
	}
	if len(matches) == 0 {
		return types.User{}, ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].AccountCreated.Before(matches[j].AccountCreated)
	})
	return matches[0], nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, ErrConflict
		}
	}
	now := time.Now().UTC()
	user.AccountCreated = now
	user.AccountUpdated = now
	r.users[user.ID] = user
	return user, nil
}

func (r *MemoryUserRepository) UpdateProfile(ctx context.Context, id string, changes ProfileChanges) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, ErrNotFound
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
	user.AccountUpdated = time.Now().UTC()
	r.users[id] = user
	return user, nil
}

func (r *MemoryUserRepository) MarkVerified(ctx context.Context, id, token string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || user.Verified || user.VerificationToken == nil || *user.VerificationToken != token {
		return types.User{}, ErrNotFound
	}
	user.Verified = true
	user.VerificationToken = nil
	user.VerificationSentAt = nil
	user.AccountUpdated = time.Now().UTC()
	r.users[id] = user
	return user, nil
}

// MemoryImageRepository keeps profile image metadata in process, one per user.
type MemoryImageRepository struct {
	mu     sync.RWMutex
	images map[string]types.ProfileImage
}

func NewMemoryImageRepository() *MemoryImageRepository {
	return &MemoryImageRepository{images: make(map[string]types.ProfileImage)}
}

func (r *MemoryImageRepository) GetByUserID(ctx context.Context, userID string) (types.ProfileImage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	image, ok := r.images[userID]
	if !ok {
		return types.ProfileImage{}, ErrNotFound
	}
	return image, nil
}

func (r *MemoryImageRepository) Create(ctx context.Context, image types.ProfileImage) (types.ProfileImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.images[image.UserID]; ok {
		return types.ProfileImage{}, ErrConflict
	}
	r.images[image.UserID] = image
	return image, nil
}

func (r *MemoryImageRepository) DeleteByUserID(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.images[userID]; !ok {
		return ErrNotFound
	}
	delete(r.images, userID)
	return nil
}
