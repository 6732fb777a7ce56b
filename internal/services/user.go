package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/useraccounts/apiserver/internal/auth"
	"github.com/useraccounts/apiserver/internal/logging"
	"github.com/useraccounts/apiserver/internal/store"
	"github.com/useraccounts/apiserver/types"
)

const dispatchTimeout = 5 * time.Second

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	FindByEmailFold(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateProfile(ctx context.Context, id string, changes store.ProfileChanges) (types.User, error)
	MarkVerified(ctx context.Context, id, token string) (types.User, error)
}

// CreateUserInput carries a validated signup request.
type CreateUserInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// UpdateUserInput carries a validated self-update. Nil fields are left unchanged.
type UpdateUserInput struct {
	FirstName *string
	LastName  *string
	Password  *string
}

// UserService encapsulates account use-cases.
type UserService struct {
	repo            UserRepository
	hasher          auth.Hasher
	tokens          *TokenIssuer
	notifier        Notifier
	log             logging.Logger
	requireVerified bool
	now             func() time.Time
}

// NewUserService wires the account use-cases. notifier may be nil, in which
// case verification messages are not dispatched.
func NewUserService(
	repo UserRepository,
	hasher auth.Hasher,
	tokens *TokenIssuer,
	notifier Notifier,
	log logging.Logger,
	requireVerified bool,
) *UserService {
	return &UserService{
		repo:            repo,
		hasher:          hasher,
		tokens:          tokens,
		notifier:        notifier,
		log:             log,
		requireVerified: requireVerified,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

// Create registers a new account and issues its verification token. The
// existence check is an early exit; the unique constraint on email decides races.
func (s *UserService) Create(ctx context.Context, in CreateUserInput) (types.User, error) {
	if _, err := s.repo.GetByEmail(ctx, in.Email); err == nil {
		return types.User{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, err
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	id := uuid.NewString()
	sentAt := s.now()
	token, err := s.tokens.Issue(id, sentAt)
	if err != nil {
		return types.User{}, fmt.Errorf("issue verification token: %w", err)
	}

	user, err := s.repo.Create(ctx, types.User{
		ID:                 id,
		Email:              in.Email,
		FirstName:          in.FirstName,
		LastName:           in.LastName,
		PasswordHash:       digest,
		VerificationToken:  &token,
		VerificationSentAt: &sentAt,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, ErrEmailTaken
		}
		return types.User{}, err
	}

	s.dispatchVerification(ctx, user, token, sentAt)
	return user, nil
}

// Authenticate resolves Basic-Auth credentials to a user. Unknown emails and
// wrong passwords both cost one hash comparison and yield ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	user, err := s.repo.FindByEmailFold(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.hasher.Burn(password)
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return types.User{}, ErrInvalidCredentials
	}
	if s.requireVerified && !user.Verified {
		return types.User{}, ErrUnverified
	}
	return user, nil
}

// Update applies a self-update. Only the supplied fields are written, so a
// stale copy of user cannot roll back verification state. A new password is re-hashed.
func (s *UserService) Update(ctx context.Context, user types.User, in UpdateUserInput) (types.User, error) {
	if in.FirstName == nil && in.LastName == nil && in.Password == nil {
		return types.User{}, ErrNothingToUpdate
	}
	changes := store.ProfileChanges{FirstName: in.FirstName, LastName: in.LastName}
	if in.Password != nil {
		digest, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return types.User{}, fmt.Errorf("hash password: %w", err)
		}
		changes.PasswordHash = &digest
	}
	return s.repo.UpdateProfile(ctx, user.ID, changes)
}

// Verify consumes a verification token. The token must equal the stored one,
// carry a valid signature for the user and be used within the validity window
// measured from when it was sent. A verified account accepts no further tokens;
// the store applies the transition only while the token is outstanding, so
// concurrent requests with one token succeed at most once.
func (s *UserService) Verify(ctx context.Context, email, token string) (types.User, error) {
	user, err := s.repo.FindByEmailFold(ctx, email)
	if err != nil {
		return types.User{}, err
	}
	if user.Verified {
		return types.User{}, ErrAlreadyVerified
	}
	if user.VerificationToken == nil || user.VerificationSentAt == nil {
		return types.User{}, ErrTokenInvalid
	}
	if !tokensEqual(*user.VerificationToken, token) {
		return types.User{}, ErrTokenInvalid
	}

	now := s.now()
	if err := s.tokens.Validate(token, user.ID, now); err != nil {
		return types.User{}, err
	}
	if now.Sub(*user.VerificationSentAt) > s.tokens.TTL() {
		return types.User{}, ErrTokenExpired
	}

	verified, err := s.repo.MarkVerified(ctx, user.ID, token)
	if errors.Is(err, store.ErrNotFound) {
		current, getErr := s.repo.GetByID(ctx, user.ID)
		if getErr != nil {
			return types.User{}, getErr
		}
		if current.Verified {
			return types.User{}, ErrAlreadyVerified
		}
		return types.User{}, ErrTokenInvalid
	}
	return verified, err
}

func (s *UserService) dispatchVerification(ctx context.Context, user types.User, token string, sentAt time.Time) {
	if s.notifier == nil {
		s.log.Warn(ctx, "verification dispatch disabled", "user_id", user.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()

	msg := VerificationMessage{
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		Token:     token,
		ExpiresAt: sentAt.Add(s.tokens.TTL()),
	}
	if err := s.notifier.SendVerification(ctx, msg); err != nil {
		s.log.Error(ctx, "verification dispatch failed", "user_id", user.ID, "error", err)
		return
	}
	s.log.Info(ctx, "verification dispatched", "user_id", user.ID)
}
