package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/useraccounts/apiserver/types"
)

const userColumns = `id, email, password_hash, first_name, last_name, verified,
		verification_token, verification_sent_at, account_created, account_updated`

// UserRepository handles persistence for users.
type UserRepository struct {
	db      *sql.DB
	timeout time.Duration
}

func NewUserRepository(db *sql.DB, timeout time.Duration) *UserRepository {
	return &UserRepository{db: db, timeout: timeout}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail matches the stored email exactly.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// FindByEmailFold matches the email case-insensitively. When several stored
// addresses differ only by case, the oldest account wins.
func (r *UserRepository) FindByEmailFold(ctx context.Context, email string) (types.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + userColumns + `
		FROM users
		WHERE LOWER(email) = LOWER($1)
		ORDER BY account_created
		LIMIT 1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	now := time.Now().UTC()
	user.AccountCreated = now
	user.AccountUpdated = now

	const query = `
		INSERT INTO users (id, email, password_hash, first_name, last_name, verified,
			verification_token, verification_sent_at, account_created, account_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Verified,
		user.VerificationToken,
		user.VerificationSentAt,
		user.AccountCreated,
		user.AccountUpdated,
	); err != nil {
		return types.User{}, translateError(err)
	}
	return user, nil
}

// ProfileChanges lists the self-service columns to overwrite. Nil fields
// keep their stored value.
type ProfileChanges struct {
	FirstName    *string
	LastName     *string
	PasswordHash *string
}

// UpdateProfile writes only the self-service columns and returns the stored
// row. Verification state is never touched here.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, changes ProfileChanges) (types.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE users
		SET first_name = COALESCE($1, first_name),
			last_name = COALESCE($2, last_name),
			password_hash = COALESCE($3, password_hash),
			account_updated = $4
		WHERE id = $5
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(
		ctx,
		query,
		changes.FirstName,
		changes.LastName,
		changes.PasswordHash,
		time.Now().UTC(),
		id,
	))
}

// MarkVerified flips the account to verified and clears its token, but only
// while the account is unverified and still holds token. ErrNotFound means
// no row was in that state.
func (r *UserRepository) MarkVerified(ctx context.Context, id, token string) (types.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE users
		SET verified = true,
			verification_token = NULL,
			verification_sent_at = NULL,
			account_updated = $1
		WHERE id = $2 AND verified = false AND verification_token = $3
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, time.Now().UTC(), id, token))
}

func scanUser(row *sql.Row) (types.User, error) {
	var (
		user   types.User
		token  sql.NullString
		sentAt sql.NullTime
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Verified,
		&token,
		&sentAt,
		&user.AccountCreated,
		&user.AccountUpdated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	if token.Valid {
		user.VerificationToken = &token.String
	}
	if sentAt.Valid {
		user.VerificationSentAt = &sentAt.Time
	}
	return user, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
