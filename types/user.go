package types

import "time"

// User represents an account in the system.
// It contains identity, profile, verification state and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID string `json:"id" db:"id"`

	// Email is the user's login and contact address.
	// Uniqueness is enforced by the database as stored; lookups for
	// authentication compare case-insensitively.
	Email string `json:"email" db:"email"`

	// FirstName is the user's given name.
	FirstName string `json:"firstName" db:"first_name"`

	// LastName is the user's family name.
	LastName string `json:"lastName" db:"last_name"`

	// PasswordHash stores the salted hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Verified reports whether the user has confirmed their email address.
	Verified bool `json:"-" db:"verified"`

	// VerificationToken is the outstanding verification token, if any.
	VerificationToken *string `json:"-" db:"verification_token"`

	// VerificationSentAt is when VerificationToken was issued.
	VerificationSentAt *time.Time `json:"-" db:"verification_sent_at"`

	// AccountCreated is the timestamp when the user account was created.
	AccountCreated time.Time `json:"account_created" db:"account_created"`

	// AccountUpdated is refreshed on every mutation of the account.
	AccountUpdated time.Time `json:"account_updated" db:"account_updated"`
}
