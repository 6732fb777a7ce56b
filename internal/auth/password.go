// Package auth holds the password hashing used for account credentials.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used for new password digests.
const DefaultCost = 10

// MaxPasswordBytes is the longest input bcrypt reads; later bytes are ignored by it.
const MaxPasswordBytes = 72

// Hasher produces and checks salted password digests.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
	Burn(password string)
}

// BcryptHasher implements Hasher with bcrypt. Each digest embeds its own salt.
type BcryptHasher struct {
	cost  int
	dummy []byte
}

// NewBcryptHasher returns a hasher with the given cost, clamped to at least DefaultCost.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < DefaultCost {
		cost = DefaultCost
	}
	if cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d exceeds maximum %d", cost, bcrypt.MaxCost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("timing-parity-placeholder"), cost)
	if err != nil {
		return nil, err
	}
	return &BcryptHasher{cost: cost, dummy: dummy}, nil
}

// Hash returns a bcrypt digest of password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	if len(password) > MaxPasswordBytes {
		return "", fmt.Errorf("password exceeds %d bytes", MaxPasswordBytes)
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether password matches digest. A password longer than
// MaxPasswordBytes never matches; it still costs one comparison.
func (h *BcryptHasher) Verify(password, digest string) bool {
	if len(password) > MaxPasswordBytes {
		h.Burn(password[:MaxPasswordBytes])
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// Burn runs a comparison against a throwaway digest so that a lookup miss
// costs the same as a wrong password.
func (h *BcryptHasher) Burn(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}
