package services

import "errors"

var (
	// account errors
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnverified         = errors.New("account not verified")
	ErrNothingToUpdate    = errors.New("no fields to update")

	// verification errors
	ErrTokenInvalid    = errors.New("invalid verification token")
	ErrTokenExpired    = errors.New("verification token expired")
	ErrAlreadyVerified = errors.New("account already verified")

	// profile image errors
	ErrImageExists     = errors.New("profile image already exists")
	ErrImageNotFound   = errors.New("profile image not found")
	ErrInvalidImage    = errors.New("only jpeg and png images are accepted")
	ErrImageTooLarge   = errors.New("image exceeds size limit")
	ErrStorageDisabled = errors.New("image storage is not configured")
)
