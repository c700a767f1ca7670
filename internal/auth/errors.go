package auth

import "errors"

// Sentinel errors for the auth layer.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrConnectionNotFound = errors.New("provider connection not found")
)
