// Package common defines shared constants and sentinel errors used across
// the agent and server layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable means the local durable store could not be
	// opened. Non-fatal: callers degrade to online-only mode.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// Document validation errors, surfaced before any cipher work.
	ErrFileTooLarge        = errors.New("file exceeds maximum size")
	ErrUnsupportedFileType = errors.New("file type not allowed for category")

	// ErrDecryptionFailed is deliberately opaque: an AEAD open failure does
	// not distinguish a wrong passphrase from corrupted ciphertext.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrAccessDenied means the permission map has no unexpired grant for
	// the requested action.
	ErrAccessDenied = errors.New("access denied")

	// Service-level errors.
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")

	// Auth errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
