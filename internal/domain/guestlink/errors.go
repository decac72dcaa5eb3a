package guestlink

import "errors"

// Validation failures are four genuinely different situations; each gets its
// own error so the caller-facing UI can explain why a link stopped working.
var (
	ErrNotFound        = errors.New("guest link not found")
	ErrExpired         = errors.New("guest link expired")
	ErrRevoked         = errors.New("guest link revoked")
	ErrExhausted       = errors.New("guest link already used")
	ErrSessionNotReady = errors.New("session is not accepting guests")

	ErrNotAuthorized     = errors.New("not authorized to manage guest links")
	ErrInvalidExpiration = errors.New("expiration must be between 1 and 24 hours")
)
