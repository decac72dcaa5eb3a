package guestlink

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, token *GuestAccessToken) error

	// GetByToken returns the token row, or nil if it does not exist.
	GetByToken(ctx context.Context, token string) (*GuestAccessToken, error)

	// Consume performs the atomic check-and-increment: in one conditional
	// update it verifies the token is unexpired, unrevoked, under its use
	// limit, and bound to a session in an admittable status, then
	// increments access_count and records the consuming IP and time.
	// Returns (nil, nil) when the condition did not hold; the caller
	// diagnoses which clause failed.
	Consume(ctx context.Context, token, ip string, now time.Time) (*GuestAccessToken, error)

	// Revoke disables the token immediately, regardless of remaining uses
	// or expiry.
	Revoke(ctx context.Context, token string) error
}
