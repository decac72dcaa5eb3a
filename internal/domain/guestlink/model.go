package guestlink

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GuestAccessToken maps to the guest_access_token table: a scoped capability
// that lets an unauthenticated party join one specific session.
type GuestAccessToken struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Token        string     `db:"token" json:"token"`
	SessionID    uuid.UUID  `db:"session_id" json:"session_id"`
	GuestName    *string    `db:"guest_name" json:"guest_name,omitempty"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expires_at"`
	MaxUses      int        `db:"max_uses" json:"max_uses"`
	AccessCount  int        `db:"access_count" json:"access_count"`
	IsRevoked    bool       `db:"is_revoked" json:"is_revoked"`
	AccessedByIP *string    `db:"accessed_by_ip" json:"accessed_by_ip,omitempty"`
	UsedAt       *time.Time `db:"used_at" json:"used_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Usable reports whether the token would pass validation at the given time,
// ignoring session status. The authoritative check-and-increment happens in
// the repository; this is for diagnostics and tests.
func (t *GuestAccessToken) Usable(now time.Time) bool {
	return !t.IsRevoked && now.Before(t.ExpiresAt) && t.AccessCount < t.MaxUses
}

// newToken returns an unguessable opaque token.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GuestIdentityPrefix namespaces guest identities so they are distinguishable
// from authenticated participant uids everywhere they appear.
const GuestIdentityPrefix = "guest-"

// NewGuestIdentity mints a fresh namespaced identity for one admitted guest.
func NewGuestIdentity() string {
	return GuestIdentityPrefix + uuid.New().String()
}
