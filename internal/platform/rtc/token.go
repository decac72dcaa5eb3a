// Package rtc integrates with the real-time media provider: it signs the
// short-lived access credentials participants use to join a channel, talks to
// the provider's HTTP control plane for server-side recording, and runs the
// client-side credential renewal watchdog.
package rtc

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role determines what a credential lets its holder do in the channel.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// TTL bounds for issued credentials.
const (
	MinTokenTTL = time.Minute
	MaxTokenTTL = 24 * time.Hour
)

// Credential is a signed token pair scoped to one channel/identity/role.
// It is never persisted; holders renew before ExpiresAt or lose the session.
type Credential struct {
	MediaToken     string    `json:"media_token"`
	SignalingToken string    `json:"signaling_token"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// TokenClaims is the signed payload of a media or signaling token. The
// signature covers channel, identity, role, and expiry, so a token cannot be
// replayed against a different channel or stretched past its expiry.
type TokenClaims struct {
	jwt.RegisteredClaims
	AppID    string `json:"app_id"`
	Channel  string `json:"channel"`
	Identity string `json:"uid"`
	Role     string `json:"role"`
	Service  string `json:"svc"`
}

const (
	serviceMedia     = "media"
	serviceSignaling = "signaling"
)

// Issuer mints credential pairs. The signing secret lives only server-side.
type Issuer struct {
	appID  string
	secret []byte
}

// NewIssuer validates the signing configuration up front; a missing or weak
// secret is a startup-class error, not a per-request one.
func NewIssuer(appID, secret string) (*Issuer, error) {
	if appID == "" {
		return nil, fmt.Errorf("rtc: app id is required")
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("rtc: signing secret must be at least 32 bytes, got %d", len(secret))
	}
	return &Issuer{appID: appID, secret: []byte(secret)}, nil
}

// Issue signs a media/signaling token pair for the given channel and identity.
func (i *Issuer) Issue(channel, identity string, role Role, ttl time.Duration) (*Credential, error) {
	if channel == "" {
		return nil, fmt.Errorf("rtc: channel is required")
	}
	if identity == "" {
		return nil, fmt.Errorf("rtc: identity is required")
	}
	if role != RolePublisher && role != RoleSubscriber {
		return nil, fmt.Errorf("rtc: invalid role %q", role)
	}
	if ttl < MinTokenTTL || ttl > MaxTokenTTL {
		return nil, fmt.Errorf("rtc: ttl must be between %s and %s, got %s", MinTokenTTL, MaxTokenTTL, ttl)
	}

	now := time.Now()
	expiresAt := now.Add(ttl)

	mediaToken, err := i.sign(channel, identity, role, serviceMedia, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("rtc: sign media token: %w", err)
	}
	signalingToken, err := i.sign(channel, identity, role, serviceSignaling, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("rtc: sign signaling token: %w", err)
	}

	return &Credential{
		MediaToken:     mediaToken,
		SignalingToken: signalingToken,
		ExpiresAt:      expiresAt,
	}, nil
}

func (i *Issuer) sign(channel, identity string, role Role, service string, now, expiresAt time.Time) (string, error) {
	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AppID:    i.appID,
		Channel:  channel,
		Identity: identity,
		Role:     string(role),
		Service:  service,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Decode verifies a token's signature and returns its claims. Used by the
// signaling gateway and by tests.
func (i *Issuer) Decode(tokenStr string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("rtc: decode token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("rtc: token invalid")
	}
	return claims, nil
}
