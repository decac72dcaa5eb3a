package guestlink

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/session"
	"github.com/telecare/telecare/internal/platform/rtc"
)

// SessionStore is the slice of the session registry the issuer needs.
// session.Repository satisfies it.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*session.VideoSession, error)
}

// AccessChecker gates issuance and revocation to practice staff.
type AccessChecker interface {
	CanManage(ctx context.Context, uid string, practiceID uuid.UUID) (bool, error)
}

// CredentialIssuer mints the guest's media credential on validation.
type CredentialIssuer interface {
	Issue(channel, identity string, role rtc.Role, ttl time.Duration) (*rtc.Credential, error)
}

const defaultMaxUses = 1

type Service struct {
	repo     Repository
	sessions SessionStore
	access   AccessChecker
	issuer   CredentialIssuer
	baseURL  string
	tokenTTL time.Duration
	logger   zerolog.Logger
}

type ServiceConfig struct {
	Repo     Repository
	Sessions SessionStore
	Access   AccessChecker
	Issuer   CredentialIssuer
	BaseURL  string
	TokenTTL time.Duration
	Logger   zerolog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Service{
		repo:     cfg.Repo,
		sessions: cfg.Sessions,
		access:   cfg.Access,
		issuer:   cfg.Issuer,
		baseURL:  cfg.BaseURL,
		tokenTTL: cfg.TokenTTL,
		logger:   cfg.Logger.With().Str("component", "guestlink").Logger(),
	}
}

// IssuedLink is the issuance result handed back to the inviting staff member.
type IssuedLink struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type IssueParams struct {
	SessionID       uuid.UUID
	CallerUID       string
	ExpirationHours int
	GuestName       string
	MaxUses         int
}

// Issue creates a guest link for a session. Only a provider, owner, or
// active staff member of the session's practice may issue one.
func (s *Service) Issue(ctx context.Context, p IssueParams) (*IssuedLink, error) {
	if p.ExpirationHours < 1 || p.ExpirationHours > 24 {
		return nil, ErrInvalidExpiration
	}

	sess, err := s.sessions.GetByID(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManage(ctx, p.CallerUID, sess.PracticeID); err != nil {
		return nil, err
	}

	tokenStr, err := newToken()
	if err != nil {
		return nil, err
	}

	maxUses := p.MaxUses
	if maxUses <= 0 {
		maxUses = defaultMaxUses
	}

	token := &GuestAccessToken{
		Token:     tokenStr,
		SessionID: p.SessionID,
		ExpiresAt: time.Now().UTC().Add(time.Duration(p.ExpirationHours) * time.Hour),
		MaxUses:   maxUses,
	}
	if p.GuestName != "" {
		token.GuestName = &p.GuestName
	}
	if err := s.repo.Create(ctx, token); err != nil {
		return nil, fmt.Errorf("store guest token: %w", err)
	}

	return &IssuedLink{
		URL:       s.baseURL + "/guest/" + tokenStr,
		Token:     tokenStr,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// SessionInfo is the subset of session state a validated guest needs.
type SessionInfo struct {
	SessionID   uuid.UUID `json:"session_id"`
	ChannelName string    `json:"channel_name"`
	Status      string    `json:"status"`
	GuestName   string    `json:"guest_name,omitempty"`
}

// Validation is the result of a successful guest link validation.
type Validation struct {
	Identity   string          `json:"identity"`
	Credential *rtc.Credential `json:"credential"`
	Session    SessionInfo     `json:"session"`
}

// Validate consumes one use of the token and mints a guest credential. The
// check-and-increment is atomic in the repository, so concurrent validations
// can never admit more guests than max_uses allows. Failures come back as
// one of the distinct sentinel errors, never a collapsed generic one.
func (s *Service) Validate(ctx context.Context, tokenStr, ip string) (*Validation, error) {
	now := time.Now().UTC()

	token, err := s.repo.Consume(ctx, tokenStr, ip, now)
	if err != nil {
		return nil, fmt.Errorf("consume guest token: %w", err)
	}
	if token == nil {
		return nil, s.classifyFailure(ctx, tokenStr, now)
	}

	sess, err := s.sessions.GetByID(ctx, token.SessionID)
	if err != nil {
		return nil, err
	}

	identity := NewGuestIdentity()
	cred, err := s.issuer.Issue(sess.ChannelName, identity, rtc.RolePublisher, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue guest credential: %w", err)
	}

	info := SessionInfo{
		SessionID:   sess.ID,
		ChannelName: sess.ChannelName,
		Status:      sess.Status,
	}
	if token.GuestName != nil {
		info.GuestName = *token.GuestName
	}
	return &Validation{Identity: identity, Credential: cred, Session: info}, nil
}

// classifyFailure distinguishes why the conditional consume matched nothing.
func (s *Service) classifyFailure(ctx context.Context, tokenStr string, now time.Time) error {
	token, err := s.repo.GetByToken(ctx, tokenStr)
	if err != nil {
		return fmt.Errorf("look up guest token: %w", err)
	}
	if token == nil {
		return ErrNotFound
	}
	switch {
	case token.IsRevoked:
		return ErrRevoked
	case !now.Before(token.ExpiresAt):
		return ErrExpired
	case token.AccessCount >= token.MaxUses:
		return ErrExhausted
	default:
		return ErrSessionNotReady
	}
}

// Revoke disables a link immediately, regardless of remaining uses or expiry.
func (s *Service) Revoke(ctx context.Context, tokenStr, callerUID string) error {
	token, err := s.repo.GetByToken(ctx, tokenStr)
	if err != nil {
		return err
	}
	if token == nil {
		return ErrNotFound
	}

	sess, err := s.sessions.GetByID(ctx, token.SessionID)
	if err != nil {
		return err
	}
	if err := s.requireManage(ctx, callerUID, sess.PracticeID); err != nil {
		return err
	}
	return s.repo.Revoke(ctx, tokenStr)
}

func (s *Service) requireManage(ctx context.Context, uid string, practiceID uuid.UUID) error {
	ok, err := s.access.CanManage(ctx, uid, practiceID)
	if err != nil {
		return fmt.Errorf("authorization check: %w", err)
	}
	if !ok {
		return ErrNotAuthorized
	}
	return nil
}
