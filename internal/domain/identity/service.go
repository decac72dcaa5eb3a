package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "identity").Logger(),
	}
}

// Resolve returns the effective identity for the caller. If the caller holds
// a currently valid impersonation grant, the effective identity is the
// impersonated user. A transient grant-lookup failure falls back to the raw
// caller identity rather than blocking the request: impersonation is a
// privilege escalation path, not a correctness dependency.
func (s *Service) Resolve(ctx context.Context, callerUID string) EffectiveIdentity {
	grant, err := s.repo.ActiveGrantFor(ctx, callerUID)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("uid", callerUID).
			Msg("impersonation grant lookup failed, using caller identity")
		return EffectiveIdentity{UID: callerUID, ActorUID: callerUID}
	}
	if grant == nil {
		return EffectiveIdentity{UID: callerUID, ActorUID: callerUID}
	}
	return EffectiveIdentity{
		UID:          grant.TargetUID,
		ActorUID:     callerUID,
		Impersonated: true,
	}
}

// CanManage reports whether uid is a provider, owner, or active staff member
// of the given practice.
func (s *Service) CanManage(ctx context.Context, uid string, practiceID uuid.UUID) (bool, error) {
	member, err := s.repo.GetMember(ctx, practiceID, uid)
	if err != nil {
		return false, fmt.Errorf("look up practice member: %w", err)
	}
	if member == nil || !member.IsActive {
		return false, nil
	}
	switch member.Role {
	case RoleProvider, RoleOwner, RoleStaff:
		return true, nil
	}
	return false, nil
}

// Grant creates an impersonation grant from actor to target, valid for ttl.
func (s *Service) Grant(ctx context.Context, impersonatorUID, targetUID string, ttl time.Duration) (*ImpersonationGrant, error) {
	if impersonatorUID == "" || targetUID == "" {
		return nil, fmt.Errorf("impersonator and target are required")
	}
	if impersonatorUID == targetUID {
		return nil, fmt.Errorf("cannot impersonate self")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	grant := &ImpersonationGrant{
		ImpersonatorUID: impersonatorUID,
		TargetUID:       targetUID,
		ExpiresAt:       time.Now().UTC().Add(ttl),
	}
	if err := s.repo.CreateGrant(ctx, grant); err != nil {
		return nil, err
	}
	return grant, nil
}

// Revoke revokes an impersonation grant immediately.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID) error {
	return s.repo.RevokeGrant(ctx, id)
}
