package identity

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// ActiveGrantFor returns the caller's currently valid, non-revoked
	// impersonation grant, or nil if there is none.
	ActiveGrantFor(ctx context.Context, impersonatorUID string) (*ImpersonationGrant, error)
	CreateGrant(ctx context.Context, grant *ImpersonationGrant) error
	RevokeGrant(ctx context.Context, id uuid.UUID) error
	GetMember(ctx context.Context, practiceID uuid.UUID, uid string) (*PracticeMember, error)
}
