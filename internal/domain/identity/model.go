package identity

import (
	"time"

	"github.com/google/uuid"
)

// ImpersonationGrant maps to the impersonation_grant table. It lets an
// administrator act as another user for support purposes, for a bounded time.
type ImpersonationGrant struct {
	ID              uuid.UUID `db:"id" json:"id"`
	ImpersonatorUID string    `db:"impersonator_uid" json:"impersonator_uid"`
	TargetUID       string    `db:"target_uid" json:"target_uid"`
	IsRevoked       bool      `db:"is_revoked" json:"is_revoked"`
	ExpiresAt       time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// PracticeMember maps to the practice_member table.
type PracticeMember struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PracticeID uuid.UUID `db:"practice_id" json:"practice_id"`
	UID        string    `db:"uid" json:"uid"`
	Role       string    `db:"role" json:"role"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Practice roles.
const (
	RoleProvider = "provider"
	RoleOwner    = "owner"
	RoleStaff    = "staff"
)

// EffectiveIdentity is the identity a request is authorized against after
// impersonation has been resolved.
type EffectiveIdentity struct {
	UID          string `json:"uid"`
	ActorUID     string `json:"actor_uid"`
	Impersonated bool   `json:"impersonated"`
}
