package identity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Repository --

type mockRepo struct {
	grants     map[uuid.UUID]*ImpersonationGrant
	members    map[string]*PracticeMember // practiceID+uid
	lookupFail bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		grants:  make(map[uuid.UUID]*ImpersonationGrant),
		members: make(map[string]*PracticeMember),
	}
}

func memberKey(practiceID uuid.UUID, uid string) string {
	return practiceID.String() + "/" + uid
}

func (m *mockRepo) ActiveGrantFor(_ context.Context, impersonatorUID string) (*ImpersonationGrant, error) {
	if m.lookupFail {
		return nil, fmt.Errorf("connection refused")
	}
	for _, g := range m.grants {
		if g.ImpersonatorUID == impersonatorUID && !g.IsRevoked && g.ExpiresAt.After(time.Now()) {
			return g, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) CreateGrant(_ context.Context, grant *ImpersonationGrant) error {
	grant.ID = uuid.New()
	grant.CreatedAt = time.Now()
	m.grants[grant.ID] = grant
	return nil
}

func (m *mockRepo) RevokeGrant(_ context.Context, id uuid.UUID) error {
	if g, ok := m.grants[id]; ok {
		g.IsRevoked = true
	}
	return nil
}

func (m *mockRepo) GetMember(_ context.Context, practiceID uuid.UUID, uid string) (*PracticeMember, error) {
	return m.members[memberKey(practiceID, uid)], nil
}

func newTestService(repo *mockRepo) *Service {
	return NewService(repo, zerolog.Nop())
}

// -- Resolve --

func TestResolve_NoGrant(t *testing.T) {
	svc := newTestService(newMockRepo())

	eff := svc.Resolve(context.Background(), "admin-1")
	if eff.UID != "admin-1" || eff.Impersonated {
		t.Errorf("expected plain caller identity, got %+v", eff)
	}
}

func TestResolve_ActiveGrant(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	if _, err := svc.Grant(context.Background(), "admin-1", "provider-9", time.Hour); err != nil {
		t.Fatalf("grant: %v", err)
	}

	eff := svc.Resolve(context.Background(), "admin-1")
	if eff.UID != "provider-9" || !eff.Impersonated || eff.ActorUID != "admin-1" {
		t.Errorf("expected impersonated identity, got %+v", eff)
	}
}

func TestResolve_RevokedGrantIgnored(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	grant, err := svc.Grant(context.Background(), "admin-1", "provider-9", time.Hour)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := svc.Revoke(context.Background(), grant.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	eff := svc.Resolve(context.Background(), "admin-1")
	if eff.UID != "admin-1" || eff.Impersonated {
		t.Errorf("expected caller identity after revoke, got %+v", eff)
	}
}

func TestResolve_LookupFailureFallsBackToCaller(t *testing.T) {
	repo := newMockRepo()
	repo.lookupFail = true
	svc := newTestService(repo)

	eff := svc.Resolve(context.Background(), "admin-1")
	if eff.UID != "admin-1" || eff.Impersonated {
		t.Errorf("expected fallback to caller identity, got %+v", eff)
	}
}

// -- CanManage --

func TestCanManage(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	practiceID := uuid.New()

	repo.members[memberKey(practiceID, "provider-1")] = &PracticeMember{
		PracticeID: practiceID, UID: "provider-1", Role: RoleProvider, IsActive: true,
	}
	repo.members[memberKey(practiceID, "staff-inactive")] = &PracticeMember{
		PracticeID: practiceID, UID: "staff-inactive", Role: RoleStaff, IsActive: false,
	}
	repo.members[memberKey(practiceID, "biller-1")] = &PracticeMember{
		PracticeID: practiceID, UID: "biller-1", Role: "biller", IsActive: true,
	}

	cases := []struct {
		uid  string
		want bool
	}{
		{"provider-1", true},
		{"staff-inactive", false},
		{"biller-1", false},
		{"stranger", false},
	}
	for _, tc := range cases {
		got, err := svc.CanManage(context.Background(), tc.uid, practiceID)
		if err != nil {
			t.Fatalf("%s: %v", tc.uid, err)
		}
		if got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.uid, tc.want, got)
		}
	}
}

// -- Grant validation --

func TestGrant_Validation(t *testing.T) {
	svc := newTestService(newMockRepo())

	if _, err := svc.Grant(context.Background(), "", "target", time.Hour); err == nil {
		t.Error("expected error for empty impersonator")
	}
	if _, err := svc.Grant(context.Background(), "a", "a", time.Hour); err == nil {
		t.Error("expected error for self-impersonation")
	}
	if _, err := svc.Grant(context.Background(), "a", "b", 0); err == nil {
		t.Error("expected error for non-positive ttl")
	}
}
