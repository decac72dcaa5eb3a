package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) ActiveGrantFor(ctx context.Context, impersonatorUID string) (*ImpersonationGrant, error) {
	g := &ImpersonationGrant{}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, impersonator_uid, target_uid, is_revoked, expires_at, created_at
		FROM impersonation_grant
		WHERE impersonator_uid = $1 AND is_revoked = FALSE AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1`, impersonatorUID,
	).Scan(&g.ID, &g.ImpersonatorUID, &g.TargetUID, &g.IsRevoked, &g.ExpiresAt, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *repoPG) CreateGrant(ctx context.Context, grant *ImpersonationGrant) error {
	grant.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO impersonation_grant (id, impersonator_uid, target_uid, expires_at)
		VALUES ($1, $2, $3, $4)`,
		grant.ID, grant.ImpersonatorUID, grant.TargetUID, grant.ExpiresAt,
	)
	return err
}

func (r *repoPG) RevokeGrant(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE impersonation_grant SET is_revoked = TRUE WHERE id = $1`, id)
	return err
}

func (r *repoPG) GetMember(ctx context.Context, practiceID uuid.UUID, uid string) (*PracticeMember, error) {
	m := &PracticeMember{}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, practice_id, uid, role, is_active, created_at
		FROM practice_member
		WHERE practice_id = $1 AND uid = $2`, practiceID, uid,
	).Scan(&m.ID, &m.PracticeID, &m.UID, &m.Role, &m.IsActive, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}
