package guestlink

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/domain/session"
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

const tokenCols = `id, token, session_id, guest_name, expires_at, max_uses,
	access_count, is_revoked, accessed_by_ip, used_at, created_at`

func (r *repoPG) Create(ctx context.Context, t *GuestAccessToken) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO guest_access_token (id, token, session_id, guest_name, expires_at, max_uses)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Token, t.SessionID, t.GuestName, t.ExpiresAt, t.MaxUses,
	)
	return err
}

func (r *repoPG) GetByToken(ctx context.Context, token string) (*GuestAccessToken, error) {
	t := &GuestAccessToken{}
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+tokenCols+` FROM guest_access_token WHERE token = $1`, token,
	).Scan(&t.ID, &t.Token, &t.SessionID, &t.GuestName, &t.ExpiresAt, &t.MaxUses,
		&t.AccessCount, &t.IsRevoked, &t.AccessedByIP, &t.UsedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Consume is a single conditional update so that concurrent validations of
// the same token cannot both pass the max_uses check: the increment and the
// check happen in one statement.
func (r *repoPG) Consume(ctx context.Context, token, ip string, now time.Time) (*GuestAccessToken, error) {
	t := &GuestAccessToken{}
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE guest_access_token g
		SET access_count = g.access_count + 1,
		    accessed_by_ip = $2,
		    used_at = $3
		FROM video_session s
		WHERE g.token = $1
		  AND s.id = g.session_id
		  AND g.is_revoked = FALSE
		  AND g.expires_at > $3
		  AND g.access_count < g.max_uses
		  AND s.status IN ($4, $5)
		RETURNING g.id, g.token, g.session_id, g.guest_name, g.expires_at, g.max_uses,
		          g.access_count, g.is_revoked, g.accessed_by_ip, g.used_at, g.created_at`,
		token, ip, now, session.StatusWaiting, session.StatusActive,
	).Scan(&t.ID, &t.Token, &t.SessionID, &t.GuestName, &t.ExpiresAt, &t.MaxUses,
		&t.AccessCount, &t.IsRevoked, &t.AccessedByIP, &t.UsedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *repoPG) Revoke(ctx context.Context, token string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE guest_access_token SET is_revoked = TRUE WHERE token = $1`, token)
	return err
}
