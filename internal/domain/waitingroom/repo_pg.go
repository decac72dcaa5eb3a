package waitingroom

import (
	"context"
	"fmt"

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

func (r *repoPG) Append(ctx context.Context, ev *Event) error {
	payload, err := ev.payloadJSON()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	ev.ID = uuid.New()
	// seq comes from a sequence so readers observe events in append order.
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO waiting_room_event (id, session_id, event_type, actor_uid, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq, created_at`,
		ev.ID, ev.SessionID, ev.Type, ev.ActorUID, payload,
	).Scan(&ev.Seq, &ev.CreatedAt)
}

func (r *repoPG) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, session_id, event_type, actor_uid, payload, seq, created_at
		FROM waiting_room_event
		WHERE session_id = $1
		ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev := &Event{}
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Type, &ev.ActorUID, &payload, &ev.Seq, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if err := ev.setPayload(payload); err != nil {
			return nil, fmt.Errorf("decode payload for event %s: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
