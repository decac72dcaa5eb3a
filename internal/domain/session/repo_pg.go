package session

import (
	"context"
	"errors"
	"time"

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

const sessCols = `id, appointment_id, practice_id, provider_id, patient_id, channel_name, status,
	scheduled_start_time, actual_start_time, end_time, duration_seconds,
	recording_started_at, recording_stopped_at, recording_resource_id, recording_session_id,
	created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, sess *VideoSession) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO video_session (
			id, appointment_id, practice_id, provider_id, patient_id,
			channel_name, status, scheduled_start_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sess.ID, sess.AppointmentID, sess.PracticeID, sess.ProviderID, sess.PatientID,
		sess.ChannelName, sess.Status, sess.ScheduledStartTime,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*VideoSession, error) {
	return scanSession(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sessCols+` FROM video_session WHERE id = $1`, id))
}

func (r *repoPG) GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*VideoSession, error) {
	return scanSession(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sessCols+` FROM video_session
		 WHERE appointment_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, appointmentID))
}

func (r *repoPG) ListByPractice(ctx context.Context, practiceID uuid.UUID, limit, offset int) ([]*VideoSession, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM video_session WHERE practice_id = $1`, practiceID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+sessCols+` FROM video_session
		 WHERE practice_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, practiceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*VideoSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, sess)
	}
	return result, total, rows.Err()
}

func (r *repoPG) MarkWaiting(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE video_session
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)`,
		id, StatusWaiting, StatusCreated, StatusScheduled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) MarkActive(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE video_session
		SET status = $2,
		    actual_start_time = COALESCE(actual_start_time, $3),
		    updated_at = NOW()
		WHERE id = $1 AND status <> $4`,
		id, StatusActive, startedAt, StatusEnded)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) End(ctx context.Context, id uuid.UUID, endTime time.Time, durationSeconds int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE video_session
		SET status = $2, end_time = $3, duration_seconds = $4, updated_at = NOW()
		WHERE id = $1 AND status <> $2`,
		id, StatusEnded, endTime, durationSeconds)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) SetRecordingStarted(ctx context.Context, id uuid.UUID, resourceID, recordingID string, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE video_session
		SET recording_started_at = $2, recording_stopped_at = NULL,
		    recording_resource_id = $3, recording_session_id = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
		  AND (recording_started_at IS NULL OR recording_stopped_at IS NOT NULL)`,
		id, at, resourceID, recordingID, StatusActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) SetRecordingStopped(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE video_session
		SET recording_stopped_at = $2, updated_at = NOW()
		WHERE id = $1 AND recording_started_at IS NOT NULL AND recording_stopped_at IS NULL`,
		id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanSession(row pgx.Row) (*VideoSession, error) {
	sess := &VideoSession{}
	err := row.Scan(
		&sess.ID, &sess.AppointmentID, &sess.PracticeID, &sess.ProviderID, &sess.PatientID,
		&sess.ChannelName, &sess.Status,
		&sess.ScheduledStartTime, &sess.ActualStartTime, &sess.EndTime, &sess.DurationSeconds,
		&sess.RecordingStartedAt, &sess.RecordingStoppedAt, &sess.RecordingResourceID, &sess.RecordingSessionID,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// apptStorePG reads and updates appointments in the tenant schema.
type apptStorePG struct {
	pool *pgxpool.Pool
}

func NewAppointmentStore(pool *pgxpool.Pool) AppointmentStore {
	return &apptStorePG{pool: pool}
}

func (r *apptStorePG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *apptStorePG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt := &Appointment{}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, practice_id, provider_id, patient_id, scheduled_at, status
		FROM appointment WHERE id = $1`, id,
	).Scan(&appt.ID, &appt.PracticeID, &appt.ProviderID, &appt.PatientID, &appt.ScheduledAt, &appt.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (r *apptStorePG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

// usagePG appends usage records to the billing ledger table.
type usagePG struct {
	pool *pgxpool.Pool
}

func NewUsageRecorder(pool *pgxpool.Pool) UsageRecorder {
	return &usagePG{pool: pool}
}

func (r *usagePG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *usagePG) Append(ctx context.Context, rec *UsageRecord) error {
	rec.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO usage_record (
			id, session_id, practice_id, provider_id, patient_id,
			duration_seconds, started_at, ended_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.SessionID, rec.PracticeID, rec.ProviderID, rec.PatientID,
		rec.DurationSeconds, rec.StartedAt, rec.EndedAt,
	)
	return err
}
