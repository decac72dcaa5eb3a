package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, sess *VideoSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*VideoSession, error)
	GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*VideoSession, error)
	ListByPractice(ctx context.Context, practiceID uuid.UUID, limit, offset int) ([]*VideoSession, int, error)

	// MarkWaiting moves a created/scheduled session to waiting. Returns
	// false if the session was already past that state.
	MarkWaiting(ctx context.Context, id uuid.UUID) (bool, error)

	// MarkActive moves a non-ended session to active, setting
	// actual_start_time on first activation only. Returns false if the
	// session has already ended.
	MarkActive(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)

	// End flips the session to ended, fixing end_time and duration_seconds.
	// The conditional update succeeds for exactly one caller; the returned
	// bool reports whether this caller won.
	End(ctx context.Context, id uuid.UUID, endTime time.Time, durationSeconds int) (bool, error)

	// SetRecordingStarted records a started recording. The conditional
	// update fails if the session is not active or a recording is already
	// in progress.
	SetRecordingStarted(ctx context.Context, id uuid.UUID, resourceID, recordingID string, at time.Time) (bool, error)

	// SetRecordingStopped closes the in-progress recording. Returns false
	// if no recording was in progress.
	SetRecordingStopped(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

// AppointmentStore is the coordinator's interface to the appointment system.
type AppointmentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

// UsageRecorder appends per-session usage records for billing aggregation.
type UsageRecorder interface {
	Append(ctx context.Context, rec *UsageRecord) error
}
