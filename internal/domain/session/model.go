package session

import (
	"time"

	"github.com/google/uuid"
)

// Session statuses. Transitions are monotonic: a session only moves forward
// through this ordering and "ended" is terminal.
const (
	StatusCreated   = "created"
	StatusScheduled = "scheduled"
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusEnded     = "ended"
)

var statusRank = map[string]int{
	StatusCreated:   0,
	StatusScheduled: 1,
	StatusWaiting:   2,
	StatusActive:    3,
	StatusEnded:     4,
}

// CanTransition reports whether moving from one status to another respects
// the monotonic ordering.
func CanTransition(from, to string) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return from != StatusEnded && toRank > fromRank
}

// VideoSession maps to the video_session table: one call attempt bound to an
// appointment. Rows are never hard-deleted; ended sessions are retained for
// audit and billing.
type VideoSession struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	AppointmentID uuid.UUID  `db:"appointment_id" json:"appointment_id"`
	PracticeID    uuid.UUID  `db:"practice_id" json:"practice_id"`
	ProviderID    uuid.UUID  `db:"provider_id" json:"provider_id"`
	PatientID     *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	ChannelName   string     `db:"channel_name" json:"channel_name"`
	Status        string     `db:"status" json:"status"`

	ScheduledStartTime *time.Time `db:"scheduled_start_time" json:"scheduled_start_time,omitempty"`
	ActualStartTime    *time.Time `db:"actual_start_time" json:"actual_start_time,omitempty"`
	EndTime            *time.Time `db:"end_time" json:"end_time,omitempty"`
	DurationSeconds    *int       `db:"duration_seconds" json:"duration_seconds,omitempty"`

	RecordingStartedAt  *time.Time `db:"recording_started_at" json:"recording_started_at,omitempty"`
	RecordingStoppedAt  *time.Time `db:"recording_stopped_at" json:"recording_stopped_at,omitempty"`
	RecordingResourceID *string    `db:"recording_resource_id" json:"recording_resource_id,omitempty"`
	RecordingSessionID  *string    `db:"recording_session_id" json:"recording_session_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsRecording reports whether a recording is currently in progress.
func (s *VideoSession) IsRecording() bool {
	return s.RecordingStartedAt != nil && s.RecordingStoppedAt == nil
}

// IsEnded reports whether the session has reached its terminal state.
func (s *VideoSession) IsEnded() bool {
	return s.Status == StatusEnded
}

// Appointment is the coordinator's view of the external appointment store.
type Appointment struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PracticeID  uuid.UUID  `db:"practice_id" json:"practice_id"`
	ProviderID  uuid.UUID  `db:"provider_id" json:"provider_id"`
	PatientID   *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Status      string     `db:"status" json:"status"`
}

// Appointment statuses the coordinator writes.
const (
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
)

// UsageRecord is one per-session billing fact appended on termination.
type UsageRecord struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	SessionID       uuid.UUID  `db:"session_id" json:"session_id"`
	PracticeID      uuid.UUID  `db:"practice_id" json:"practice_id"`
	ProviderID      uuid.UUID  `db:"provider_id" json:"provider_id"`
	PatientID       *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	DurationSeconds int        `db:"duration_seconds" json:"duration_seconds"`
	StartedAt       time.Time  `db:"started_at" json:"started_at"`
	EndedAt         time.Time  `db:"ended_at" json:"ended_at"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}
