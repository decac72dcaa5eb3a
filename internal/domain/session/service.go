package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/rtc"
)

// AccessChecker reports whether a uid is a provider, owner, or active staff
// member of a practice.
type AccessChecker interface {
	CanManage(ctx context.Context, uid string, practiceID uuid.UUID) (bool, error)
}

// CredentialIssuer mints signed media/signaling token pairs.
type CredentialIssuer interface {
	Issue(channel, identity string, role rtc.Role, ttl time.Duration) (*rtc.Credential, error)
}

// RecordingClient is the media provider's recording control plane.
type RecordingClient interface {
	AcquireRecording(ctx context.Context, channel string) (string, error)
	StartRecording(ctx context.Context, resourceID, channel, bucket string) (string, error)
	StopRecording(ctx context.Context, resourceID, recordingID, channel string) error
}

// Notifier delivers fire-and-forget session lifecycle notifications.
// Implementations must not block and must never return delivery errors into
// the call flow.
type Notifier interface {
	SessionReady(sess *VideoSession)
	SessionEnded(sess *VideoSession, durationSeconds int)
}

type Service struct {
	repo         Repository
	appointments AppointmentStore
	usage        UsageRecorder
	access       AccessChecker
	issuer       CredentialIssuer
	recorder     RecordingClient
	notifier     Notifier

	tokenTTL        time.Duration
	recordingBucket string
	logger          zerolog.Logger
}

type ServiceConfig struct {
	Repo            Repository
	Appointments    AppointmentStore
	Usage           UsageRecorder
	Access          AccessChecker
	Issuer          CredentialIssuer
	Recorder        RecordingClient
	Notifier        Notifier
	TokenTTL        time.Duration
	RecordingBucket string
	Logger          zerolog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	return &Service{
		repo:            cfg.Repo,
		appointments:    cfg.Appointments,
		usage:           cfg.Usage,
		access:          cfg.Access,
		issuer:          cfg.Issuer,
		recorder:        cfg.Recorder,
		notifier:        cfg.Notifier,
		tokenTTL:        cfg.TokenTTL,
		recordingBucket: cfg.RecordingBucket,
		logger:          cfg.Logger.With().Str("component", "session").Logger(),
	}
}

// CreateSession provisions a video session for an appointment. If a non-ended
// session already exists for the appointment it is returned as-is, so retried
// creations do not spawn parallel rooms for the same visit.
func (s *Service) CreateSession(ctx context.Context, appointmentID uuid.UUID, callerUID string) (*VideoSession, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if err := s.requireManage(ctx, callerUID, appt.PracticeID); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByAppointmentID(ctx, appointmentID)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	if existing != nil && !existing.IsEnded() {
		return existing, nil
	}

	id := uuid.New()
	scheduled := appt.ScheduledAt
	sess := &VideoSession{
		ID:                 id,
		AppointmentID:      appt.ID,
		PracticeID:         appt.PracticeID,
		ProviderID:         appt.ProviderID,
		PatientID:          appt.PatientID,
		ChannelName:        "session-" + id.String(),
		Status:             StatusCreated,
		ScheduledStartTime: &scheduled,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	created, err := s.repo.GetByID(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.SessionReady(created)
	}
	return created, nil
}

// GetSession returns a session to one of its participants or practice staff.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID, callerUID string) (*VideoSession, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, callerUID, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ListSessions returns a practice's sessions for staff users.
func (s *Service) ListSessions(ctx context.Context, practiceID uuid.UUID, callerUID string, limit, offset int) ([]*VideoSession, int, error) {
	if err := s.requireManage(ctx, callerUID, practiceID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListByPractice(ctx, practiceID, limit, offset)
}

// MarkWaiting moves the session to waiting when the first patient arrives.
// Already being past waiting is not an error.
func (s *Service) MarkWaiting(ctx context.Context, id uuid.UUID) error {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sess.IsEnded() {
		return ErrSessionEnded
	}
	_, err = s.repo.MarkWaiting(ctx, id)
	return err
}

// MarkActive moves the session to active, fixing actual_start_time on the
// first activation.
func (s *Service) MarkActive(ctx context.Context, id uuid.UUID) error {
	ok, err := s.repo.MarkActive(ctx, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionEnded
	}
	return nil
}

// Practice returns the practice a session belongs to.
func (s *Service) Practice(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	return sess.PracticeID, nil
}

// IssueCredential mints a credential pair for a session participant.
func (s *Service) IssueCredential(ctx context.Context, id uuid.UUID, callerUID string, role rtc.Role) (*rtc.Credential, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IsEnded() {
		return nil, ErrSessionEnded
	}
	if err := s.requireParticipant(ctx, callerUID, sess); err != nil {
		return nil, err
	}
	return s.issuer.Issue(sess.ChannelName, callerUID, role, s.tokenTTL)
}

// StartRecording runs the two-phase start: acquire a recording resource, then
// start composite recording against it. Both phases must succeed before
// recording_started_at is set. If start fails after acquire, the acquired
// resource is abandoned; it self-expires on the provider side.
func (s *Service) StartRecording(ctx context.Context, id uuid.UUID, callerUID string) (*VideoSession, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireManage(ctx, callerUID, sess.PracticeID); err != nil {
		return nil, err
	}
	if sess.Status != StatusActive {
		return nil, ErrSessionNotActive
	}
	if sess.IsRecording() {
		return nil, ErrRecordingInProgress
	}

	resourceID, err := s.recorder.AcquireRecording(ctx, sess.ChannelName)
	if err != nil {
		return nil, fmt.Errorf("acquire recording resource: %w", err)
	}
	recordingID, err := s.recorder.StartRecording(ctx, resourceID, sess.ChannelName, s.recordingBucket)
	if err != nil {
		return nil, fmt.Errorf("start recording: %w", err)
	}

	ok, err := s.repo.SetRecordingStarted(ctx, id, resourceID, recordingID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		// A concurrent start won; this recording is abandoned upstream.
		return nil, ErrRecordingInProgress
	}
	return s.repo.GetByID(ctx, id)
}

// StopRecording stops an in-progress recording. Stopping when no recording is
// running is a no-op, so it is safe to call from generic termination paths.
func (s *Service) StopRecording(ctx context.Context, id uuid.UUID, callerUID string) error {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.requireManage(ctx, callerUID, sess.PracticeID); err != nil {
		return err
	}
	s.stopRecordingInternal(ctx, sess)
	return nil
}

func (s *Service) stopRecordingInternal(ctx context.Context, sess *VideoSession) {
	if !sess.IsRecording() {
		return
	}
	if sess.RecordingResourceID != nil && sess.RecordingSessionID != nil {
		if err := s.recorder.StopRecording(ctx, *sess.RecordingResourceID, *sess.RecordingSessionID, sess.ChannelName); err != nil {
			s.logger.Warn().Err(err).
				Str("session_id", sess.ID.String()).
				Msg("stop recording upstream call failed")
		}
	}
	if _, err := s.repo.SetRecordingStopped(ctx, sess.ID, time.Now().UTC()); err != nil {
		s.logger.Warn().Err(err).
			Str("session_id", sess.ID.String()).
			Msg("failed to persist recording stop")
	}
}

// EndSession terminates a session. Ending an already-ended session succeeds
// without re-running side effects, so duplicate termination calls from
// retries or a patient-leaves/provider-ends race are harmless.
func (s *Service) EndSession(ctx context.Context, id uuid.UUID, callerUID string) (*VideoSession, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireManage(ctx, callerUID, sess.PracticeID); err != nil {
		return nil, err
	}
	if sess.IsEnded() {
		return sess, nil
	}
	return s.terminate(ctx, sess)
}

// terminate runs the winner-takes-all end transition and, for the winner, the
// four independent side effects. Each effect is isolated: a failure is logged
// and the remaining effects still run.
func (s *Service) terminate(ctx context.Context, sess *VideoSession) (*VideoSession, error) {
	endTime := time.Now().UTC()
	start := sess.CreatedAt
	if sess.ScheduledStartTime != nil {
		start = *sess.ScheduledStartTime
	}
	if sess.ActualStartTime != nil {
		start = *sess.ActualStartTime
	}
	duration := int(endTime.Sub(start).Seconds())
	if duration < 0 {
		duration = 0
	}

	won, err := s.repo.End(ctx, sess.ID, endTime, duration)
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	if !won {
		// A concurrent caller ended it first; its side effects cover us.
		return s.repo.GetByID(ctx, sess.ID)
	}

	s.stopRecordingInternal(ctx, sess)

	if err := s.appointments.UpdateStatus(ctx, sess.AppointmentID, AppointmentCompleted); err != nil {
		s.logger.Error().Err(err).
			Str("session_id", sess.ID.String()).
			Str("appointment_id", sess.AppointmentID.String()).
			Msg("failed to complete appointment after session end")
	}

	if err := s.usage.Append(ctx, &UsageRecord{
		SessionID:       sess.ID,
		PracticeID:      sess.PracticeID,
		ProviderID:      sess.ProviderID,
		PatientID:       sess.PatientID,
		DurationSeconds: duration,
		StartedAt:       start,
		EndedAt:         endTime,
	}); err != nil {
		s.logger.Error().Err(err).
			Str("session_id", sess.ID.String()).
			Msg("failed to append usage record")
	}

	if s.notifier != nil {
		s.notifier.SessionEnded(sess, duration)
	}

	return s.repo.GetByID(ctx, sess.ID)
}

// CancelAppointment cancels an appointment and force-ends any live video
// session bound to it. A missing or already-ended session is treated as
// success, matching idempotent termination.
func (s *Service) CancelAppointment(ctx context.Context, appointmentID uuid.UUID, callerUID string) error {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return err
	}
	if err := s.requireManage(ctx, callerUID, appt.PracticeID); err != nil {
		return err
	}
	if err := s.appointments.UpdateStatus(ctx, appointmentID, AppointmentCancelled); err != nil {
		return fmt.Errorf("cancel appointment: %w", err)
	}

	sess, err := s.repo.GetByAppointmentID(ctx, appointmentID)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.IsEnded() {
		return nil
	}
	if _, err := s.terminate(ctx, sess); err != nil {
		return fmt.Errorf("end session for cancelled appointment: %w", err)
	}
	return nil
}

func (s *Service) requireManage(ctx context.Context, uid string, practiceID uuid.UUID) error {
	ok, err := s.access.CanManage(ctx, uid, practiceID)
	if err != nil {
		return fmt.Errorf("authorization check: %w", err)
	}
	if !ok {
		return ErrNotAuthorized
	}
	return nil
}

// AuthorizeParticipant reports whether uid may act inside the session: its
// provider, its patient, or anyone who manages its practice. Other domains
// gate their per-session surfaces on it.
func (s *Service) AuthorizeParticipant(ctx context.Context, id uuid.UUID, uid string) error {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.requireParticipant(ctx, uid, sess)
}

// requireParticipant allows the session's provider or patient, and anyone who
// manages the session's practice.
func (s *Service) requireParticipant(ctx context.Context, uid string, sess *VideoSession) error {
	if uid == sess.ProviderID.String() {
		return nil
	}
	if sess.PatientID != nil && uid == sess.PatientID.String() {
		return nil
	}
	return s.requireManage(ctx, uid, sess.PracticeID)
}
