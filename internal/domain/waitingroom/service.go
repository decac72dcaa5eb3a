package waitingroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/ws"
)

var ErrNotAuthorized = errors.New("not authorized to emit this event")

// SessionRegistry is the slice of the session state machine the waiting room
// drives: arriving patients move the session to waiting, admissions and
// provider joins move it to active. AuthorizeParticipant gates every
// waiting-room surface to the session's own participants.
type SessionRegistry interface {
	MarkWaiting(ctx context.Context, id uuid.UUID) error
	MarkActive(ctx context.Context, id uuid.UUID) error
	Practice(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	AuthorizeParticipant(ctx context.Context, id uuid.UUID, uid string) error
}

// AccessChecker gates admission: only practice staff admit patients.
type AccessChecker interface {
	CanManage(ctx context.Context, uid string, practiceID uuid.UUID) (bool, error)
}

// TxRunner runs a function inside one database transaction, so the event
// append and the session transition it drives commit or roll back together.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo      Repository
	sessions  SessionRegistry
	access    AccessChecker
	tx        TxRunner
	publisher ws.EventPublisher
	logger    zerolog.Logger
}

func NewService(repo Repository, sessions SessionRegistry, access AccessChecker, tx TxRunner, publisher ws.EventPublisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		sessions:  sessions,
		access:    access,
		tx:        tx,
		publisher: publisher,
		logger:    logger.With().Str("component", "waitingroom").Logger(),
	}
}

// Emit appends an event to the session's log, drives the matching session
// transition, and pushes the event to live subscribers. Only the session's
// participants may emit; admissions additionally require practice staff.
//
// Failure semantics differ by type: waiting and admitted failures propagate,
// since admission gating depends on them; a failed "left" write is logged and
// swallowed, because leaving must always succeed from the caller's side.
func (s *Service) Emit(ctx context.Context, ev *Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if err := s.sessions.AuthorizeParticipant(ctx, ev.SessionID, ev.ActorUID); err != nil {
		return err
	}

	if ev.Type == EventLeft {
		if err := s.repo.Append(ctx, ev); err != nil {
			s.logger.Warn().Err(err).
				Str("session_id", ev.SessionID.String()).
				Str("actor_uid", ev.ActorUID).
				Msg("failed to record leave event")
			return nil
		}
		s.publish(ctx, ev)
		return nil
	}

	manages := false
	if ev.Type == EventPatientAdmitted || ev.Type == EventJoined {
		practiceID, err := s.sessions.Practice(ctx, ev.SessionID)
		if err != nil {
			return err
		}
		manages, err = s.access.CanManage(ctx, ev.ActorUID, practiceID)
		if err != nil {
			return fmt.Errorf("authorization check: %w", err)
		}
		if ev.Type == EventPatientAdmitted && !manages {
			return ErrNotAuthorized
		}
	}

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Append(ctx, ev); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		switch {
		case ev.Type == EventPatientWaiting:
			if err := s.sessions.MarkWaiting(ctx, ev.SessionID); err != nil {
				return fmt.Errorf("move session to waiting: %w", err)
			}
		case ev.Type == EventPatientAdmitted:
			if err := s.sessions.MarkActive(ctx, ev.SessionID); err != nil {
				return fmt.Errorf("activate session: %w", err)
			}
		case ev.Type == EventJoined && manages:
			// A provider joining activates the session directly; no
			// admission is required when no one is waiting.
			if err := s.sessions.MarkActive(ctx, ev.SessionID); err != nil {
				return fmt.Errorf("activate session: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, ev)
	return nil
}

// inTx runs fn transactionally when a runner is configured.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.RunInTx(ctx, fn)
}

// publish pushes the appended event to session subscribers. Delivery is
// best-effort; the durable log is what subscribers reconcile against.
func (s *Service) publish(ctx context.Context, ev *Event) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}
	topic := ws.SessionTopic(ev.SessionID.String())
	if err := s.publisher.Publish(ctx, ws.Event{
		Type:      string(ev.Type),
		Topic:     topic,
		SessionID: ev.SessionID.String(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("failed to broadcast event")
	}
}

// List returns the session's events in append order to one of its
// participants.
func (s *Service) List(ctx context.Context, sessionID uuid.UUID, callerUID string) ([]*Event, error) {
	if err := s.sessions.AuthorizeParticipant(ctx, sessionID, callerUID); err != nil {
		return nil, err
	}
	return s.repo.ListBySession(ctx, sessionID)
}

// View folds the session's log into the derived state for one subscriber.
func (s *Service) View(ctx context.Context, sessionID uuid.UUID, selfUID string) (ViewState, error) {
	events, err := s.List(ctx, sessionID, selfUID)
	if err != nil {
		return ViewState{}, err
	}
	return Fold(events, selfUID), nil
}
