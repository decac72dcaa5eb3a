package waitingroom

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the waiting-room event kinds.
type EventType string

const (
	EventPatientWaiting  EventType = "patient_waiting"
	EventPatientAdmitted EventType = "patient_admitted"
	EventJoined          EventType = "joined"
	EventLeft            EventType = "left"
)

// Per-type payloads. Each event type carries its own strongly typed payload
// rather than an untyped bag.
type WaitingPayload struct {
	DisplayName string `json:"display_name,omitempty"`
}

type AdmittedPayload struct {
	TargetUID string `json:"target_uid"`
}

type JoinedPayload struct {
	DisplayName string `json:"display_name,omitempty"`
	Guest       bool   `json:"guest,omitempty"`
}

type LeftPayload struct {
	Reason string `json:"reason,omitempty"`
}

// Event maps to the waiting_room_event table: one immutable fact in the
// session's append-only log. Exactly one payload field is set, matching Type.
type Event struct {
	ID        uuid.UUID `db:"id" json:"id"`
	SessionID uuid.UUID `db:"session_id" json:"session_id"`
	Type      EventType `db:"event_type" json:"type"`
	ActorUID  string    `db:"actor_uid" json:"actor_uid"`
	Seq       int64     `db:"seq" json:"seq"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	Waiting  *WaitingPayload  `json:"waiting,omitempty"`
	Admitted *AdmittedPayload `json:"admitted,omitempty"`
	Joined   *JoinedPayload   `json:"joined,omitempty"`
	Left     *LeftPayload     `json:"left,omitempty"`
}

// Validate checks the event's type and payload shape.
func (e *Event) Validate() error {
	if e.SessionID == uuid.Nil {
		return fmt.Errorf("session id is required")
	}
	if e.ActorUID == "" {
		return fmt.Errorf("actor uid is required")
	}
	switch e.Type {
	case EventPatientWaiting, EventJoined, EventLeft:
		return nil
	case EventPatientAdmitted:
		if e.Admitted == nil || e.Admitted.TargetUID == "" {
			return fmt.Errorf("patient_admitted requires a target uid")
		}
		return nil
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
}

// payloadJSON serializes the active payload for storage.
func (e *Event) payloadJSON() ([]byte, error) {
	switch e.Type {
	case EventPatientWaiting:
		if e.Waiting == nil {
			return nil, nil
		}
		return json.Marshal(e.Waiting)
	case EventPatientAdmitted:
		return json.Marshal(e.Admitted)
	case EventJoined:
		if e.Joined == nil {
			return nil, nil
		}
		return json.Marshal(e.Joined)
	case EventLeft:
		if e.Left == nil {
			return nil, nil
		}
		return json.Marshal(e.Left)
	}
	return nil, fmt.Errorf("unknown event type %q", e.Type)
}

// setPayload deserializes a stored payload into the field matching Type.
func (e *Event) setPayload(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	switch e.Type {
	case EventPatientWaiting:
		e.Waiting = &WaitingPayload{}
		return json.Unmarshal(raw, e.Waiting)
	case EventPatientAdmitted:
		e.Admitted = &AdmittedPayload{}
		return json.Unmarshal(raw, e.Admitted)
	case EventJoined:
		e.Joined = &JoinedPayload{}
		return json.Unmarshal(raw, e.Joined)
	case EventLeft:
		e.Left = &LeftPayload{}
		return json.Unmarshal(raw, e.Left)
	}
	return fmt.Errorf("unknown event type %q", e.Type)
}

// WaitingPatient is one entry in the derived waiting list.
type WaitingPatient struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name,omitempty"`
}

// ViewState is the derived waiting-room state for one subscriber. It is
// always recomputed by folding the event log, never stored.
type ViewState struct {
	IsWaiting       bool             `json:"is_waiting"`
	IsAdmitted      bool             `json:"is_admitted"`
	WaitingPatients []WaitingPatient `json:"waiting_patients"`
}

// Fold derives the waiting-room state for selfUID from an ordered event
// sequence. The log is the only source of truth for who is waiting.
func Fold(events []*Event, selfUID string) ViewState {
	state := ViewState{WaitingPatients: []WaitingPatient{}}

	remove := func(uid string) {
		for i, p := range state.WaitingPatients {
			if p.UID == uid {
				state.WaitingPatients = append(state.WaitingPatients[:i], state.WaitingPatients[i+1:]...)
				return
			}
		}
	}
	present := func(uid string) bool {
		for _, p := range state.WaitingPatients {
			if p.UID == uid {
				return true
			}
		}
		return false
	}

	for _, ev := range events {
		switch ev.Type {
		case EventPatientWaiting:
			if ev.ActorUID == selfUID {
				state.IsWaiting = true
				continue
			}
			if !present(ev.ActorUID) {
				p := WaitingPatient{UID: ev.ActorUID}
				if ev.Waiting != nil {
					p.DisplayName = ev.Waiting.DisplayName
				}
				state.WaitingPatients = append(state.WaitingPatients, p)
			}
		case EventPatientAdmitted:
			if ev.Admitted == nil {
				continue
			}
			remove(ev.Admitted.TargetUID)
			if ev.Admitted.TargetUID == selfUID {
				state.IsAdmitted = true
				state.IsWaiting = false
			}
		case EventLeft:
			remove(ev.ActorUID)
			if ev.ActorUID == selfUID {
				state.IsWaiting = false
			}
		}
	}
	return state
}
