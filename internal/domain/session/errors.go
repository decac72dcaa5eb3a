package session

import "errors"

var (
	ErrNotFound            = errors.New("session not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrNotAuthorized       = errors.New("not authorized for this session")
	ErrSessionEnded        = errors.New("session already ended")
	ErrSessionNotActive    = errors.New("session is not active")
	ErrRecordingInProgress = errors.New("recording already in progress")
	ErrInvalidTransition   = errors.New("invalid status transition")
)
