package waitingroom

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Append inserts one event. The log is append-only; events are never
	// updated or deleted.
	Append(ctx context.Context, ev *Event) error

	// ListBySession returns the session's events in append order.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*Event, error)
}
