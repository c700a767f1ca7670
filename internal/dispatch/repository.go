package dispatch

import (
	"context"

	"github.com/mailscope/mailscope/internal/domain"
)

// MessageStore defines the data access contract for sent messages.
// Implementations must be safe for concurrent use.
type MessageStore interface {
	// Create inserts the message exactly once after dispatch completes.
	Create(ctx context.Context, m *domain.SentMessage) error

	// Get returns one message owned by userID. Returns ErrNotFound when it
	// does not exist or belongs to someone else.
	Get(ctx context.Context, userID, id string) (*domain.SentMessage, error)

	// List returns the user's messages ordered by created_at DESC, plus the
	// total count for pagination.
	List(ctx context.Context, userID string, f ListFilter) ([]domain.SentMessage, int, error)

	// Delete removes a message. Tracking events keyed by its tracking id
	// are removed with it.
	Delete(ctx context.Context, userID, id string) error
}

// ConnectionStore defines the data access contract for provider connections.
type ConnectionStore interface {
	// Get returns the user's connection for the given provider. Returns
	// ErrNoConnection when the account was never linked.
	Get(ctx context.Context, userID string, p domain.Provider) (*domain.ProviderConnection, error)

	// UpdateTokens persists a rotated token snapshot.
	UpdateTokens(ctx context.Context, conn *domain.ProviderConnection) error
}

// EventStore reads the append-only engagement log for analytics.
type EventStore interface {
	// ListByTrackingID returns all events for one send ordered by
	// created_at ASC.
	ListByTrackingID(ctx context.Context, trackingID string) ([]domain.TrackingEvent, error)
}

// ListFilter controls pagination and filtering for message lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}
