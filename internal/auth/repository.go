package auth

import (
	"context"

	"github.com/mailscope/mailscope/internal/domain"
)

// UserStore defines the data access contract for user accounts.
// Implementations must be safe for concurrent use.
type UserStore interface {
	// Create inserts a new user. Returns ErrEmailExists on a duplicate
	// email.
	Create(ctx context.Context, u *domain.User) error

	// GetByEmail returns the user with the given email, or ErrUserNotFound.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByID returns the user with the given id, or ErrUserNotFound.
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// ConnectionStore defines the data access contract for linked provider
// accounts.
type ConnectionStore interface {
	// Upsert inserts the connection or, when the (user, provider) pair is
	// already linked, replaces its address and token fields.
	Upsert(ctx context.Context, conn *domain.ProviderConnection) error

	// ListByUser returns the user's linked accounts.
	ListByUser(ctx context.Context, userID string) ([]domain.ProviderConnection, error)

	// Delete unlinks a provider. Returns ErrConnectionNotFound when no
	// connection exists.
	Delete(ctx context.Context, userID string, p domain.Provider) error
}
