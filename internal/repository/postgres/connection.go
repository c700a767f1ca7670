package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mailscope/mailscope/internal/auth"
	"github.com/mailscope/mailscope/internal/dispatch"
	"github.com/mailscope/mailscope/internal/domain"
)

// ConnectionRepo implements auth.ConnectionStore and dispatch.ConnectionStore
// against PostgreSQL. One row per (user, provider) pair.
type ConnectionRepo struct{ db *sql.DB }

// NewConnectionRepo creates a Postgres-backed connection repository.
func NewConnectionRepo(db *sql.DB) *ConnectionRepo { return &ConnectionRepo{db: db} }

// Upsert links a provider account, replacing the address and token pair when
// the user re-links the same provider.
func (r *ConnectionRepo) Upsert(ctx context.Context, c *domain.ProviderConnection) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO provider_connections
			(id, user_id, provider, email, access_token, refresh_token,
			 access_token_expires, connected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			email = EXCLUDED.email,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			access_token_expires = EXCLUDED.access_token_expires,
			connected_at = EXCLUDED.connected_at
	`, c.ID, c.UserID, c.Provider, c.Email, c.AccessToken, c.RefreshToken,
		c.AccessTokenExpires, c.ConnectedAt)
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}
	return nil
}

func (r *ConnectionRepo) Get(ctx context.Context, userID string, p domain.Provider) (*domain.ProviderConnection, error) {
	c := &domain.ProviderConnection{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider, email, access_token,
		       COALESCE(refresh_token,''), access_token_expires, connected_at
		FROM provider_connections
		WHERE user_id = $1 AND provider = $2
	`, userID, p).Scan(
		&c.ID, &c.UserID, &c.Provider, &c.Email, &c.AccessToken,
		&c.RefreshToken, &c.AccessTokenExpires, &c.ConnectedAt,
	)
	if err == sql.ErrNoRows {
		return nil, dispatch.ErrNoConnection
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

func (r *ConnectionRepo) ListByUser(ctx context.Context, userID string) ([]domain.ProviderConnection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, provider, email, access_token,
		       COALESCE(refresh_token,''), access_token_expires, connected_at
		FROM provider_connections
		WHERE user_id = $1
		ORDER BY connected_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []domain.ProviderConnection
	for rows.Next() {
		var c domain.ProviderConnection
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.Provider, &c.Email, &c.AccessToken,
			&c.RefreshToken, &c.AccessTokenExpires, &c.ConnectedAt,
		); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateTokens persists a snapshot rotated by a send-path refresh.
func (r *ConnectionRepo) UpdateTokens(ctx context.Context, c *domain.ProviderConnection) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE provider_connections
		SET access_token = $1, refresh_token = $2, access_token_expires = $3
		WHERE user_id = $4 AND provider = $5
	`, c.AccessToken, c.RefreshToken, c.AccessTokenExpires, c.UserID, c.Provider)
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return dispatch.ErrNoConnection
	}
	return nil
}

func (r *ConnectionRepo) Delete(ctx context.Context, userID string, p domain.Provider) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM provider_connections WHERE user_id = $1 AND provider = $2
	`, userID, p)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return auth.ErrConnectionNotFound
	}
	return nil
}
