package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mailscope/mailscope/internal/domain"
)

// EventRepo implements tracking.EventAppender and dispatch.EventStore
// against PostgreSQL. The table is append-only.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed tracking event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) Append(ctx context.Context, e *domain.TrackingEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tracking_events
			(id, tracking_id, event_type, recipient_email, clicked_url,
			 ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.TrackingID, e.EventType, e.RecipientEmail, e.ClickedURL,
		e.IPAddress, e.UserAgent, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append tracking event: %w", err)
	}
	return nil
}

func (r *EventRepo) ListByTrackingID(ctx context.Context, trackingID string) ([]domain.TrackingEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tracking_id, event_type, COALESCE(recipient_email,''),
		       COALESCE(clicked_url,''), COALESCE(ip_address,''),
		       COALESCE(user_agent,''), created_at
		FROM tracking_events
		WHERE tracking_id = $1
		ORDER BY created_at ASC
	`, trackingID)
	if err != nil {
		return nil, fmt.Errorf("list tracking events: %w", err)
	}
	defer rows.Close()

	var out []domain.TrackingEvent
	for rows.Next() {
		var e domain.TrackingEvent
		if err := rows.Scan(
			&e.ID, &e.TrackingID, &e.EventType, &e.RecipientEmail,
			&e.ClickedURL, &e.IPAddress, &e.UserAgent, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tracking event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
