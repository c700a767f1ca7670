package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mailscope/mailscope/internal/dispatch"
	"github.com/mailscope/mailscope/internal/domain"
	"github.com/mailscope/mailscope/internal/tracking"
)

// MessageRepo implements dispatch.MessageStore and tracking.MessageFinder
// against PostgreSQL.
type MessageRepo struct{ db *sql.DB }

// NewMessageRepo creates a Postgres-backed message repository.
func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{db: db} }

const messageColumns = `
	id, user_id, recipients_to, recipients_cc, recipients_bcc,
	subject, body, COALESCE(html_body,''), provider, tracking_id,
	status, sent_count, COALESCE(error,''), COALESCE(provider_message_id,''),
	created_at`

func (r *MessageRepo) Create(ctx context.Context, m *domain.SentMessage) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sent_messages
			(id, user_id, recipients_to, recipients_cc, recipients_bcc,
			 subject, body, html_body, provider, tracking_id,
			 status, sent_count, error, provider_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, m.ID, m.UserID, pq.Array(m.To), pq.Array(m.Cc), pq.Array(m.Bcc),
		m.Subject, m.Body, m.HTMLBody, m.Provider, m.TrackingID,
		m.Status, m.SentCount, m.Error, m.ProviderMessageID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("create sent message: %w", err)
	}
	return nil
}

func (r *MessageRepo) Get(ctx context.Context, userID, id string) (*domain.SentMessage, error) {
	m, err := r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM sent_messages
		WHERE id = $1 AND user_id = $2
	`, id, userID))
	if err == sql.ErrNoRows {
		return nil, dispatch.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sent message: %w", err)
	}
	return m, nil
}

// FindByTrackingID resolves a beacon hit to its message. Ownership is not
// checked here: beacon requests are unauthenticated by nature.
func (r *MessageRepo) FindByTrackingID(ctx context.Context, trackingID string) (*domain.SentMessage, error) {
	m, err := r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM sent_messages
		WHERE tracking_id = $1
	`, trackingID))
	if err == sql.ErrNoRows {
		return nil, tracking.ErrUnknownTrackingID
	}
	if err != nil {
		return nil, fmt.Errorf("find by tracking id: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) List(ctx context.Context, userID string, f dispatch.ListFilter) ([]domain.SentMessage, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM sent_messages WHERE user_id = $1`
	countArgs := []interface{}{userID}
	if f.Status != "" {
		countQ += ` AND status = $2`
		countArgs = append(countArgs, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sent messages: %w", err)
	}

	q := `SELECT ` + messageColumns + ` FROM sent_messages WHERE user_id = $1`
	args := []interface{}{userID}
	idx := 2
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sent messages: %w", err)
	}
	defer rows.Close()

	var out []domain.SentMessage
	for rows.Next() {
		var m domain.SentMessage
		if err := rows.Scan(
			&m.ID, &m.UserID, pq.Array(&m.To), pq.Array(&m.Cc), pq.Array(&m.Bcc),
			&m.Subject, &m.Body, &m.HTMLBody, &m.Provider, &m.TrackingID,
			&m.Status, &m.SentCount, &m.Error, &m.ProviderMessageID, &m.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan sent message: %w", err)
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// Delete removes a message. Its tracking events go with it via the
// ON DELETE CASCADE on tracking_events.tracking_id.
func (r *MessageRepo) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sent_messages WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("delete sent message: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return dispatch.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) scanOne(row *sql.Row) (*domain.SentMessage, error) {
	m := &domain.SentMessage{}
	err := row.Scan(
		&m.ID, &m.UserID, pq.Array(&m.To), pq.Array(&m.Cc), pq.Array(&m.Bcc),
		&m.Subject, &m.Body, &m.HTMLBody, &m.Provider, &m.TrackingID,
		&m.Status, &m.SentCount, &m.Error, &m.ProviderMessageID, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
