package dispatch

import (
	"context"
	"errors"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/mailscope/mailscope/internal/domain"
	"github.com/mailscope/mailscope/internal/pkg/logger"
	"github.com/mailscope/mailscope/internal/provider"
	"github.com/mailscope/mailscope/internal/tracking"
)

// Service implements the dispatch business logic. All public methods are
// safe for concurrent use if the underlying stores are concurrency-safe.
type Service struct {
	messages    MessageStore
	connections ConnectionStore
	events      EventStore
	transports  *provider.Registry
	rewriter    *tracking.Rewriter

	now func() time.Time
}

// NewService creates a dispatch service.
func NewService(messages MessageStore, connections ConnectionStore, events EventStore, transports *provider.Registry, rewriter *tracking.Rewriter) *Service {
	return &Service{
		messages:    messages,
		connections: connections,
		events:      events,
		transports:  transports,
		rewriter:    rewriter,
		now:         time.Now,
	}
}

// Send dispatches one logical send and persists exactly one SentMessage.
// Every recipient copy shares a single tracking id but carries its own
// instrumented body. A per-recipient transport failure is recorded and the
// remaining recipients still go out; only validation, a missing connection,
// or a persistence failure surface as an error.
func (s *Service) Send(ctx context.Context, userID string, req *domain.SendRequest) (*domain.SentMessage, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	conn, err := s.connections.Get(ctx, userID, req.Provider)
	if err != nil {
		return nil, err
	}
	transport, err := s.transports.For(req.Provider)
	if err != nil {
		return nil, err
	}

	trackingID := uuid.New().String()
	recipients := req.Recipients()

	var (
		sentCount  int
		firstMsgID string
		firstErr   error
	)
	for _, rcpt := range recipients {
		text, html := s.rewriter.Instrument(req.Body, req.HTMLBody, trackingID, rcpt)

		prevToken := conn.AccessToken
		res, sendErr := transport.Send(ctx, conn, &provider.Message{
			From:     conn.Email,
			To:       rcpt,
			Subject:  req.Subject,
			TextBody: text,
			HTMLBody: html,
		})
		// A send-path refresh rotated the token; persist the snapshot so
		// the next dispatch starts from the live credentials.
		if conn.AccessToken != prevToken {
			if uerr := s.connections.UpdateTokens(ctx, conn); uerr != nil {
				logger.Warn("persist rotated token failed",
					"provider", string(conn.Provider), "error", uerr.Error())
			}
		}

		if sendErr != nil {
			logger.Warn("recipient send failed",
				"provider", string(req.Provider),
				"recipient", rcpt,
				"error", sendErr.Error())
			if firstErr == nil {
				firstErr = sendErr
			}
			continue
		}

		sentCount++
		if firstMsgID == "" && res.ProviderMessageID != "" {
			firstMsgID = res.ProviderMessageID
		}
	}

	msg := &domain.SentMessage{
		ID:                uuid.New().String(),
		UserID:            userID,
		To:                req.To,
		Cc:                req.Cc,
		Bcc:               req.Bcc,
		Subject:           req.Subject,
		Body:              req.Body,
		HTMLBody:          req.HTMLBody,
		Provider:          req.Provider,
		TrackingID:        trackingID,
		SentCount:         sentCount,
		ProviderMessageID: firstMsgID,
		CreatedAt:         s.now().UTC(),
	}
	if sentCount > 0 {
		msg.Status = domain.StatusSent
	} else {
		msg.Status = domain.StatusFailed
		if firstErr != nil {
			msg.Error = firstErr.Error()
		}
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	logger.Info("dispatch complete",
		"tracking_id", trackingID,
		"provider", string(req.Provider),
		"recipients", len(recipients),
		"sent", sentCount,
		"status", string(msg.Status))
	return msg, nil
}

// Get returns one of the user's messages.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.SentMessage, error) {
	return s.messages.Get(ctx, userID, id)
}

// List returns the user's messages, newest first.
func (s *Service) List(ctx context.Context, userID string, f ListFilter) ([]domain.SentMessage, int, error) {
	return s.messages.List(ctx, userID, f)
}

// Delete removes a message and its tracking events.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.messages.Delete(ctx, userID, id)
}

// RecipientStats aggregates one recipient's engagement with one send.
type RecipientStats struct {
	Email       string     `json:"email"`
	Opens       int        `json:"opens"`
	Clicks      int        `json:"clicks"`
	LastOpenAt  *time.Time `json:"last_open_at,omitempty"`
	LastClickAt *time.Time `json:"last_click_at,omitempty"`
	ClickedURLs []string   `json:"clicked_urls,omitempty"`
}

// Analytics is a message plus its per-recipient engagement breakdown.
type Analytics struct {
	Message     *domain.SentMessage `json:"message"`
	TotalOpens  int                 `json:"total_opens"`
	TotalClicks int                 `json:"total_clicks"`
	Recipients  []RecipientStats    `json:"recipients"`
}

// MessageAnalytics returns the engagement breakdown for one message.
// Every addressed recipient appears in the result, engaged or not, in the
// original to+cc+bcc order.
func (s *Service) MessageAnalytics(ctx context.Context, userID, id string) (*Analytics, error) {
	msg, err := s.messages.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	events, err := s.events.ListByTrackingID(ctx, msg.TrackingID)
	if err != nil {
		return nil, err
	}

	req := domain.SendRequest{To: msg.To, Cc: msg.Cc, Bcc: msg.Bcc}
	order := req.Recipients()
	byEmail := make(map[string]*RecipientStats, len(order))
	out := &Analytics{Message: msg, Recipients: make([]RecipientStats, 0, len(order))}

	for _, rcpt := range order {
		if _, ok := byEmail[rcpt]; ok {
			continue
		}
		byEmail[rcpt] = &RecipientStats{Email: rcpt}
	}

	for i := range events {
		ev := &events[i]
		st, ok := byEmail[ev.RecipientEmail]
		if !ok {
			// Event for an address we didn't send to; skip rather than
			// invent a recipient row.
			continue
		}
		at := ev.CreatedAt
		switch ev.EventType {
		case domain.EventOpen:
			st.Opens++
			out.TotalOpens++
			st.LastOpenAt = &at
		case domain.EventClick:
			st.Clicks++
			out.TotalClicks++
			st.LastClickAt = &at
			if ev.ClickedURL != "" && !contains(st.ClickedURLs, ev.ClickedURL) {
				st.ClickedURLs = append(st.ClickedURLs, ev.ClickedURL)
			}
		}
	}

	seen := make(map[string]bool, len(order))
	for _, rcpt := range order {
		if seen[rcpt] {
			continue
		}
		seen[rcpt] = true
		out.Recipients = append(out.Recipients, *byEmail[rcpt])
	}
	return out, nil
}

// validate rejects requests that cannot be dispatched at all.
func validate(req *domain.SendRequest) error {
	if !req.Provider.Valid() {
		return &ValidationError{Field: "provider", Msg: "must be gmail or outlook"}
	}
	recipients := req.Recipients()
	if len(recipients) == 0 {
		return &ValidationError{Field: "to", Msg: "at least one recipient is required"}
	}
	for _, rcpt := range recipients {
		if _, err := mail.ParseAddress(rcpt); err != nil {
			return &ValidationError{Field: "to", Msg: "invalid address " + rcpt}
		}
	}
	if req.Subject == "" {
		return &ValidationError{Field: "subject", Msg: "subject is required"}
	}
	if req.Body == "" && req.HTMLBody == "" {
		return &ValidationError{Field: "body", Msg: "body is required"}
	}
	return nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
