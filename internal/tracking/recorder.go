package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailscope/mailscope/internal/domain"
	"github.com/mailscope/mailscope/internal/pkg/logger"
)

// ErrUnknownTrackingID is returned by MessageFinder implementations when no
// sent message matches a tracking id.
var ErrUnknownTrackingID = errors.New("unknown tracking id")

// MessageFinder resolves a tracking id to its sent message. Implementations
// must be safe for concurrent use.
type MessageFinder interface {
	FindByTrackingID(ctx context.Context, trackingID string) (*domain.SentMessage, error)
}

// EventAppender persists tracking events. Rows are append-only.
type EventAppender interface {
	Append(ctx context.Context, evt *domain.TrackingEvent) error
}

// Recorder ingests beacon hits, suppresses automated same-request artifacts
// via the cooldown window, and persists one event per genuine hit.
type Recorder struct {
	messages MessageFinder
	events   EventAppender
	cooldown time.Duration
	now      func() time.Time
}

// NewRecorder creates a recorder. A non-positive cooldown disables
// suppression entirely.
func NewRecorder(messages MessageFinder, events EventAppender, cooldown time.Duration) *Recorder {
	return &Recorder{
		messages: messages,
		events:   events,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// RecordOpen processes an open-beacon hit. Unknown tracking ids and hits
// inside the cooldown window are dropped without error: the pixel must
// render no matter what, and the caller serves it regardless.
func (r *Recorder) RecordOpen(ctx context.Context, trackingID, recipient string, meta domain.RequestMeta) error {
	ok, err := r.shouldRecord(ctx, trackingID)
	if err != nil || !ok {
		return err
	}

	evt := &domain.TrackingEvent{
		ID:             uuid.New().String(),
		TrackingID:     trackingID,
		EventType:      domain.EventOpen,
		RecipientEmail: recipient,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
		CreatedAt:      r.now().UTC(),
	}
	if err := r.events.Append(ctx, evt); err != nil {
		return fmt.Errorf("append open event: %w", err)
	}

	logger.Debug("recorded open", "tracking_id", trackingID, "recipient", recipient)
	return nil
}

// RecordClick processes a click-beacon hit and always returns the original
// destination so the caller can redirect, whether or not an event was
// written.
func (r *Recorder) RecordClick(ctx context.Context, trackingID, recipient, destination string, meta domain.RequestMeta) (string, error) {
	ok, err := r.shouldRecord(ctx, trackingID)
	if err != nil || !ok {
		return destination, err
	}

	evt := &domain.TrackingEvent{
		ID:             uuid.New().String(),
		TrackingID:     trackingID,
		EventType:      domain.EventClick,
		RecipientEmail: recipient,
		ClickedURL:     destination,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
		CreatedAt:      r.now().UTC(),
	}
	if err := r.events.Append(ctx, evt); err != nil {
		return destination, fmt.Errorf("append click event: %w", err)
	}

	logger.Debug("recorded click", "tracking_id", trackingID, "recipient", recipient, "url", destination)
	return destination, nil
}

// shouldRecord applies the unknown-id and cooldown filters. The cooldown
// treats hits arriving within the window of the send timestamp as mail-client
// prefetching or provider link scanning, not human activity. It is a
// heuristic: a genuinely fast human open inside the window is lost.
func (r *Recorder) shouldRecord(ctx context.Context, trackingID string) (bool, error) {
	msg, err := r.messages.FindByTrackingID(ctx, trackingID)
	if errors.Is(err, ErrUnknownTrackingID) {
		logger.Debug("beacon hit for unknown tracking id", "tracking_id", trackingID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find message for tracking id: %w", err)
	}

	if r.cooldown > 0 {
		if elapsed := r.now().Sub(msg.CreatedAt); elapsed < r.cooldown {
			logger.Debug("suppressed beacon hit inside cooldown",
				"tracking_id", trackingID, "elapsed", elapsed)
			return false, nil
		}
	}
	return true, nil
}
