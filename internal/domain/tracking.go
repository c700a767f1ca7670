package domain

import "time"

// TrackingEventType enumerates recipient engagement events.
type TrackingEventType string

const (
	EventOpen  TrackingEventType = "open"
	EventClick TrackingEventType = "click"
)

// TrackingEvent is one genuine open or click. Rows are append-only and are
// never mutated; many events reference one SentMessage via TrackingID.
type TrackingEvent struct {
	ID             string            `json:"id"`
	TrackingID     string            `json:"tracking_id"`
	EventType      TrackingEventType `json:"event_type"`
	RecipientEmail string            `json:"recipient_email,omitempty"`
	ClickedURL     string            `json:"clicked_url,omitempty"`
	IPAddress      string            `json:"ip_address,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// RequestMeta carries network metadata from a beacon hit into the recorder.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}
