package domain

import "time"

// Provider identifies which linked mail account a message goes out through.
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	return p == ProviderGmail || p == ProviderOutlook
}

// MessageStatus is the terminal state of a logical send.
type MessageStatus string

const (
	StatusSent   MessageStatus = "sent"
	StatusFailed MessageStatus = "failed"
	StatusDraft  MessageStatus = "draft"
)

// SendRequest is the transient input to a dispatch. It is never persisted;
// the resulting SentMessage is.
type SendRequest struct {
	To       []string `json:"to"`
	Cc       []string `json:"cc,omitempty"`
	Bcc      []string `json:"bcc,omitempty"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	HTMLBody string   `json:"html_body,omitempty"`
	Provider Provider `json:"provider"`
}

// Recipients flattens to+cc+bcc in that order. Duplicates are preserved:
// every copy gets its own tracking instrumentation.
func (r *SendRequest) Recipients() []string {
	out := make([]string, 0, len(r.To)+len(r.Cc)+len(r.Bcc))
	out = append(out, r.To...)
	out = append(out, r.Cc...)
	out = append(out, r.Bcc...)
	return out
}

// SentMessage is the persisted record of one logical send. Created exactly
// once after dispatch completes and immutable thereafter except for deletion.
type SentMessage struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	To                []string      `json:"to"`
	Cc                []string      `json:"cc,omitempty"`
	Bcc               []string      `json:"bcc,omitempty"`
	Subject           string        `json:"subject"`
	Body              string        `json:"body"`
	HTMLBody          string        `json:"html_body,omitempty"`
	Provider          Provider      `json:"provider"`
	TrackingID        string        `json:"tracking_id"`
	Status            MessageStatus `json:"status"`
	SentCount         int           `json:"sent_count"`
	Error             string        `json:"error,omitempty"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}
