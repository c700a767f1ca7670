// Package provider contains the per-provider mail transports. Each variant
// knows how to encode a single-recipient message into its provider's wire
// format and submit it with a stored OAuth access token, refreshing the
// token in-band when the provider rejects it.
//
// Transports are a closed variant set selected once per send request;
// adding a provider means adding one variant, not editing conditionals.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailscope/mailscope/internal/domain"
)

// ErrAuthExpired signals that the provider rejected the stored token even
// after an attempted refresh. The user must reconnect the account.
var ErrAuthExpired = errors.New("provider auth expired")

// TransportError is any other submission failure: network trouble, a
// malformed payload, or a provider-side rejection.
type TransportError struct {
	Provider   domain.Provider
	StatusCode int
	Msg        string
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s transport: status %d: %s", e.Provider, e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("%s transport: %s", e.Provider, e.Msg)
}

// Message is one recipient's fully instrumented copy of a send.
type Message struct {
	From     string // the connected account's address
	To       string // exactly one recipient
	Subject  string
	TextBody string
	HTMLBody string
}

// SendResult reports a successful submission.
type SendResult struct {
	ProviderMessageID string
}

// Transport submits one message through one provider. Implementations
// mutate conn's token fields when a refresh occurs during Send; the caller
// persists the updated snapshot afterwards.
type Transport interface {
	Provider() domain.Provider
	Send(ctx context.Context, conn *domain.ProviderConnection, msg *Message) (*SendResult, error)
}

// Registry holds the configured transport variants keyed by provider.
type Registry struct {
	transports map[domain.Provider]Transport
}

// NewRegistry builds a registry from the given transports.
func NewRegistry(transports ...Transport) *Registry {
	m := make(map[domain.Provider]Transport, len(transports))
	for _, t := range transports {
		m[t.Provider()] = t
	}
	return &Registry{transports: m}
}

// For returns the transport for p, or an error for unsupported providers.
func (r *Registry) For(p domain.Provider) (Transport, error) {
	t, ok := r.transports[p]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q", p)
	}
	return t, nil
}
