package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/mailscope/mailscope/internal/domain"
	"github.com/mailscope/mailscope/internal/pkg/httpretry"
	"github.com/mailscope/mailscope/internal/pkg/logger"
)

const gmailDefaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

// GmailConfig configures the Gmail transport. BaseURL and Endpoint exist
// so tests can point the transport at a fake API.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Endpoint     oauth2.Endpoint
	Timeout      time.Duration
}

// Gmail submits messages through the Gmail messages.send API: the RFC 2822
// document is base64url-encoded into the "raw" field.
type Gmail struct {
	baseURL   string
	client    httpretry.HTTPDoer
	refresher *tokenRefresher
}

// NewGmail creates a Gmail transport. A nil client gets the default
// retrying client.
func NewGmail(cfg GmailConfig, client httpretry.HTTPDoer) *Gmail {
	if cfg.BaseURL == "" {
		cfg.BaseURL = gmailDefaultBaseURL
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = google.Endpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout}, 3)
	}

	return &Gmail{
		baseURL: cfg.BaseURL,
		client:  client,
		refresher: &tokenRefresher{cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     cfg.Endpoint,
		}},
	}
}

// Provider identifies this transport's variant.
func (g *Gmail) Provider() domain.Provider { return domain.ProviderGmail }

// Send encodes and submits one message. On a 401 the token is refreshed and
// the submission retried once; a second rejection means the connection is
// dead and surfaces as ErrAuthExpired. Any refresh leaves the rotated
// snapshot on conn for the caller to persist.
func (g *Gmail) Send(ctx context.Context, conn *domain.ProviderConnection, msg *Message) (*SendResult, error) {
	if err := g.refresher.ensureFresh(ctx, conn); err != nil {
		return nil, err
	}

	raw, err := buildRFC2822(msg)
	if err != nil {
		return nil, &TransportError{Provider: domain.ProviderGmail, Msg: err.Error()}
	}
	payload, err := json.Marshal(map[string]string{
		"raw": base64.URLEncoding.EncodeToString(raw),
	})
	if err != nil {
		return nil, &TransportError{Provider: domain.ProviderGmail, Msg: err.Error()}
	}

	result, status, err := g.submit(ctx, conn.AccessToken, payload)
	if status == http.StatusUnauthorized {
		if rerr := g.refresher.refresh(ctx, conn); rerr != nil {
			return nil, rerr
		}
		result, status, err = g.submit(ctx, conn.AccessToken, payload)
		if status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: gmail rejected refreshed token", ErrAuthExpired)
		}
	}
	if err != nil {
		return nil, err
	}

	logger.Info("gmail message sent", "recipient", msg.To, "message_id", result.ProviderMessageID)
	return result, nil
}

// submit posts the payload and decodes the provider message id.
func (g *Gmail) submit(ctx context.Context, accessToken string, payload []byte) (*SendResult, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/users/me/messages/send", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, &TransportError{Provider: domain.ProviderGmail, Msg: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Provider: domain.ProviderGmail, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, &TransportError{
			Provider:   domain.ProviderGmail,
			StatusCode: resp.StatusCode,
			Msg:        gmailErrorMessage(body),
		}
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resp.StatusCode, &TransportError{Provider: domain.ProviderGmail, Msg: "decode response: " + err.Error()}
	}
	return &SendResult{ProviderMessageID: out.ID}, resp.StatusCode, nil
}

// gmailErrorMessage extracts the API error message, falling back to the
// raw body when the envelope doesn't parse.
func gmailErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(body)
}
