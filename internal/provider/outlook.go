package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/mailscope/mailscope/internal/domain"
	"github.com/mailscope/mailscope/internal/pkg/httpretry"
	"github.com/mailscope/mailscope/internal/pkg/logger"
)

const outlookDefaultBaseURL = "https://graph.microsoft.com/v1.0"

// OutlookConfig configures the Outlook transport. BaseURL and Endpoint are
// overridable for tests.
type OutlookConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Endpoint     oauth2.Endpoint
	Timeout      time.Duration
}

// Outlook submits messages through the Microsoft Graph sendMail action.
// Graph accepts the message as structured JSON and answers 202 with an
// empty body, so sends through this transport carry no provider message id.
type Outlook struct {
	baseURL   string
	client    httpretry.HTTPDoer
	refresher *tokenRefresher
}

// NewOutlook creates an Outlook transport. A nil client gets the default
// retrying client.
func NewOutlook(cfg OutlookConfig, client httpretry.HTTPDoer) *Outlook {
	if cfg.BaseURL == "" {
		cfg.BaseURL = outlookDefaultBaseURL
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = microsoft.AzureADEndpoint("common")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout}, 3)
	}

	return &Outlook{
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
func (o *Outlook) Provider() domain.Provider { return domain.ProviderOutlook }

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphSendMail struct {
	Message struct {
		Subject      string           `json:"subject"`
		Body         graphBody        `json:"body"`
		ToRecipients []graphRecipient `json:"toRecipients"`
	} `json:"message"`
	SaveToSentItems bool `json:"saveToSentItems"`
}

// Send submits one message. Same 401 contract as Gmail: refresh once, retry
// once, then ErrAuthExpired.
func (o *Outlook) Send(ctx context.Context, conn *domain.ProviderConnection, msg *Message) (*SendResult, error) {
	if err := o.refresher.ensureFresh(ctx, conn); err != nil {
		return nil, err
	}

	var body graphSendMail
	body.Message.Subject = msg.Subject
	if msg.HTMLBody != "" {
		body.Message.Body = graphBody{ContentType: "HTML", Content: msg.HTMLBody}
	} else {
		body.Message.Body = graphBody{ContentType: "Text", Content: msg.TextBody}
	}
	var rcpt graphRecipient
	rcpt.EmailAddress.Address = msg.To
	body.Message.ToRecipients = []graphRecipient{rcpt}
	body.SaveToSentItems = true

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &TransportError{Provider: domain.ProviderOutlook, Msg: err.Error()}
	}

	status, err := o.submit(ctx, conn.AccessToken, payload)
	if status == http.StatusUnauthorized {
		if rerr := o.refresher.refresh(ctx, conn); rerr != nil {
			return nil, rerr
		}
		status, err = o.submit(ctx, conn.AccessToken, payload)
		if status == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: graph rejected refreshed token", ErrAuthExpired)
		}
	}
	if err != nil {
		return nil, err
	}

	logger.Info("outlook message sent", "recipient", msg.To)
	return &SendResult{}, nil
}

// submit posts the sendMail payload. Graph answers 202 Accepted on success.
func (o *Outlook) submit(ctx context.Context, accessToken string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/me/sendMail", bytes.NewReader(payload))
	if err != nil {
		return 0, &TransportError{Provider: domain.ProviderOutlook, Msg: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, &TransportError{Provider: domain.ProviderOutlook, Msg: err.Error()}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return resp.StatusCode, &TransportError{
			Provider:   domain.ProviderOutlook,
			StatusCode: resp.StatusCode,
			Msg:        graphErrorMessage(respBody),
		}
	}
	return resp.StatusCode, nil
}

// graphErrorMessage extracts the Graph error message, falling back to the
// raw body.
func graphErrorMessage(body []byte) string {
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
