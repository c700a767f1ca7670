package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/mailscope/mailscope/internal/domain"
	"github.com/mailscope/mailscope/internal/pkg/logger"
)

// ConnectorConfig configures the OAuth account-linking flows. The URL
// fields are overridable for tests and default to the real endpoints.
type ConnectorConfig struct {
	GoogleClientID        string
	GoogleClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string

	// BaseURL is the public address callbacks come back to, e.g.
	// https://app.example.com.
	BaseURL string

	GoogleEndpoint    oauth2.Endpoint
	MicrosoftEndpoint oauth2.Endpoint
	GoogleUserInfoURL string
	GraphMeURL        string
}

// Connector runs the provider OAuth flows that link a mail account to a
// user. Tokens are requested with offline access so the send path can
// refresh them without the user present.
type Connector struct {
	connections ConnectionStore
	configs     map[domain.Provider]*oauth2.Config
	userInfoURL map[domain.Provider]string
	client      *http.Client
}

// NewConnector creates a connector for both providers.
func NewConnector(connections ConnectionStore, cfg ConnectorConfig) *Connector {
	if cfg.GoogleEndpoint.AuthURL == "" {
		cfg.GoogleEndpoint = google.Endpoint
	}
	if cfg.MicrosoftEndpoint.AuthURL == "" {
		cfg.MicrosoftEndpoint = microsoft.AzureADEndpoint("common")
	}
	if cfg.GoogleUserInfoURL == "" {
		cfg.GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	}
	if cfg.GraphMeURL == "" {
		cfg.GraphMeURL = "https://graph.microsoft.com/v1.0/me"
	}

	return &Connector{
		connections: connections,
		configs: map[domain.Provider]*oauth2.Config{
			domain.ProviderGmail: {
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  cfg.BaseURL + "/api/connect/gmail/callback",
				Scopes: []string{
					"https://www.googleapis.com/auth/gmail.send",
					"https://www.googleapis.com/auth/userinfo.email",
				},
				Endpoint: cfg.GoogleEndpoint,
			},
			domain.ProviderOutlook: {
				ClientID:     cfg.MicrosoftClientID,
				ClientSecret: cfg.MicrosoftClientSecret,
				RedirectURL:  cfg.BaseURL + "/api/connect/outlook/callback",
				Scopes: []string{
					"offline_access",
					"https://graph.microsoft.com/Mail.Send",
					"https://graph.microsoft.com/User.Read",
				},
				Endpoint: cfg.MicrosoftEndpoint,
			},
		},
		userInfoURL: map[domain.Provider]string{
			domain.ProviderGmail:   cfg.GoogleUserInfoURL,
			domain.ProviderOutlook: cfg.GraphMeURL,
		},
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// AuthCodeURL returns the provider consent URL for the given state.
// Google needs the offline access type plus forced consent or it only
// hands out a refresh token on the first-ever grant.
func (c *Connector) AuthCodeURL(p domain.Provider, state string) (string, error) {
	cfg, ok := c.configs[p]
	if !ok {
		return "", fmt.Errorf("unsupported provider %q", p)
	}
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent")), nil
}

// Complete exchanges the callback code, resolves the linked mailbox
// address, and upserts the user's connection for the provider.
func (c *Connector) Complete(ctx context.Context, p domain.Provider, userID, code string) (*domain.ProviderConnection, error) {
	cfg, ok := c.configs[p]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q", p)
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	email, err := c.accountEmail(ctx, p, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	conn := &domain.ProviderConnection{
		ID:                 uuid.New().String(),
		UserID:             userID,
		Provider:           p,
		Email:              email,
		AccessToken:        tok.AccessToken,
		RefreshToken:       tok.RefreshToken,
		AccessTokenExpires: tok.Expiry,
		ConnectedAt:        time.Now().UTC(),
	}
	if err := c.connections.Upsert(ctx, conn); err != nil {
		return nil, fmt.Errorf("store connection: %w", err)
	}

	logger.Info("provider connected",
		"provider", string(p), "email", logger.RedactEmail(email))
	return conn, nil
}

// accountEmail asks the provider which mailbox the token belongs to.
func (c *Connector) accountEmail(ctx context.Context, p domain.Provider, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL[p], nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch account info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("account info: status %d: %s", resp.StatusCode, body)
	}

	var info struct {
		Email             string `json:"email"`             // google userinfo
		Mail              string `json:"mail"`              // graph /me
		UserPrincipalName string `json:"userPrincipalName"` // graph fallback
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode account info: %w", err)
	}

	switch {
	case info.Email != "":
		return info.Email, nil
	case info.Mail != "":
		return info.Mail, nil
	case info.UserPrincipalName != "":
		return info.UserPrincipalName, nil
	}
	return "", fmt.Errorf("provider returned no mailbox address")
}

// NewState returns a random state value for the consent redirect.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
