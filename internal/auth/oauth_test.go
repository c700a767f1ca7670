package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/mailscope/mailscope/internal/domain"
)

func TestConnectorComplete(t *testing.T) {
	token := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if code := r.Form.Get("code"); code != "consent-code" && code == "" {
			t.Errorf("code = %q", code)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "linked-access",
			"refresh_token": "linked-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer token.Close()

	userinfo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer linked-access" {
			t.Errorf("authorization = %q", auth)
		}
		json.NewEncoder(w).Encode(map[string]string{"email": "jo@gmail.com"})
	}))
	defer userinfo.Close()

	conns := newMemConns()
	c := NewConnector(conns, ConnectorConfig{
		GoogleClientID: "cid", GoogleClientSecret: "secret",
		BaseURL:           "https://app.example.com",
		GoogleEndpoint:    oauth2.Endpoint{AuthURL: token.URL + "/auth", TokenURL: token.URL},
		GoogleUserInfoURL: userinfo.URL,
	})

	conn, err := c.Complete(context.Background(), domain.ProviderGmail, "user-1", "consent-code")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if conn.Email != "jo@gmail.com" {
		t.Errorf("email = %q", conn.Email)
	}
	if conn.AccessToken != "linked-access" || conn.RefreshToken != "linked-refresh" {
		t.Errorf("tokens = %q / %q", conn.AccessToken, conn.RefreshToken)
	}
	if conn.AccessTokenExpires.IsZero() {
		t.Error("expiry not recorded")
	}

	stored, ok := conns.rows["user-1/gmail"]
	if !ok {
		t.Fatal("connection not upserted")
	}
	if stored.Email != "jo@gmail.com" {
		t.Errorf("stored email = %q", stored.Email)
	}
}

func TestConnectorCompleteGraphFallsBackToUPN(t *testing.T) {
	token := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "linked-access", "token_type": "Bearer", "expires_in": 3600,
		})
	}))
	defer token.Close()

	me := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"mail":              "",
			"userPrincipalName": "jo@contoso.onmicrosoft.com",
		})
	}))
	defer me.Close()

	c := NewConnector(newMemConns(), ConnectorConfig{
		MicrosoftClientID: "cid", MicrosoftClientSecret: "secret",
		BaseURL:           "https://app.example.com",
		MicrosoftEndpoint: oauth2.Endpoint{AuthURL: token.URL + "/auth", TokenURL: token.URL},
		GraphMeURL:        me.URL,
	})

	conn, err := c.Complete(context.Background(), domain.ProviderOutlook, "user-1", "code")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if conn.Email != "jo@contoso.onmicrosoft.com" {
		t.Errorf("email = %q, want principal name fallback", conn.Email)
	}
}

func TestAuthCodeURLRequestsOfflineAccess(t *testing.T) {
	c := NewConnector(newMemConns(), ConnectorConfig{
		GoogleClientID: "cid", BaseURL: "https://app.example.com",
	})

	u, err := c.AuthCodeURL(domain.ProviderGmail, "state-123")
	if err != nil {
		t.Fatalf("AuthCodeURL: %v", err)
	}
	for _, want := range []string{"state=state-123", "access_type=offline", "prompt=consent"} {
		if !strings.Contains(u, want) {
			t.Errorf("url %q missing %q", u, want)
		}
	}

	if _, err := c.AuthCodeURL(domain.Provider("yahoo"), "s"); err == nil {
		t.Error("unsupported provider accepted")
	}
}
