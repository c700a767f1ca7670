package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/mailscope/mailscope/internal/domain"
)

func TestOutlookSendSuccess(t *testing.T) {
	var got graphSendMail
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/sendMail" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer live-token" {
			t.Errorf("authorization = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer api.Close()

	o := NewOutlook(OutlookConfig{
		ClientID: "cid", ClientSecret: "secret",
		BaseURL: api.URL,
	}, &http.Client{Timeout: 5 * time.Second})

	res, err := o.Send(context.Background(), testConn(domain.ProviderOutlook), testMessage())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	// Graph answers 202 with no body; there is no provider message id.
	if res.ProviderMessageID != "" {
		t.Errorf("message id = %q, want empty", res.ProviderMessageID)
	}

	if got.Message.Subject != "Quarterly update" {
		t.Errorf("subject = %q", got.Message.Subject)
	}
	if got.Message.Body.ContentType != "HTML" {
		t.Errorf("content type = %q, want HTML preferred", got.Message.Body.ContentType)
	}
	if len(got.Message.ToRecipients) != 1 || got.Message.ToRecipients[0].EmailAddress.Address != "rcpt@example.com" {
		t.Errorf("recipients = %+v", got.Message.ToRecipients)
	}
	if !got.SaveToSentItems {
		t.Error("saveToSentItems = false, want true")
	}
}

func TestOutlookSendTextOnlyBody(t *testing.T) {
	var got graphSendMail
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer api.Close()

	o := NewOutlook(OutlookConfig{
		ClientID: "cid", ClientSecret: "secret",
		BaseURL: api.URL,
	}, &http.Client{Timeout: 5 * time.Second})

	msg := testMessage()
	msg.HTMLBody = ""
	if _, err := o.Send(context.Background(), testConn(domain.ProviderOutlook), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Message.Body.ContentType != "Text" {
		t.Errorf("content type = %q, want Text", got.Message.Body.ContentType)
	}
	if got.Message.Body.Content != "Hello there" {
		t.Errorf("content = %q", got.Message.Body.Content)
	}
}

func TestOutlookSendRefreshesOn401(t *testing.T) {
	token := fakeTokenEndpoint(t)
	defer token.Close()

	var calls int
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") != "Bearer rotated-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer api.Close()

	o := NewOutlook(OutlookConfig{
		ClientID: "cid", ClientSecret: "secret",
		BaseURL:  api.URL,
		Endpoint: oauth2.Endpoint{TokenURL: token.URL},
	}, &http.Client{Timeout: 5 * time.Second})

	conn := testConn(domain.ProviderOutlook)
	if _, err := o.Send(context.Background(), conn, testMessage()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls != 2 {
		t.Errorf("api calls = %d, want 2", calls)
	}
	if conn.AccessToken != "rotated-token" {
		t.Errorf("conn access token = %q", conn.AccessToken)
	}
}

func TestOutlookSendAuthExpiredAfterRetry(t *testing.T) {
	token := fakeTokenEndpoint(t)
	defer token.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	o := NewOutlook(OutlookConfig{
		ClientID: "cid", ClientSecret: "secret",
		BaseURL:  api.URL,
		Endpoint: oauth2.Endpoint{TokenURL: token.URL},
	}, &http.Client{Timeout: 5 * time.Second})

	_, err := o.Send(context.Background(), testConn(domain.ProviderOutlook), testMessage())
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("err = %v, want ErrAuthExpired", err)
	}
}

func TestOutlookSendServerError(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"ErrorAccessDenied","message":"Access is denied."}}`))
	}))
	defer api.Close()

	o := NewOutlook(OutlookConfig{
		ClientID: "cid", ClientSecret: "secret",
		BaseURL: api.URL,
	}, &http.Client{Timeout: 5 * time.Second})

	_, err := o.Send(context.Background(), testConn(domain.ProviderOutlook), testMessage())

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d", te.StatusCode)
	}
	if te.Provider != domain.ProviderOutlook {
		t.Errorf("provider = %s", te.Provider)
	}
}

func TestRegistrySelectsByProvider(t *testing.T) {
	g := NewGmail(GmailConfig{ClientID: "cid"}, &http.Client{})
	o := NewOutlook(OutlookConfig{ClientID: "cid"}, &http.Client{})
	reg := NewRegistry(g, o)

	tr, err := reg.For(domain.ProviderGmail)
	if err != nil || tr.Provider() != domain.ProviderGmail {
		t.Errorf("For(gmail) = %v, %v", tr, err)
	}
	tr, err = reg.For(domain.ProviderOutlook)
	if err != nil || tr.Provider() != domain.ProviderOutlook {
		t.Errorf("For(outlook) = %v, %v", tr, err)
	}
	if _, err := reg.For(domain.Provider("yahoo")); err == nil {
		t.Error("For(yahoo) succeeded, want error")
	}
}
