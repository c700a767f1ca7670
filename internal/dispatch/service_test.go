package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailscope/mailscope/internal/domain"
	"github.com/mailscope/mailscope/internal/provider"
	"github.com/mailscope/mailscope/internal/tracking"
)

// ---- in-memory fakes ----

type memMessages struct {
	mu   sync.Mutex
	rows []*domain.SentMessage
}

func (m *memMessages) Create(_ context.Context, msg *domain.SentMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, msg)
	return nil
}

func (m *memMessages) Get(_ context.Context, userID, id string) (*domain.SentMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id && r.UserID == userID {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memMessages) List(_ context.Context, userID string, _ ListFilter) ([]domain.SentMessage, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SentMessage
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, len(out), nil
}

func (m *memMessages) Delete(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rows {
		if r.ID == id && r.UserID == userID {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

type memConnections struct {
	conns        map[string]*domain.ProviderConnection
	tokenUpdates int
}

func (m *memConnections) Get(_ context.Context, userID string, p domain.Provider) (*domain.ProviderConnection, error) {
	c, ok := m.conns[userID+"/"+string(p)]
	if !ok {
		return nil, ErrNoConnection
	}
	return c, nil
}

func (m *memConnections) UpdateTokens(_ context.Context, _ *domain.ProviderConnection) error {
	m.tokenUpdates++
	return nil
}

type memEvents struct {
	rows []domain.TrackingEvent
}

func (m *memEvents) ListByTrackingID(_ context.Context, trackingID string) ([]domain.TrackingEvent, error) {
	var out []domain.TrackingEvent
	for _, e := range m.rows {
		if e.TrackingID == trackingID {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakeTransport records submitted messages and fails for configured
// recipients.
type fakeTransport struct {
	p           domain.Provider
	failFor     map[string]error
	rotateToken bool
	sent        []*provider.Message
}

func (f *fakeTransport) Provider() domain.Provider { return f.p }

func (f *fakeTransport) Send(_ context.Context, conn *domain.ProviderConnection, msg *provider.Message) (*provider.SendResult, error) {
	if f.rotateToken {
		conn.AccessToken = "rotated-" + msg.To
	}
	if err, ok := f.failFor[msg.To]; ok {
		return nil, err
	}
	f.sent = append(f.sent, msg)
	return &provider.SendResult{ProviderMessageID: fmt.Sprintf("pm-%d", len(f.sent))}, nil
}

func newTestService(ft *fakeTransport) (*Service, *memMessages, *memConnections, *memEvents) {
	msgs := &memMessages{}
	conns := &memConnections{conns: map[string]*domain.ProviderConnection{
		"user-1/" + string(ft.p): {
			ID: "conn-1", UserID: "user-1", Provider: ft.p,
			Email: "sender@example.com", AccessToken: "tok", RefreshToken: "ref",
		},
	}}
	events := &memEvents{}
	rw := tracking.NewRewriter(tracking.NewCodec("https://trk.example.com"))
	svc := NewService(msgs, conns, events, provider.NewRegistry(ft), rw)
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, msgs, conns, events
}

func sendRequest() *domain.SendRequest {
	return &domain.SendRequest{
		To:       []string{"a@example.com", "b@example.com"},
		Cc:       []string{"c@example.com"},
		Subject:  "Hello",
		Body:     "Check out https://example.com/deal today",
		Provider: domain.ProviderGmail,
	}
}

// ---- tests ----

func TestSendAllRecipientsSucceed(t *testing.T) {
	ft := &fakeTransport{p: domain.ProviderGmail}
	svc, msgs, _, _ := newTestService(ft)

	msg, err := svc.Send(context.Background(), "user-1", sendRequest())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if msg.Status != domain.StatusSent {
		t.Errorf("status = %s, want sent", msg.Status)
	}
	if msg.SentCount != 3 {
		t.Errorf("sent count = %d, want 3", msg.SentCount)
	}
	if msg.Error != "" {
		t.Errorf("error = %q, want empty", msg.Error)
	}
	if msg.ProviderMessageID != "pm-1" {
		t.Errorf("provider message id = %q, want first success's", msg.ProviderMessageID)
	}
	if msg.TrackingID == "" {
		t.Error("tracking id not minted")
	}
	if len(msgs.rows) != 1 {
		t.Fatalf("persisted rows = %d, want exactly 1", len(msgs.rows))
	}
	if len(ft.sent) != 3 {
		t.Fatalf("transport calls = %d, want 3", len(ft.sent))
	}

	// Each copy is instrumented for its own recipient but shares the
	// logical send's tracking id.
	for _, sent := range ft.sent {
		if !strings.Contains(sent.TextBody, "/tracking/click/"+msg.TrackingID+"/") {
			t.Errorf("copy for %s not wrapped with tracking id", sent.To)
		}
		if !strings.Contains(sent.TextBody, url.PathEscape(sent.To)) {
			t.Errorf("copy for %s missing its recipient segment", sent.To)
		}
		if !strings.Contains(sent.HTMLBody, "/tracking/pixel/") {
			t.Errorf("copy for %s missing open beacon", sent.To)
		}
		if sent.From != "sender@example.com" {
			t.Errorf("from = %q, want connection address", sent.From)
		}
	}
}

func TestSendPartialFailureStillSent(t *testing.T) {
	ft := &fakeTransport{
		p:       domain.ProviderGmail,
		failFor: map[string]error{"b@example.com": errors.New("mailbox full")},
	}
	svc, msgs, _, _ := newTestService(ft)

	msg, err := svc.Send(context.Background(), "user-1", sendRequest())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if msg.Status != domain.StatusSent {
		t.Errorf("status = %s, want sent (partial success)", msg.Status)
	}
	if msg.SentCount != 2 {
		t.Errorf("sent count = %d, want 2", msg.SentCount)
	}
	if msg.Error != "" {
		t.Errorf("error = %q, want empty on partial success", msg.Error)
	}
	if len(msgs.rows) != 1 {
		t.Errorf("persisted rows = %d, want 1", len(msgs.rows))
	}
}

func TestSendTotalFailureRecordsFirstError(t *testing.T) {
	ft := &fakeTransport{
		p: domain.ProviderGmail,
		failFor: map[string]error{
			"a@example.com": errors.New("quota exceeded"),
			"b@example.com": errors.New("mailbox full"),
			"c@example.com": errors.New("rejected"),
		},
	}
	svc, msgs, _, _ := newTestService(ft)

	msg, err := svc.Send(context.Background(), "user-1", sendRequest())
	if err != nil {
		t.Fatalf("Send: %v (total failure is captured, not thrown)", err)
	}

	if msg.Status != domain.StatusFailed {
		t.Errorf("status = %s, want failed", msg.Status)
	}
	if msg.SentCount != 0 {
		t.Errorf("sent count = %d, want 0", msg.SentCount)
	}
	if msg.Error != "quota exceeded" {
		t.Errorf("error = %q, want first failure's message", msg.Error)
	}
	if len(msgs.rows) != 1 {
		t.Errorf("persisted rows = %d, want 1 even on total failure", len(msgs.rows))
	}
}

func TestSendPreservesDuplicateRecipients(t *testing.T) {
	ft := &fakeTransport{p: domain.ProviderGmail}
	svc, _, _, _ := newTestService(ft)

	req := sendRequest()
	req.To = []string{"a@example.com"}
	req.Cc = []string{"a@example.com"}
	req.Bcc = nil

	msg, err := svc.Send(context.Background(), "user-1", req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(ft.sent) != 2 {
		t.Errorf("transport calls = %d, want 2 (duplicates get their own copy)", len(ft.sent))
	}
	if msg.SentCount != 2 {
		t.Errorf("sent count = %d, want 2", msg.SentCount)
	}
}

func TestSendValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.SendRequest)
	}{
		{"no recipients", func(r *domain.SendRequest) { r.To, r.Cc, r.Bcc = nil, nil, nil }},
		{"bad address", func(r *domain.SendRequest) { r.To = []string{"not-an-address"} }},
		{"unknown provider", func(r *domain.SendRequest) { r.Provider = "yahoo" }},
		{"empty subject", func(r *domain.SendRequest) { r.Subject = "" }},
		{"empty body", func(r *domain.SendRequest) { r.Body, r.HTMLBody = "", "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{p: domain.ProviderGmail}
			svc, msgs, _, _ := newTestService(ft)

			req := sendRequest()
			tt.mutate(req)

			_, err := svc.Send(context.Background(), "user-1", req)
			if !IsValidation(err) {
				t.Errorf("err = %v, want validation error", err)
			}
			if len(msgs.rows) != 0 {
				t.Error("rejected request was persisted")
			}
			if len(ft.sent) != 0 {
				t.Error("rejected request reached the transport")
			}
		})
	}
}

func TestSendNoConnection(t *testing.T) {
	ft := &fakeTransport{p: domain.ProviderOutlook}
	svc, msgs, _, _ := newTestService(ft)

	req := sendRequest()
	req.Provider = domain.ProviderGmail // user only linked outlook

	_, err := svc.Send(context.Background(), "user-1", req)
	if !errors.Is(err, ErrNoConnection) {
		t.Errorf("err = %v, want ErrNoConnection", err)
	}
	if len(msgs.rows) != 0 {
		t.Error("nothing should be persisted without a connection")
	}
}

func TestSendPersistsRotatedTokens(t *testing.T) {
	ft := &fakeTransport{p: domain.ProviderGmail, rotateToken: true}
	svc, _, conns, _ := newTestService(ft)

	if _, err := svc.Send(context.Background(), "user-1", sendRequest()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if conns.tokenUpdates != 3 {
		t.Errorf("token updates = %d, want one per rotation", conns.tokenUpdates)
	}
}

func TestMessageAnalytics(t *testing.T) {
	ft := &fakeTransport{p: domain.ProviderGmail}
	svc, _, _, events := newTestService(ft)

	msg, err := svc.Send(context.Background(), "user-1", sendRequest())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	base := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	events.rows = []domain.TrackingEvent{
		{TrackingID: msg.TrackingID, EventType: domain.EventOpen, RecipientEmail: "a@example.com", CreatedAt: base},
		{TrackingID: msg.TrackingID, EventType: domain.EventOpen, RecipientEmail: "a@example.com", CreatedAt: base.Add(time.Hour)},
		{TrackingID: msg.TrackingID, EventType: domain.EventClick, RecipientEmail: "a@example.com", ClickedURL: "https://example.com/deal", CreatedAt: base.Add(2 * time.Hour)},
		{TrackingID: msg.TrackingID, EventType: domain.EventOpen, RecipientEmail: "c@example.com", CreatedAt: base},
		{TrackingID: "other-send", EventType: domain.EventOpen, RecipientEmail: "a@example.com", CreatedAt: base},
	}

	a, err := svc.MessageAnalytics(context.Background(), "user-1", msg.ID)
	if err != nil {
		t.Fatalf("MessageAnalytics: %v", err)
	}

	if a.TotalOpens != 3 || a.TotalClicks != 1 {
		t.Errorf("totals = %d opens %d clicks, want 3/1", a.TotalOpens, a.TotalClicks)
	}
	if len(a.Recipients) != 3 {
		t.Fatalf("recipients = %d, want all 3 addressed", len(a.Recipients))
	}

	byEmail := map[string]RecipientStats{}
	for _, r := range a.Recipients {
		byEmail[r.Email] = r
	}
	if st := byEmail["a@example.com"]; st.Opens != 2 || st.Clicks != 1 {
		t.Errorf("a@example.com stats = %+v", st)
	}
	if st := byEmail["a@example.com"]; st.LastOpenAt == nil || !st.LastOpenAt.Equal(base.Add(time.Hour)) {
		t.Errorf("last open = %v", st.LastOpenAt)
	}
	if st := byEmail["b@example.com"]; st.Opens != 0 || st.Clicks != 0 {
		t.Errorf("b@example.com should appear with zero engagement, got %+v", st)
	}
	if st := byEmail["c@example.com"]; st.Opens != 1 {
		t.Errorf("c@example.com stats = %+v", st)
	}
}

func TestDeleteMessage(t *testing.T) {
	ft := &fakeTransport{p: domain.ProviderGmail}
	svc, _, _, _ := newTestService(ft)

	msg, err := svc.Send(context.Background(), "user-1", sendRequest())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := svc.Delete(context.Background(), "user-1", msg.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(context.Background(), "user-1", msg.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}
