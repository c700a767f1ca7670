package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailscope/mailscope/internal/auth"
	"github.com/mailscope/mailscope/internal/config"
	"github.com/mailscope/mailscope/internal/dispatch"
	"github.com/mailscope/mailscope/internal/domain"
	"github.com/mailscope/mailscope/internal/pkg/httputil"
	"github.com/mailscope/mailscope/internal/tracking"
)

// Handlers carries the services the HTTP surface fronts.
type Handlers struct {
	auth      *auth.Service
	connector *auth.Connector
	dispatch  *dispatch.Service
	beacon    *tracking.Handler
	cfg       *config.Config
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

// Register creates an account and opens a session.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	u, token, err := h.auth.Register(r.Context(), req.Email, req.Name, req.Password)
	switch {
	case errors.Is(err, auth.ErrEmailExists):
		httputil.Error(w, http.StatusConflict, "email already registered")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		httputil.BadRequest(w, "email must be valid and password at least 8 characters")
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}

	h.setSessionCookie(w, token)
	httputil.Created(w, sessionResponse{User: u, Token: token})
}

// Login verifies credentials and opens a session.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	u, token, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		httputil.Unauthorized(w, "invalid email or password")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	h.setSessionCookie(w, token)
	httputil.OK(w, sessionResponse{User: u, Token: token})
}

// Logout clears the session cookie. Tokens held by API clients simply
// expire.
func (h *Handlers) Logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	httputil.NoContent(w)
}

// Me returns the authenticated account.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.User(r.Context(), auth.UserIDFrom(r.Context()))
	if errors.Is(err, auth.ErrUserNotFound) {
		httputil.Unauthorized(w, "account no longer exists")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, u)
}

// SendEmail dispatches a message through the user's linked provider.
// Per-recipient failures do not fail the request; they show up in the
// returned status and sent_count.
func (h *Handlers) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req domain.SendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	msg, err := h.dispatch.Send(r.Context(), auth.UserIDFrom(r.Context()), &req)
	switch {
	case dispatch.IsValidation(err):
		httputil.BadRequest(w, err.Error())
		return
	case errors.Is(err, dispatch.ErrNoConnection):
		httputil.Error(w, http.StatusConflict, "link a "+string(req.Provider)+" account before sending")
		return
	case err != nil:
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"email_id":    msg.ID,
		"tracking_id": msg.TrackingID,
		"status":      msg.Status,
		"sent_count":  msg.SentCount,
		"error":       msg.Error,
	})
}

// ListMessages returns the user's send history, newest first.
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	f := dispatch.ListFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}

	msgs, total, err := h.dispatch.List(r.Context(), auth.UserIDFrom(r.Context()), f)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.SentMessage{}
	}
	httputil.OK(w, map[string]any{"messages": msgs, "total": total})
}

// GetMessage returns one message.
func (h *Handlers) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.dispatch.Get(r.Context(), auth.UserIDFrom(r.Context()), chi.URLParam(r, "id"))
	if errors.Is(err, dispatch.ErrNotFound) {
		httputil.NotFound(w, "message not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, msg)
}

// DeleteMessage removes a message and its tracking history.
func (h *Handlers) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	err := h.dispatch.Delete(r.Context(), auth.UserIDFrom(r.Context()), chi.URLParam(r, "id"))
	if errors.Is(err, dispatch.ErrNotFound) {
		httputil.NotFound(w, "message not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// MessageAnalytics returns the per-recipient engagement breakdown.
func (h *Handlers) MessageAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.dispatch.MessageAnalytics(r.Context(), auth.UserIDFrom(r.Context()), chi.URLParam(r, "id"))
	if errors.Is(err, dispatch.ErrNotFound) {
		httputil.NotFound(w, "message not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, a)
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   h.cfg.Auth.TokenTTLHrs * int(time.Hour/time.Second),
		HttpOnly: true,
		Secure:   h.cfg.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}
