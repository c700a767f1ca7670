package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mailscope/mailscope/internal/auth"
	"github.com/mailscope/mailscope/internal/domain"
	"github.com/mailscope/mailscope/internal/pkg/httputil"
	"github.com/mailscope/mailscope/internal/pkg/logger"
)

const stateCookie = "oauth_state"

// Connect starts the consent flow that links a provider mailbox to the
// session's user. The state cookie carries the user id across the redirect
// because the provider callback arrives without a session header.
func (h *Handlers) Connect(w http.ResponseWriter, r *http.Request) {
	p := domain.Provider(chi.URLParam(r, "provider"))
	if !p.Valid() {
		httputil.BadRequest(w, "provider must be gmail or outlook")
		return
	}

	state, err := auth.NewState()
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	consentURL, err := h.connector.AuthCodeURL(p, state)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state + "|" + auth.UserIDFrom(r.Context()),
		Path:     "/api/connect",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   h.cfg.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, consentURL, http.StatusTemporaryRedirect)
}

// ConnectCallback finishes the consent flow: verify state, exchange the
// code, and store the connection. Errors redirect back to the app rather
// than rendering JSON, since the browser is mid-redirect.
func (h *Handlers) ConnectCallback(w http.ResponseWriter, r *http.Request) {
	p := domain.Provider(chi.URLParam(r, "provider"))
	if !p.Valid() {
		h.connectRedirect(w, r, "error=unknown_provider")
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil {
		h.connectRedirect(w, r, "error=missing_state")
		return
	}
	state, userID, ok := strings.Cut(cookie.Value, "|")
	if !ok || userID == "" || r.URL.Query().Get("state") != state {
		logger.Warn("oauth state mismatch", "provider", string(p))
		h.connectRedirect(w, r, "error=invalid_state")
		return
	}

	// One-shot cookie.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/api/connect", MaxAge: -1})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		logger.Warn("provider consent denied", "provider", string(p), "error", errMsg)
		h.connectRedirect(w, r, "error=consent_denied")
		return
	}

	conn, err := h.connector.Complete(r.Context(), p, userID, r.URL.Query().Get("code"))
	if err != nil {
		logger.Error("connect callback failed", "provider", string(p), "error", err.Error())
		h.connectRedirect(w, r, "error=connect_failed")
		return
	}

	h.connectRedirect(w, r, "connected="+string(conn.Provider))
}

// Connections lists the user's linked accounts. Token fields never
// serialize.
func (h *Handlers) Connections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.auth.Connections(r.Context(), auth.UserIDFrom(r.Context()))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if conns == nil {
		conns = []domain.ProviderConnection{}
	}
	httputil.OK(w, map[string]any{"connections": conns})
}

// Disconnect unlinks a provider account.
func (h *Handlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	p := domain.Provider(chi.URLParam(r, "provider"))
	if !p.Valid() {
		httputil.BadRequest(w, "provider must be gmail or outlook")
		return
	}

	err := h.auth.Disconnect(r.Context(), auth.UserIDFrom(r.Context()), p)
	if errors.Is(err, auth.ErrConnectionNotFound) {
		httputil.NotFound(w, "no linked "+string(p)+" account")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (h *Handlers) connectRedirect(w http.ResponseWriter, r *http.Request, query string) {
	http.Redirect(w, r, h.cfg.Server.BaseURL+"/settings/connections?"+query, http.StatusTemporaryRedirect)
}
