package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/mailscope/mailscope/internal/pkg/httputil"
)

type contextKey string

const claimsKey contextKey = "auth.claims"

// SessionCookie is the cookie the session token travels in when the client
// is a browser. API clients use the Authorization header instead.
const SessionCookie = "mailscope_session"

// RequireAuth rejects requests without a valid session token and injects
// the session claims into the request context.
func (s *Service) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if c, err := r.Cookie(SessionCookie); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			httputil.Unauthorized(w, "authentication required")
			return
		}

		claims, err := s.Verify(token)
		if err != nil {
			httputil.Unauthorized(w, "invalid or expired session")
			return
		}

		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// ClaimsFrom returns the session claims RequireAuth stored on the context.
func ClaimsFrom(ctx context.Context) (*SessionClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*SessionClaims)
	return c, ok
}

// UserIDFrom returns the authenticated user id, or "" outside RequireAuth.
func UserIDFrom(ctx context.Context) string {
	if c, ok := ClaimsFrom(ctx); ok {
		return c.UserID
	}
	return ""
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
