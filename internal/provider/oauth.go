package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mailscope/mailscope/internal/domain"
	"github.com/mailscope/mailscope/internal/pkg/logger"
)

// expirySkew is how close to expiry a token may get before a send proactively
// refreshes instead of risking a mid-flight 401.
const expirySkew = 30 * time.Second

// tokenRefresher rotates a connection's access token through the provider's
// token endpoint. Refresh is a side effect of Send, never a separate call
// from the orchestrator's point of view.
type tokenRefresher struct {
	cfg *oauth2.Config
}

// refresh exchanges the connection's refresh token for a fresh access token
// and writes the rotated snapshot onto conn. A rejected refresh token maps
// to ErrAuthExpired.
func (tr *tokenRefresher) refresh(ctx context.Context, conn *domain.ProviderConnection) error {
	if conn.RefreshToken == "" {
		return fmt.Errorf("%w: no refresh token stored", ErrAuthExpired)
	}

	src := tr.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: conn.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		if isInvalidGrant(err) {
			return fmt.Errorf("%w: %v", ErrAuthExpired, err)
		}
		return fmt.Errorf("refresh token: %w", err)
	}

	conn.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		conn.RefreshToken = tok.RefreshToken
	}
	conn.AccessTokenExpires = tok.Expiry

	logger.Info("refreshed provider token",
		"provider", string(conn.Provider), "email", conn.Email)
	return nil
}

// ensureFresh refreshes proactively when the stored expiry says the token
// is (about to be) stale. Providers that never reported an expiry are left
// alone; the transport reacts to a 401 instead.
func (tr *tokenRefresher) ensureFresh(ctx context.Context, conn *domain.ProviderConnection) error {
	if !conn.Expired(expirySkew) {
		return nil
	}
	return tr.refresh(ctx, conn)
}

// isInvalidGrant detects the invalid_grant class of token endpoint errors:
// revoked or expired refresh tokens, which only a reconnect can fix.
func isInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" {
			return true
		}
		return strings.Contains(string(re.Body), "invalid_grant")
	}
	return false
}
