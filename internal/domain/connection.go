package domain

import "time"

// ProviderConnection is a per-user, per-provider OAuth credential set.
// At most one connection exists per (user, provider) pair. The token fields
// are updated in place whenever a send-path refresh rotates them.
type ProviderConnection struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	Provider           Provider  `json:"provider"`
	Email              string    `json:"email"`
	AccessToken        string    `json:"-"`
	RefreshToken       string    `json:"-"`
	AccessTokenExpires time.Time `json:"access_token_expires"`
	ConnectedAt        time.Time `json:"connected_at"`
}

// Expired reports whether the access token is past (or within skew of) its
// expiry. A zero expiry means the provider did not report one; treat the
// token as live and let the transport react to a 401 instead.
func (c *ProviderConnection) Expired(skew time.Duration) bool {
	if c.AccessTokenExpires.IsZero() {
		return false
	}
	return time.Now().Add(skew).After(c.AccessTokenExpires)
}

// User is the authenticated identity supplied by the session layer.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
