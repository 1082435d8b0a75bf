package domain

import "time"

// RefreshToken models the stored refresh token record. Only a SHA-256 digest
// of the opaque token is persisted; the store validates a presented token by
// hashing it, never by holding plaintext.
//
// FirstUsedAt is the rotation discriminator: nil means the token has never
// been exchanged, non-nil means it was consumed and only a short residual
// window (to absorb duplicate in-flight refreshes) remains before ExpiresAt.
type RefreshToken struct {
	ID          string
	UserID      string
	SessionID   string
	TokenHash   string
	FirstUsedAt *time.Time
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Consumed reports whether the token has already been exchanged once.
func (t RefreshToken) Consumed() bool {
	return t.FirstUsedAt != nil
}

// Expired reports whether the token is past its expiry at the given time.
func (t RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// TokenBundle is what a successful callback or refresh returns: the signed
// access token with its expiry, plus the plaintext of the next refresh token.
// The pair is always issued together or not at all.
type TokenBundle struct {
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
	RefreshToken         string    `json:"refreshToken"`
}
