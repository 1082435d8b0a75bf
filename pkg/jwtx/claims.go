package jwtx

import (
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access-token claims. The subject binds the bearer to both
// the acting user and the specific session, so revoking one session leaves a
// user's other sessions intact.
type Claims struct {
	jwt.RegisteredClaims
}

// NewAccessClaims builds claims for an access token scoped to a
// (user, session) pair.
func NewAccessClaims(
	userID, sessionID string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID + ":" + sessionID,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

// SubjectParts splits the subject claim back into its (userID, sessionID)
// pair. Returns ErrInvalidClaim when the subject is not colon-joined.
func (c *Claims) SubjectParts() (userID, sessionID string, err error) {
	userID, sessionID, ok := strings.Cut(c.Subject, ":")
	if !ok || userID == "" || sessionID == "" {
		return "", "", ErrInvalidClaim
	}
	return userID, sessionID, nil
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't used
// before it is valid (nbf).
func (c *Claims) ValidateExpiry() error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}

	return nil
}
