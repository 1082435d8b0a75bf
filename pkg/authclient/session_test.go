package authclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/driftboard/authd/pkg/cryptox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "shared-secret"

// stubAuth is a minimal signed /auth endpoint. It verifies every request's
// HMAC before answering, so the tests cover the client's signing too.
type stubAuth struct {
	t *testing.T

	refreshCalls int
	signoutCalls int
	refreshFail  bool
}

func (s *stubAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	require.NoError(s.t, err)

	timestamp, err := strconv.ParseInt(r.Header.Get("x-auth-timestamp"), 10, 64)
	require.NoError(s.t, err, "timestamp header must be epoch millis")
	require.True(s.t,
		cryptox.VerifyEnvelope(body, timestamp, r.Header.Get("x-auth-signature"), testSecret),
		"request must carry a valid signature",
	)

	var env struct {
		Action       string `json:"action"`
		Code         string `json:"code"`
		RefreshToken string `json:"refreshToken"`
	}
	require.NoError(s.t, json.Unmarshal(body, &env))

	switch env.Action {
	case "authorize":
		_ = json.NewEncoder(w).Encode(map[string]string{
			"url":   "https://github.example.com/authorize",
			"state": "state-123",
		})
	case "callback":
		_ = json.NewEncoder(w).Encode(TokenBundle{
			AccessToken:          "access-1",
			AccessTokenExpiresAt: time.Now().Add(time.Hour),
			RefreshToken:         "refresh-1",
		})
	case "refresh":
		s.refreshCalls++
		if s.refreshFail {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Internal server error"})
			return
		}
		_ = json.NewEncoder(w).Encode(TokenBundle{
			AccessToken:          "access-2",
			AccessTokenExpiresAt: time.Now().Add(time.Hour),
			RefreshToken:         "refresh-2",
		})
	case "signout":
		s.signoutCalls++
		require.Equal(s.t, "Bearer access-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(nil)
	}
}

func newTestSession(t *testing.T) (*Session, *stubAuth) {
	t.Helper()

	stub := &stubAuth{t: t}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	return NewSession(NewClient(srv.URL, testSecret)), stub
}

func TestSignInFlow(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	assert.Equal(t, StateUnauthenticated, s.State().Kind)

	url, err := s.StartSignIn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://github.example.com/authorize", url)
	assert.Equal(t, StateChallenge, s.State().Kind)
	assert.Equal(t, "state-123", s.State().ChallengeState)

	require.NoError(t, s.CompleteSignIn(ctx, "code", "state-123"))
	assert.Equal(t, StateTokens, s.State().Kind)

	token, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
}

func TestCompleteSignInStateMismatch(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	_, err := s.StartSignIn(ctx)
	require.NoError(t, err)

	err = s.CompleteSignIn(ctx, "code", "forged-state")
	require.ErrorIs(t, err, ErrInvalidState)

	// The challenge is discarded; replaying the right state later fails too.
	assert.Equal(t, StateUnauthenticated, s.State().Kind)
	require.ErrorIs(t, s.CompleteSignIn(ctx, "code", "state-123"), ErrInvalidState)
}

func TestTokenProactiveRefresh(t *testing.T) {
	s, stub := newTestSession(t)
	ctx := context.Background()

	_, err := s.StartSignIn(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CompleteSignIn(ctx, "code", "state-123"))

	// Within the margin the token still verifies, but the session swaps it
	// out ahead of time.
	s.mu.Lock()
	s.state.Tokens.AccessTokenExpiresAt = time.Now().Add(30 * time.Second)
	s.mu.Unlock()

	token, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, 1, stub.refreshCalls)

	// The refreshed bundle is far from expiry; no second refresh.
	token, err = s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, 1, stub.refreshCalls)
}

func TestTokenFailsClosed(t *testing.T) {
	s, stub := newTestSession(t)
	ctx := context.Background()

	_, err := s.StartSignIn(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CompleteSignIn(ctx, "code", "state-123"))

	stub.refreshFail = true
	s.mu.Lock()
	s.state.Tokens.AccessTokenExpiresAt = time.Now()
	s.mu.Unlock()

	_, err = s.Token(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)

	// Any refresh failure means signed out, not retry-with-stale-token.
	assert.Equal(t, StateUnauthenticated, s.State().Kind)
	_, err = s.Token(ctx)
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSignOut(t *testing.T) {
	s, stub := newTestSession(t)
	ctx := context.Background()

	_, err := s.StartSignIn(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CompleteSignIn(ctx, "code", "state-123"))

	require.NoError(t, s.SignOut(ctx))
	assert.Equal(t, 1, stub.signoutCalls)
	assert.Equal(t, StateUnauthenticated, s.State().Kind)

	// Signing out while unauthenticated is a local no-op.
	require.NoError(t, s.SignOut(ctx))
	assert.Equal(t, 1, stub.signoutCalls)
}
