package authclient

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"
)

// RefreshMargin is how close to access-token expiry Token starts refreshing
// proactively, so callers never hand out a token about to lapse mid-request.
const RefreshMargin = time.Minute

// ErrNotAuthenticated reports a token request against a session that holds
// no bundle.
var ErrNotAuthenticated = errors.New("authclient: not authenticated")

// StateKind discriminates the session states. Consumers switch on it
// exhaustively; adding a state is a compile-visible change at every switch.
type StateKind int

const (
	// StateUnauthenticated is the resting state: no challenge, no tokens.
	StateUnauthenticated StateKind = iota
	// StateChallenge means a sign-in has started and the state nonce is
	// held, awaiting the provider callback.
	StateChallenge
	// StateTokens means the session holds a live token bundle.
	StateTokens
)

// SessionState is a snapshot of the session. Exactly the fields for the
// current Kind are populated.
type SessionState struct {
	Kind StateKind

	// Challenge state nonce, set when Kind == StateChallenge.
	ChallengeState string

	// Token bundle, set when Kind == StateTokens.
	Tokens TokenBundle
}

// Session is the web tier's mutex-guarded session holder. Any callback or
// refresh failure clears it back to unauthenticated; the session fails
// closed rather than serving stale credentials.
type Session struct {
	client *Client

	mu    sync.Mutex
	state SessionState
}

func NewSession(client *Client) *Session {
	return &Session{client: client}
}

// State returns a snapshot of the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartSignIn begins the OAuth flow and moves the session into the
// challenge state. Returns the provider URL to redirect the browser to.
func (s *Session) StartSignIn(ctx context.Context) (string, error) {
	resp, err := s.client.Authorize(ctx)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.state = SessionState{Kind: StateChallenge, ChallengeState: resp.State}
	s.mu.Unlock()

	return resp.URL, nil
}

// CompleteSignIn finishes the OAuth flow with the code and state echoed by
// the provider redirect. A state mismatch discards the pending challenge and
// returns ErrInvalidState; the user must re-initiate sign-in.
func (s *Session) CompleteSignIn(ctx context.Context, code, state string) error {
	s.mu.Lock()
	if s.state.Kind != StateChallenge {
		s.mu.Unlock()
		return ErrInvalidState
	}
	expected := s.state.ChallengeState
	s.mu.Unlock()

	if subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		s.clear()
		return ErrInvalidState
	}

	bundle, err := s.client.Callback(ctx, code, expected, state)
	if err != nil {
		s.clear()
		return err
	}

	s.mu.Lock()
	s.state = SessionState{Kind: StateTokens, Tokens: bundle}
	s.mu.Unlock()
	return nil
}

// Token returns a valid access token, refreshing proactively when the held
// token is within RefreshMargin of expiry. A failed refresh clears the
// session and returns the failure.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Kind != StateTokens {
		return "", ErrNotAuthenticated
	}

	if time.Now().Before(s.state.Tokens.AccessTokenExpiresAt.Add(-RefreshMargin)) {
		return s.state.Tokens.AccessToken, nil
	}

	bundle, err := s.client.Refresh(ctx, s.state.Tokens.RefreshToken)
	if err != nil {
		s.state = SessionState{Kind: StateUnauthenticated}
		return "", err
	}

	s.state = SessionState{Kind: StateTokens, Tokens: bundle}
	return s.state.Tokens.AccessToken, nil
}

// SignOut tears down the server-side session and clears local state. Local
// state is cleared even when the server call fails; sign-out is best effort
// on the wire but always effective locally.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	var token string
	if s.state.Kind == StateTokens {
		token = s.state.Tokens.AccessToken
	}
	s.mu.Unlock()

	defer s.clear()

	if token == "" {
		return nil
	}
	return s.client.SignOut(ctx, token)
}

func (s *Session) clear() {
	s.mu.Lock()
	s.state = SessionState{Kind: StateUnauthenticated}
	s.mu.Unlock()
}
