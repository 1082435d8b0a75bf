package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftboard/authd/internal/auth/github"
	"github.com/driftboard/authd/internal/auth/store"
	"github.com/driftboard/authd/internal/auth/store/drivers/sqlite"
	"github.com/driftboard/authd/pkg/cryptox"
	"github.com/driftboard/authd/pkg/jwtx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider satisfies IdentityProvider without touching the network.
type stubProvider struct {
	profile github.Profile
	codeErr error
}

func (p *stubProvider) AuthorizationURL() (string, string, error) {
	return "https://github.example.com/authorize?state=abc", "abc", nil
}

func (p *stubProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	if p.codeErr != nil {
		return "", p.codeErr
	}
	return "gho_stub", nil
}

func (p *stubProvider) FetchProfile(ctx context.Context, accessToken string) (github.Profile, error) {
	return p.profile, nil
}

func newTestSigner(t *testing.T) jwtx.Signer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	signer, err := jwtx.NewSignerRS256("test-key", pemKey)
	require.NoError(t, err)
	return signer
}

type fixture struct {
	svc      *SessionService
	store    store.Store
	verifier jwtx.Verifier
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "svc_test.db"))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	signer := newTestSigner(t)
	provider := &stubProvider{
		profile: github.Profile{
			ID:        "gh-1001",
			Login:     "octocat",
			Name:      "The Octocat",
			Email:     "octo@example.com",
			AvatarURL: "https://avatars.example.com/u/1001",
		},
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewSessionService(st, provider, signer, Config{
		Issuer:   "https://auth.example.com",
		Audience: []string{"driftboard"},
	}, log)

	clock := time.Now().UTC().Truncate(time.Millisecond)
	svc.now = func() time.Time { return clock }

	verifier, err := jwtx.NewVerifierRS256(signer, "https://auth.example.com", []string{"driftboard"})
	require.NoError(t, err)

	return &fixture{svc: svc, store: st, verifier: verifier, clock: &clock}
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *fixture) login(t *testing.T) (string, string, string) {
	t.Helper()

	bundle, err := f.svc.CompleteOAuth(context.Background(), "code", "state", "state")
	require.NoError(t, err)

	claims, err := f.verifier.Verify(bundle.AccessToken)
	require.NoError(t, err)
	userID, sessionID, err := claims.SubjectParts()
	require.NoError(t, err)

	return bundle.RefreshToken, userID, sessionID
}

func TestCompleteOAuth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bundle, err := f.svc.CompleteOAuth(ctx, "code", "state", "state")
	require.NoError(t, err)
	require.NotEmpty(t, bundle.AccessToken)
	require.NotEmpty(t, bundle.RefreshToken)
	assert.Equal(t, f.clock.Add(DefaultAccessTokenTTL), bundle.AccessTokenExpiresAt)

	claims, err := f.verifier.Verify(bundle.AccessToken)
	require.NoError(t, err)
	userID, sessionID, err := claims.SubjectParts()
	require.NoError(t, err)

	user, err := f.store.Users().GetUserByID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "gh-1001", user.GithubID)
	assert.Equal(t, "octo@example.com", user.Email)

	session, err := f.store.Sessions().GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(DefaultSessionTTL), session.ExpiresAt)

	// Only the hash of the refresh token is persisted.
	record, err := f.store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.HashToken(bundle.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, sessionID, record.SessionID)
	assert.Nil(t, record.FirstUsedAt)
}

func TestCompleteOAuthReusesExistingUser(t *testing.T) {
	f := newFixture(t)

	_, userID1, sessionID1 := f.login(t)
	_, userID2, sessionID2 := f.login(t)

	assert.Equal(t, userID1, userID2, "same provider account maps to one user")
	assert.NotEqual(t, sessionID1, sessionID2, "each login opens its own session")
}

func TestCompleteOAuthStateMismatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CompleteOAuth(context.Background(), "code", "expected", "tampered")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	refresh1, _, sessionID := f.login(t)

	f.advance(10 * time.Minute)
	bundle2, err := f.svc.Refresh(ctx, refresh1)
	require.NoError(t, err)
	require.NotEqual(t, refresh1, bundle2.RefreshToken)

	// Consumption shortened the old token's life and renewed the session.
	old, err := f.store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.HashToken(refresh1))
	require.NoError(t, err)
	require.NotNil(t, old.FirstUsedAt)
	assert.Equal(t, f.clock.Add(DefaultReuseInterval), old.ExpiresAt)

	session, err := f.store.Sessions().GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Add(DefaultSessionTTL), session.ExpiresAt)
}

func TestRefreshReuseWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	refresh1, _, _ := f.login(t)

	_, err := f.svc.Refresh(ctx, refresh1)
	require.NoError(t, err)

	// A duplicate in-flight exchange lands 30s later and still succeeds.
	f.advance(30 * time.Second)
	_, err = f.svc.Refresh(ctx, refresh1)
	require.NoError(t, err)
}

func TestRefreshReuseAfterWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	refresh1, _, _ := f.login(t)

	bundle2, err := f.svc.Refresh(ctx, refresh1)
	require.NoError(t, err)

	f.advance(DefaultReuseInterval + time.Second)
	_, err = f.svc.Refresh(ctx, refresh1)
	require.ErrorIs(t, err, ErrInvalidToken)

	// The rotated token is unaffected by the stale replay.
	_, err = f.svc.Refresh(ctx, bundle2.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshUnknownToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Refresh(context.Background(), "never-issued")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshExpiredToken(t *testing.T) {
	f := newFixture(t)

	refresh1, _, _ := f.login(t)

	f.advance(DefaultRefreshTokenTTL + time.Hour)
	_, err := f.svc.Refresh(context.Background(), refresh1)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshExpiredSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	refresh1, _, sessionID := f.login(t)

	// Force the session to lapse while the token stays fresh.
	require.NoError(t, f.store.Sessions().RenewSession(ctx, sessionID, f.clock.Add(-time.Minute)))

	_, err := f.svc.Refresh(ctx, refresh1)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestSignOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	refresh1, _, sessionID := f.login(t)

	require.NoError(t, f.svc.SignOut(ctx, sessionID))

	_, err := f.store.Sessions().GetSession(ctx, sessionID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.Refresh(ctx, refresh1)
	require.ErrorIs(t, err, ErrInvalidToken)

	// Idempotent: a second sign-out of the same session is fine.
	require.NoError(t, f.svc.SignOut(ctx, sessionID))
}

func TestHousekeepingSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Three sessions lapse, one stays live.
	var liveSession string
	for i := range 4 {
		_, _, sessionID := f.login(t)
		if i == 3 {
			liveSession = sessionID
			continue
		}
		require.NoError(t, f.store.Sessions().RenewSession(ctx, sessionID, f.clock.Add(-time.Hour)))
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hk := NewHousekeepingService(f.store, log, time.Hour)
	hk.PageSize = 2 // force multiple pages
	hk.now = func() time.Time { return *f.clock }

	hk.Sweep(ctx)

	for _, id := range []string{liveSession} {
		_, err := f.store.Sessions().GetSession(ctx, id)
		require.NoError(t, err)
	}

	n, err := f.store.Sessions().DeleteExpiredSessions(ctx, *f.clock, 100)
	require.NoError(t, err)
	assert.Zero(t, n, "sweep drained every expired session")
}

func TestHousekeepingStartStop(t *testing.T) {
	f := newFixture(t)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hk := NewHousekeepingService(f.store, log, time.Hour)

	hk.Start()
	hk.Stop() // blocks until the startup sweep finishes
}
