// Package service holds the session lifecycle logic: completing the OAuth
// exchange, rotating refresh tokens, signing out, and sweeping expired rows.
// The HTTP boundary stays thin; everything stateful happens here.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftboard/authd/internal/auth/domain"
	"github.com/driftboard/authd/internal/auth/github"
	"github.com/driftboard/authd/internal/auth/store"
	"github.com/driftboard/authd/pkg/cryptox"
	"github.com/driftboard/authd/pkg/idx"
	"github.com/driftboard/authd/pkg/jwtx"

	"golang.org/x/sync/errgroup"
)

// Lifecycle defaults. Overridable through Config for tests and deployments
// with different risk appetites.
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultSessionTTL      = 30 * 24 * time.Hour

	// DefaultReuseInterval is how long a consumed refresh token stays
	// exchangeable, absorbing duplicate in-flight refreshes from the same
	// client without opening a replay hole.
	DefaultReuseInterval = 60 * time.Second
)

// IdentityProvider is the slice of the GitHub client the service needs.
type IdentityProvider interface {
	AuthorizationURL() (string, string, error)
	ExchangeCode(ctx context.Context, code string) (string, error)
	FetchProfile(ctx context.Context, accessToken string) (github.Profile, error)
}

// Config carries token lifetimes and the claims identity baked into every
// access token.
type Config struct {
	Issuer   string
	Audience []string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	SessionTTL      time.Duration
	ReuseInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.ReuseInterval == 0 {
		c.ReuseInterval = DefaultReuseInterval
	}
	return c
}

// SessionService owns the authentication session lifecycle.
type SessionService struct {
	store    store.Store
	provider IdentityProvider
	signer   jwtx.Signer
	cfg      Config
	log      *slog.Logger

	// now is swappable so expiry behaviour is testable without sleeping.
	now func() time.Time
}

func NewSessionService(
	st store.Store,
	provider IdentityProvider,
	signer jwtx.Signer,
	cfg Config,
	log *slog.Logger,
) *SessionService {
	return &SessionService{
		store:    st,
		provider: provider,
		signer:   signer,
		cfg:      cfg.withDefaults(),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Authorize starts the OAuth flow: returns the provider redirect URL and the
// state value the caller must present back on callback.
func (s *SessionService) Authorize() (redirectURL, state string, err error) {
	return s.provider.AuthorizationURL()
}

// CompleteOAuth finishes the OAuth flow. It verifies the state echo, trades
// the code for a provider token, upserts the user keyed by provider account
// id, opens a fresh session and issues the first token bundle.
func (s *SessionService) CompleteOAuth(
	ctx context.Context,
	code, expectedState, receivedState string,
) (domain.TokenBundle, error) {
	if subtle.ConstantTimeCompare([]byte(expectedState), []byte(receivedState)) != 1 {
		return domain.TokenBundle{}, ErrInvalidState
	}

	providerToken, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return domain.TokenBundle{}, fmt.Errorf("exchange code: %w", err)
	}

	profile, err := s.provider.FetchProfile(ctx, providerToken)
	if err != nil {
		return domain.TokenBundle{}, fmt.Errorf("fetch profile: %w", err)
	}

	now := s.now()

	user, err := s.upsertUser(ctx, profile, now)
	if err != nil {
		return domain.TokenBundle{}, err
	}

	session := domain.Session{
		ID:        idx.New().String(),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
		CreatedAt: now,
	}
	if err := s.store.Sessions().CreateSession(ctx, session); err != nil {
		return domain.TokenBundle{}, fmt.Errorf("create session: %w", err)
	}

	s.log.InfoContext(ctx, "session opened",
		slog.String("user_id", user.ID),
		slog.String("session_id", session.ID),
	)

	return s.issueBundle(ctx, user.ID, session.ID, now)
}

// Refresh exchanges a refresh token for a new bundle, rotating the token and
// renewing the session. First consumption marks the token and shortens its
// expiry to the reuse interval; a duplicate exchange inside that window also
// succeeds, anything later fails.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (domain.TokenBundle, error) {
	hash := cryptox.HashToken(refreshToken)
	now := s.now()

	var record domain.RefreshToken

	// The lookup and first-used mark run in one transaction so two
	// concurrent exchanges of the same token serialize instead of both
	// seeing an unconsumed record.
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		record, err = tx.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidToken
			}
			return fmt.Errorf("lookup refresh token: %w", err)
		}

		if record.Expired(now) {
			return ErrInvalidToken
		}

		if !record.Consumed() {
			err := tx.RefreshTokens().MarkRefreshTokenFirstUsed(
				ctx, record.ID, now, now.Add(s.cfg.ReuseInterval),
			)
			if err != nil {
				return fmt.Errorf("mark refresh token used: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.TokenBundle{}, err
	}

	session, err := s.store.Sessions().GetSession(ctx, record.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenBundle{}, ErrInvalidSession
		}
		return domain.TokenBundle{}, fmt.Errorf("lookup session: %w", err)
	}
	if session.Expired(now) {
		return domain.TokenBundle{}, ErrInvalidSession
	}

	// Renewal and issuance touch independent rows, so they can run
	// concurrently once the token is consumed.
	var bundle domain.TokenBundle
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.store.Sessions().RenewSession(gctx, session.ID, now.Add(s.cfg.SessionTTL))
	})
	g.Go(func() error {
		var err error
		bundle, err = s.issueBundle(gctx, record.UserID, session.ID, now)
		return err
	})

	if err := g.Wait(); err != nil {
		return domain.TokenBundle{}, err
	}

	return bundle, nil
}

// SignOut tears down a session and every refresh token chained to it.
// Signing out of an already-dead session is not an error.
func (s *SessionService) SignOut(ctx context.Context, sessionID string) error {
	if err := s.store.RefreshTokens().DeleteRefreshTokensForSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete refresh tokens: %w", err)
	}
	if err := s.store.Sessions().DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	s.log.InfoContext(ctx, "session closed", slog.String("session_id", sessionID))
	return nil
}

func (s *SessionService) upsertUser(
	ctx context.Context,
	profile github.Profile,
	now time.Time,
) (domain.User, error) {
	user, err := s.store.Users().GetUserByGithubID(ctx, profile.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}

	user = domain.User{
		ID:        idx.New().String(),
		GithubID:  profile.ID,
		Name:      profile.Name,
		Email:     profile.Email,
		Image:     profile.AvatarURL,
		CreatedAt: now,
	}
	if err := s.store.Users().CreateUser(ctx, user); err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}

	s.log.InfoContext(ctx, "user created", slog.String("user_id", user.ID))
	return user, nil
}

// issueBundle signs an access token and mints the next refresh token. The
// plaintext refresh token leaves this function exactly once; only its hash
// is stored.
func (s *SessionService) issueBundle(
	ctx context.Context,
	userID, sessionID string,
	now time.Time,
) (domain.TokenBundle, error) {
	claims := jwtx.NewAccessClaims(userID, sessionID, s.cfg.AccessTokenTTL, s.cfg.Issuer, s.cfg.Audience, now)
	accessToken, err := s.signer.Sign(claims)
	if err != nil {
		return domain.TokenBundle{}, fmt.Errorf("sign access token: %w", err)
	}

	plaintext, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenBundle{}, fmt.Errorf("generate refresh token: %w", err)
	}

	record := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		TokenHash: cryptox.HashToken(plaintext),
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt: now,
	}
	if err := s.store.RefreshTokens().CreateRefreshToken(ctx, record); err != nil {
		return domain.TokenBundle{}, fmt.Errorf("store refresh token: %w", err)
	}

	return domain.TokenBundle{
		AccessToken:          accessToken,
		AccessTokenExpiresAt: now.Add(s.cfg.AccessTokenTTL),
		RefreshToken:         plaintext,
	}, nil
}
