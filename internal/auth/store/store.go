package store

import (
	"context"
	"errors"
	"time"

	"github.com/driftboard/authd/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite for now)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable.
//
// Every operation is individually atomic at the record level. Cross-record
// sequences (consume a refresh token AND renew its session) are NOT atomic
// unless wrapped in WithTx; callers must tolerate partial completion where
// they choose not to.
type Store interface {
	Users() Users
	Sessions() Sessions
	RefreshTokens() RefreshTokens

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction. If fn returns an
	// error, the transaction is rolled back; otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByGithubID returns a user by its provider account id. This is
	// the upsert key on OAuth callback.
	GetUserByGithubID(ctx context.Context, githubID string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by app via ULID).
	CreateUser(ctx context.Context, u domain.User) error
}

type Sessions interface {
	// CreateSession inserts a session with the given expiry.
	CreateSession(ctx context.Context, s domain.Session) error

	// GetSession returns a session by id.
	GetSession(ctx context.Context, id string) (domain.Session, error)

	// RenewSession patches expiresAt. A missing session is not an error
	// here; callers re-check via GetSession when they care.
	RenewSession(ctx context.Context, id string, expiresAt time.Time) error

	// DeleteSession removes a session. Deleting an absent session is a no-op.
	DeleteSession(ctx context.Context, id string) error

	// DeleteExpiredSessions deletes at most limit sessions with
	// expiresAt < now and reports how many went. Bounded so the sweeper
	// never does unbounded work in one invocation.
	DeleteExpiredSessions(ctx context.Context, now time.Time, limit int) (int, error)
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new refresh token record (hash only).
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the token by its hashed value.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// MarkRefreshTokenFirstUsed records the first consumption: sets
	// firstUsedAt and shortens expiresAt to the reuse window. Only applies
	// when firstUsedAt is still null, so a second consumption inside the
	// window leaves the record untouched.
	MarkRefreshTokenFirstUsed(ctx context.Context, id string, firstUsedAt, expiresAt time.Time) error

	// DeleteRefreshTokensForSession removes every token chained to a
	// session (sign-out cascade).
	DeleteRefreshTokensForSession(ctx context.Context, sessionID string) error

	// DeleteExpiredRefreshTokens deletes at most limit tokens with
	// expiresAt < now and reports how many went.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time, limit int) (int, error)
}
