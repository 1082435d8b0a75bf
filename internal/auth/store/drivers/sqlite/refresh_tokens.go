package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/driftboard/authd/internal/auth/domain"
)

type refreshTokensRepo struct {
	q querier
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, session_id, token_hash, first_used_at, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.SessionID, t.TokenHash,
		optionalTimeToMs(t.FirstUsedAt), timeToMs(t.ExpiresAt), timeToMs(t.CreatedAt),
	)
	return err
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(
	ctx context.Context,
	hash string,
) (domain.RefreshToken, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, session_id, token_hash, first_used_at, expires_at, created_at
		FROM refresh_tokens WHERE token_hash = ?`, hash,
	)

	var t domain.RefreshToken
	var firstUsedAt sql.NullInt64
	var expiresAt, createdAt int64

	err := row.Scan(&t.ID, &t.UserID, &t.SessionID, &t.TokenHash, &firstUsedAt, &expiresAt, &createdAt)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}

	t.FirstUsedAt = msToOptionalTime(firstUsedAt)
	t.ExpiresAt = msToTime(expiresAt)
	t.CreatedAt = msToTime(createdAt)
	return t, nil
}

func (r *refreshTokensRepo) MarkRefreshTokenFirstUsed(
	ctx context.Context,
	id string,
	firstUsedAt, expiresAt time.Time,
) error {
	// The first_used_at IS NULL guard makes first consumption a one-shot:
	// a concurrent duplicate sees rows affected 0 and keeps the shortened
	// expiry set by whoever won.
	_, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET first_used_at = ?, expires_at = ?
		WHERE id = ? AND first_used_at IS NULL`,
		timeToMs(firstUsedAt), timeToMs(expiresAt), id,
	)
	return err
}

func (r *refreshTokensRepo) DeleteRefreshTokensForSession(ctx context.Context, sessionID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE session_id = ?`, sessionID)
	return err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time, limit int) (int, error) {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE id IN (
			SELECT id FROM refresh_tokens WHERE expires_at < ? LIMIT ?
		)`,
		timeToMs(now), limit,
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}
