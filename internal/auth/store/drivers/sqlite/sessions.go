package sqlite

import (
	"context"
	"time"

	"github.com/driftboard/authd/internal/auth/domain"
)

type sessionsRepo struct {
	q querier
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)`,
		s.ID, s.UserID, timeToMs(s.ExpiresAt), timeToMs(s.CreatedAt),
	)
	return err
}

func (r *sessionsRepo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, expires_at, created_at
		FROM sessions WHERE id = ?`, id,
	)

	var s domain.Session
	var expiresAt, createdAt int64

	if err := row.Scan(&s.ID, &s.UserID, &expiresAt, &createdAt); err != nil {
		return domain.Session{}, mapNotFound(err)
	}

	s.ExpiresAt = msToTime(expiresAt)
	s.CreatedAt = msToTime(createdAt)
	return s, nil
}

func (r *sessionsRepo) RenewSession(ctx context.Context, id string, expiresAt time.Time) error {
	// Patching an absent session affects zero rows, which is fine; callers
	// re-check with GetSession when presence matters.
	_, err := r.q.ExecContext(ctx, `
		UPDATE sessions SET expires_at = ? WHERE id = ?`,
		timeToMs(expiresAt), id,
	)
	return err
}

func (r *sessionsRepo) DeleteSession(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context, now time.Time, limit int) (int, error) {
	// DELETE ... LIMIT needs a build-time sqlite option, so bound the work
	// with a subquery instead.
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM sessions WHERE id IN (
			SELECT id FROM sessions WHERE expires_at < ? LIMIT ?
		)`,
		timeToMs(now), limit,
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}
