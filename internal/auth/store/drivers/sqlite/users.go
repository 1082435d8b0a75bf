package sqlite

import (
	"context"
	"database/sql"

	"github.com/driftboard/authd/internal/auth/domain"
)

type usersRepo struct {
	q querier
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, github_id, name, email, image, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.GithubID, u.Name, u.Email, u.Image, timeToMs(u.CreatedAt),
	)
	return err
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, github_id, name, email, image, created_at
		FROM users WHERE id = ?`, id,
	)
	return scanUser(row)
}

func (r *usersRepo) GetUserByGithubID(ctx context.Context, githubID string) (domain.User, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, github_id, name, email, image, created_at
		FROM users WHERE github_id = ?`, githubID,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var createdAt int64

	if err := row.Scan(&u.ID, &u.GithubID, &u.Name, &u.Email, &u.Image, &createdAt); err != nil {
		return domain.User{}, mapNotFound(err)
	}

	u.CreatedAt = msToTime(createdAt)
	return u, nil
}
