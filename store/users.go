package store

import (
	"context"
	"time"

	"go-blogjobs/model"
)

const userColumns = `id, username, email, last_message_read_time`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.LastMessageReadTime); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, q Querier, u *model.User) error {
	return q.QueryRow(ctx,
		`INSERT INTO users (username, email) VALUES ($1, $2) RETURNING id`,
		u.Username, u.Email,
	).Scan(&u.ID)
}

func (s *Store) GetUser(ctx context.Context, q Querier, id int64) (*model.User, error) {
	return scanUser(q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByUsername(ctx context.Context, q Querier, username string) (*model.User, error) {
	return scanUser(q.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (s *Store) SetLastMessageReadTime(ctx context.Context, q Querier, userID int64, t time.Time) error {
	tag, err := q.Exec(ctx,
		`UPDATE users SET last_message_read_time = $1 WHERE id = $2`, t, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
