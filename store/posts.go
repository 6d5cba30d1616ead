package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go-blogjobs/model"
)

const postColumns = `id, body, created_at, user_id, language`

func scanPost(row interface{ Scan(...any) error }) (*model.Post, error) {
	var p model.Post
	if err := row.Scan(&p.ID, &p.Body, &p.Timestamp, &p.UserID, &p.Language); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// CreatePost inserts p inside tx and tracks it as added.
func (s *Store) CreatePost(ctx context.Context, tx *Tx, p *model.Post) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = s.now().UTC()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO posts (body, created_at, user_id, language) VALUES ($1, $2, $3, $4) RETURNING id`,
		p.Body, p.Timestamp, p.UserID, p.Language,
	).Scan(&p.ID)
	if err != nil {
		return err
	}
	tx.TrackAdded(p)
	return nil
}

// UpdatePostBody changes the body of a post owned by userID and tracks it as modified.
func (s *Store) UpdatePostBody(ctx context.Context, tx *Tx, id, userID int64, body string) (*model.Post, error) {
	p, err := scanPost(tx.QueryRow(ctx,
		`UPDATE posts SET body = $1 WHERE id = $2 AND user_id = $3 RETURNING `+postColumns,
		body, id, userID))
	if err != nil {
		return nil, err
	}
	tx.TrackModified(p)
	return p, nil
}

// DeletePost removes a post owned by userID and tracks it as deleted.
func (s *Store) DeletePost(ctx context.Context, tx *Tx, id, userID int64) (*model.Post, error) {
	p, err := scanPost(tx.QueryRow(ctx,
		`DELETE FROM posts WHERE id = $1 AND user_id = $2 RETURNING `+postColumns,
		id, userID))
	if err != nil {
		return nil, err
	}
	tx.TrackDeleted(p)
	return p, nil
}

func (s *Store) CountPostsByUser(ctx context.Context, q Querier, userID int64) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM posts WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// PostsByUser returns the user's posts, oldest first.
func (s *Store) PostsByUser(ctx context.Context, q Querier, userID int64) ([]model.Post, error) {
	rows, err := q.Query(ctx,
		`SELECT `+postColumns+` FROM posts WHERE user_id = $1 ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []model.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// EachPost calls fn for every post in primary key order.
func (s *Store) EachPost(ctx context.Context, q Querier, fn func(*model.Post) error) error {
	rows, err := q.Query(ctx, `SELECT `+postColumns+` FROM posts ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// PostsByIDs loads the posts with the given ids, in the order of ids.
// Ids with no matching row are skipped.
func (s *Store) PostsByIDs(ctx context.Context, q Querier, ids []int64) ([]model.Post, error) {
	if len(ids) == 0 {
		return []model.Post{}, nil
	}

	args := make([]any, len(ids))
	placeholders := make([]string, len(ids))
	var order strings.Builder
	for i, id := range ids {
		args[i] = id
		placeholders[i] = "$" + strconv.Itoa(i+1)
		fmt.Fprintf(&order, " WHEN %s THEN %d", placeholders[i], i)
	}
	query := fmt.Sprintf(`SELECT %s FROM posts WHERE id IN (%s) ORDER BY CASE id%s END`,
		postColumns, strings.Join(placeholders, ", "), order.String())

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := make([]model.Post, 0, len(ids))
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}
