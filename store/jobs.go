package store

import (
	"context"

	"go-blogjobs/model"
)

const jobColumns = `id, name, description, user_id, complete`

func scanJobRecord(row interface{ Scan(...any) error }) (*model.JobRecord, error) {
	var r model.JobRecord
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.UserID, &r.Complete); err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// CreateJobRecord inserts rec. The caller owns the transaction and commits it.
func (s *Store) CreateJobRecord(ctx context.Context, q Querier, rec *model.JobRecord) error {
	_, err := q.Exec(ctx,
		`INSERT INTO job_records (id, name, description, user_id, complete) VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.Name, rec.Description, rec.UserID, rec.Complete)
	return err
}

func (s *Store) GetJobRecord(ctx context.Context, q Querier, id string) (*model.JobRecord, error) {
	return scanJobRecord(q.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM job_records WHERE id = $1`, id))
}

func (s *Store) MarkJobComplete(ctx context.Context, q Querier, id string) error {
	tag, err := q.Exec(ctx, `UPDATE job_records SET complete = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// JobsInProgress returns the user's incomplete job records.
func (s *Store) JobsInProgress(ctx context.Context, q Querier, userID int64) ([]model.JobRecord, error) {
	rows, err := q.Query(ctx,
		`SELECT `+jobColumns+` FROM job_records WHERE user_id = $1 AND complete = FALSE ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []model.JobRecord{}
	for rows.Next() {
		r, err := scanJobRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, rows.Err()
}

// JobInProgress returns an incomplete job record with the given task name,
// or ErrNotFound.
func (s *Store) JobInProgress(ctx context.Context, q Querier, userID int64, name string) (*model.JobRecord, error) {
	return scanJobRecord(q.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM job_records WHERE user_id = $1 AND name = $2 AND complete = FALSE LIMIT 1`,
		userID, name))
}
