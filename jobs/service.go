// Package jobs ties queue-side job state to the durable job records and the
// per-user notification feed.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go-blogjobs/metrics"
	"go-blogjobs/model"
	"go-blogjobs/queue"
	"go-blogjobs/store"
)

// Queue is the part of the job queue the request side and the bridge use.
type Queue interface {
	Enqueue(ctx context.Context, taskName string, args ...any) (string, error)
	Fetch(ctx context.Context, id string) (*queue.Job, error)
	SaveMeta(ctx context.Context, id string, meta queue.Meta) error
}

type Service struct {
	store   *store.Store
	queue   Queue
	logger  *slog.Logger
	metrics *metrics.Collector
}

func NewService(st *store.Store, q Queue, logger *slog.Logger, m *metrics.Collector) *Service {
	return &Service{store: st, queue: q, logger: logger, metrics: m}
}

// TaskStatus is an in-progress job as shown to its owner.
type TaskStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Progress    int    `json:"progress"`
}

// Launch enqueues task name with the owner's id as first argument, followed
// by args, and adds the job record to tx. The caller commits tx.
func (s *Service) Launch(ctx context.Context, tx store.Querier, name, description string, userID int64, args ...any) (*model.JobRecord, error) {
	id, err := s.queue.Enqueue(ctx, name, append([]any{userID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", name, err)
	}
	s.metrics.JobEnqueued(name)

	rec := &model.JobRecord{
		ID:          id,
		Name:        name,
		Description: description,
		UserID:      userID,
	}
	if err := s.store.CreateJobRecord(ctx, tx, rec); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}
	s.logger.Info("job launched", "job_id", id, "task", name, "user_id", userID)
	return rec, nil
}

// Progress returns the job's last reported progress. A job the queue no
// longer has, or cannot be reached for, counts as finished.
func (s *Service) Progress(ctx context.Context, jobID string) int {
	job, err := s.queue.Fetch(ctx, jobID)
	if err != nil {
		if !errors.Is(err, queue.ErrJobNotFound) {
			s.logger.Warn("job progress unavailable", "job_id", jobID, "error", err)
		}
		return 100
	}
	return job.Meta.Progress
}

// InProgress lists the user's incomplete jobs with their current progress.
func (s *Service) InProgress(ctx context.Context, userID int64) ([]TaskStatus, error) {
	recs, err := s.store.JobsInProgress(ctx, s.store.DB(), userID)
	if err != nil {
		return nil, err
	}
	out := make([]TaskStatus, 0, len(recs))
	for _, r := range recs {
		out = append(out, TaskStatus{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Progress:    s.Progress(ctx, r.ID),
		})
	}
	return out, nil
}

// InProgressNamed returns the user's incomplete job for task name, or nil.
func (s *Service) InProgressNamed(ctx context.Context, userID int64, name string) (*model.JobRecord, error) {
	rec, err := s.store.JobInProgress(ctx, s.store.DB(), userID, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}
