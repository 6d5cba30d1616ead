package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go-blogjobs/logging"
	"go-blogjobs/metrics"
	"go-blogjobs/model"
	"go-blogjobs/queue"
	"go-blogjobs/store"
)

const (
	defaultRecordWait = 5 * time.Second
	defaultRecordPoll = 100 * time.Millisecond
)

// Bridge reports task progress from the worker side: it appends a
// task_progress notification for the job's owner, completes the job record
// once progress reaches 100 and then updates the queue metadata.
type Bridge struct {
	store   *store.Store
	queue   Queue
	logger  *slog.Logger
	metrics *metrics.Collector

	// A worker can pick a job up before the request that launched it has
	// committed the job record. recordWait bounds how long SetProgress
	// waits for the record to become visible.
	recordWait time.Duration
	recordPoll time.Duration
}

func NewBridge(st *store.Store, q Queue, logger *slog.Logger, m *metrics.Collector) *Bridge {
	return &Bridge{
		store:      st,
		queue:      q,
		logger:     logger,
		metrics:    m,
		recordWait: defaultRecordWait,
		recordPoll: defaultRecordPoll,
	}
}

// SetProgress records progress for jobID. Values are clamped to [0,100] and
// never go below what the queue already holds for the job. The record and
// notification updates commit in one transaction; the queue metadata is
// only written after that commit succeeds.
func (b *Bridge) SetProgress(ctx context.Context, jobID string, progress int) error {
	progress = max(0, min(progress, 100))
	log := logging.FromContext(logging.WithJobID(ctx, jobID), b.logger)

	if job, err := b.queue.Fetch(ctx, jobID); err == nil && job.Meta.Progress > progress {
		progress = job.Meta.Progress
	}

	tx, err := b.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := b.jobRecord(ctx, tx, jobID)
	if err != nil {
		return fmt.Errorf("job record %s: %w", jobID, err)
	}
	_, err = b.store.AddNotification(ctx, tx, rec.UserID, model.NotificationTaskProgress,
		model.TaskProgress{TaskID: jobID, Progress: progress})
	if err != nil {
		return fmt.Errorf("add progress notification: %w", err)
	}
	if progress >= 100 && !rec.Complete {
		if err := b.store.MarkJobComplete(ctx, tx, jobID); err != nil {
			return fmt.Errorf("complete job record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit progress: %w", err)
	}
	b.metrics.NotificationAdded(model.NotificationTaskProgress)

	if err := b.queue.SaveMeta(ctx, jobID, queue.Meta{Progress: progress}); err != nil {
		log.Warn("save job meta failed", "progress", progress, "error", err)
	}
	log.Debug("job progress", "progress", progress)
	return nil
}

// jobRecord looks the record up, retrying while it is not yet visible.
// Each statement in a read committed transaction sees rows committed
// before it started, so retrying inside tx picks up a late commit.
func (b *Bridge) jobRecord(ctx context.Context, tx store.Querier, jobID string) (*model.JobRecord, error) {
	deadline := time.Now().Add(b.recordWait)
	for {
		rec, err := b.store.GetJobRecord(ctx, tx, jobID)
		if !errors.Is(err, store.ErrNotFound) || !time.Now().Before(deadline) {
			return rec, err
		}

		t := time.NewTimer(b.recordPoll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
