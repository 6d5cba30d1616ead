package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrUnavailable = errors.New("queue unavailable")
)

type Status string

const (
	StatusQueued   Status = "queued"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// Meta is the mutable per-job metadata written by the running task.
type Meta struct {
	Progress int `json:"progress"`
}

type Job struct {
	ID         string
	Name       string
	Args       []json.RawMessage
	Status     Status
	Meta       Meta
	EnqueuedAt time.Time
	StartedAt  time.Time
	EndedAt    time.Time
	Error      string
}

type Options struct {
	// ResultTTL and FailureTTL bound how long a job's hash outlives its
	// execution. Zero or negative keeps it forever.
	ResultTTL  time.Duration
	FailureTTL time.Duration
}

// Queue is a Redis list of job ids plus one hash per job. Dequeued ids sit
// in a processing list until Finish.
type Queue struct {
	client *redis.Client
	name   string
	opts   Options
}

// Connect opens a client for redisURL and pings it.
func Connect(ctx context.Context, redisURL, name string, opts Options) (*Queue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return New(client, name, opts), nil
}

func New(client *redis.Client, name string, opts Options) *Queue {
	return &Queue{client: client, name: name, opts: opts}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) jobKey(id string) string {
	return q.name + ":job:" + id
}

func (q *Queue) processingKey() string {
	return q.name + ":processing"
}

// Enqueue stores a job for taskName with args and pushes it onto the queue.
func (q *Queue) Enqueue(ctx context.Context, taskName string, args ...any) (string, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode job args: %w", err)
	}

	id := uuid.NewString()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(id), map[string]any{
			"name":        taskName,
			"args":        string(data),
			"status":      string(StatusQueued),
			"meta":        "{}",
			"enqueued_at": time.Now().UTC().Format(time.RFC3339Nano),
		})
		pipe.LPush(ctx, q.name, id)
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Fetch loads a job. It returns ErrJobNotFound when the job never existed
// or has expired, and wraps connection failures in ErrUnavailable.
func (q *Queue) Fetch(ctx context.Context, id string) (*Job, error) {
	vals, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(vals) == 0 {
		return nil, ErrJobNotFound
	}
	return decodeJob(id, vals)
}

// SaveMeta replaces the job's metadata.
func (q *Queue) SaveMeta(ctx context.Context, id string, meta Meta) error {
	n, err := q.client.Exists(ctx, q.jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return q.client.HSet(ctx, q.jobKey(id), "meta", string(data)).Err()
}

// Dequeue blocks up to blockFor for the next job and marks it started.
// It returns nil, nil on timeout. The id moves atomically into the
// processing list, and goes back onto the queue if it cannot be started.
func (q *Queue) Dequeue(ctx context.Context, blockFor time.Duration) (*Job, error) {
	id, err := q.client.BLMove(ctx, q.name, q.processingKey(), "RIGHT", "LEFT", blockFor).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	err = q.client.HSet(ctx, q.jobKey(id),
		"status", string(StatusStarted),
		"started_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return nil, q.requeue(ctx, id, err)
	}
	job, err := q.Fetch(ctx, id)
	if err != nil {
		return nil, q.requeue(ctx, id, err)
	}
	return job, nil
}

// requeue puts id back at the consuming end of the queue.
// TODO: reclaim ids left in the processing list when requeue itself fails
// or a worker dies mid-job.
func (q *Queue) requeue(ctx context.Context, id string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(), 1, id)
		pipe.RPush(ctx, q.name, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("start job %s: %w (requeue: %v)", id, cause, err)
	}
	return fmt.Errorf("start job %s: %w", id, cause)
}

// Finish records the final status and starts the retention clock.
func (q *Queue) Finish(ctx context.Context, id string, status Status, errMsg string) error {
	ttl := q.opts.ResultTTL
	if status == StatusFailed {
		ttl = q.opts.FailureTTL
	}
	key := q.jobKey(id)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(), 1, id)
		pipe.HSet(ctx, key,
			"status", string(status),
			"ended_at", time.Now().UTC().Format(time.RFC3339Nano),
			"error", errMsg,
		)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

// Len returns the number of jobs waiting to be dequeued.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

// Running returns the number of dequeued jobs not yet finished.
func (q *Queue) Running(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.processingKey()).Result()
}

func decodeJob(id string, vals map[string]string) (*Job, error) {
	job := &Job{
		ID:     id,
		Name:   vals["name"],
		Status: Status(vals["status"]),
		Error:  vals["error"],
	}
	if s := vals["args"]; s != "" {
		if err := json.Unmarshal([]byte(s), &job.Args); err != nil {
			return nil, fmt.Errorf("decode job args: %w", err)
		}
	}
	if s := vals["meta"]; s != "" {
		if err := json.Unmarshal([]byte(s), &job.Meta); err != nil {
			return nil, fmt.Errorf("decode job meta: %w", err)
		}
	}
	job.EnqueuedAt = parseTime(vals["enqueued_at"])
	job.StartedAt = parseTime(vals["started_at"])
	job.EndedAt = parseTime(vals["ended_at"])
	return job, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
