package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go-blogjobs/logging"
	"go-blogjobs/metrics"
	"go-blogjobs/queue"
)

var ErrUnknownTask = errors.New("unknown task")

// Queue is the consumer side of the job queue.
type Queue interface {
	Dequeue(ctx context.Context, blockFor time.Duration) (*queue.Job, error)
	Finish(ctx context.Context, id string, status queue.Status, errMsg string) error
}

// ProgressReporter publishes task progress to the job's owner.
type ProgressReporter interface {
	SetProgress(ctx context.Context, jobID string, progress int) error
}

// Job is the running job as seen by a task handler.
type Job struct {
	ID   string
	Name string

	progress ProgressReporter
}

func NewJob(id, name string, progress ProgressReporter) *Job {
	return &Job{ID: id, Name: name, progress: progress}
}

func (j *Job) SetProgress(ctx context.Context, progress int) error {
	return j.progress.SetProgress(ctx, j.ID, progress)
}

// Args are the JSON-encoded positional arguments of a job.
type Args []json.RawMessage

func (a Args) Decode(i int, v any) error {
	if i >= len(a) {
		return fmt.Errorf("missing argument %d", i)
	}
	if err := json.Unmarshal(a[i], v); err != nil {
		return fmt.Errorf("argument %d: %w", i, err)
	}
	return nil
}

func (a Args) Int64(i int) (int64, error) {
	var n int64
	err := a.Decode(i, &n)
	return n, err
}

type Handler func(ctx context.Context, job *Job, args Args) error

// Registry maps task names to handlers.
type Registry map[string]Handler

type Pool struct {
	queue    Queue
	registry Registry
	progress ProgressReporter
	logger   *slog.Logger
	metrics  *metrics.Collector
	blockFor time.Duration
}

func NewPool(q Queue, registry Registry, progress ProgressReporter, logger *slog.Logger, m *metrics.Collector) *Pool {
	return &Pool{
		queue:    q,
		registry: registry,
		progress: progress,
		logger:   logger,
		metrics:  m,
		blockFor: 2 * time.Second,
	}
}

// Start launches workerCount goroutines that process jobs one at a time
// until ctx is cancelled.
func (p *Pool) Start(ctx context.Context, workerCount int, wg *sync.WaitGroup) {
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			log := p.logger.With("worker", id)
			for {
				select {
				case <-ctx.Done():
					log.Info("worker shutting down")
					return
				default:
					job, err := p.queue.Dequeue(ctx, p.blockFor)
					if err != nil {
						if ctx.Err() != nil {
							continue
						}
						log.Error("dequeue failed", "error", err)
						time.Sleep(time.Second)
						continue
					}
					if job == nil {
						continue
					}
					p.Process(ctx, job)
				}
			}
		}(i + 1)
	}
}

// Process runs one job. A task that fails or panics is still reported to its
// owner as 100% complete; the failure is logged and the queue status is failed.
func (p *Pool) Process(ctx context.Context, qj *queue.Job) {
	start := time.Now()
	ctx = logging.WithJobID(ctx, qj.ID)
	log := logging.FromContext(ctx, p.logger).With("task", qj.Name)
	p.metrics.JobStarted(qj.Name)

	status := queue.StatusFinished
	errMsg := ""
	if err := p.run(ctx, qj); err != nil {
		status = queue.StatusFailed
		errMsg = err.Error()

		if perr := p.progress.SetProgress(context.WithoutCancel(ctx), qj.ID, 100); perr != nil {
			log.Error("could not mark failed job complete", "error", perr)
		}
		log.Error("unhandled task failure", "error", err)
	}

	if err := p.queue.Finish(context.WithoutCancel(ctx), qj.ID, status, errMsg); err != nil {
		log.Error("could not record job status", "status", status, "error", err)
	}
	elapsed := time.Since(start)
	p.metrics.JobFinished(qj.Name, string(status), elapsed.Seconds())
	log.Info("job processed", "status", status, "duration", elapsed)
}

func (p *Pool) run(ctx context.Context, qj *queue.Job) (err error) {
	handler, ok := p.registry[qj.Name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, qj.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return handler(ctx, NewJob(qj.ID, qj.Name, p.progress), Args(qj.Args))
}
