package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go-blogjobs/logging"
	"go-blogjobs/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type finished struct {
	status queue.Status
	errMsg string
}

type fakeQueue struct {
	jobs chan *queue.Job

	mu   sync.Mutex
	done map[string]finished
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(chan *queue.Job, 4), done: make(map[string]finished)}
}

func (q *fakeQueue) Dequeue(ctx context.Context, blockFor time.Duration) (*queue.Job, error) {
	select {
	case j := <-q.jobs:
		return j, nil
	case <-time.After(blockFor):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQueue) Finish(_ context.Context, id string, status queue.Status, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.done[id] = finished{status: status, errMsg: errMsg}
	return nil
}

func (q *fakeQueue) result(id string) (finished, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	f, ok := q.done[id]
	return f, ok
}

type progressLog struct {
	mu      sync.Mutex
	reports map[string][]int
}

func (p *progressLog) SetProgress(_ context.Context, jobID string, progress int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reports == nil {
		p.reports = make(map[string][]int)
	}
	p.reports[jobID] = append(p.reports[jobID], progress)
	return nil
}

func (p *progressLog) of(jobID string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.reports[jobID]...)
}

func rawArgs(t *testing.T, args ...any) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	for _, a := range args {
		b, err := json.Marshal(a)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func TestProcessSuccess(t *testing.T) {
	q := newFakeQueue()
	progress := &progressLog{}
	var gotUser int64
	pool := NewPool(q, Registry{
		"export_posts": func(ctx context.Context, job *Job, args Args) error {
			var err error
			gotUser, err = args.Int64(0)
			if err != nil {
				return err
			}
			if err := job.SetProgress(ctx, 50); err != nil {
				return err
			}
			return job.SetProgress(ctx, 100)
		},
	}, progress, logging.Discard(), nil)

	pool.Process(context.Background(), &queue.Job{ID: "j1", Name: "export_posts", Args: rawArgs(t, 7)})

	assert.Equal(t, int64(7), gotUser)
	assert.Equal(t, []int{50, 100}, progress.of("j1"))
	res, ok := q.result("j1")
	require.True(t, ok)
	assert.Equal(t, queue.StatusFinished, res.status)
	assert.Empty(t, res.errMsg)
}

func TestProcessFailureForcesCompletion(t *testing.T) {
	tests := []struct {
		name    string
		handler Handler
		wantErr string
	}{
		{
			name: "error",
			handler: func(ctx context.Context, job *Job, _ Args) error {
				_ = job.SetProgress(ctx, 20)
				return errors.New("smtp refused")
			},
			wantErr: "smtp refused",
		},
		{
			name: "panic",
			handler: func(context.Context, *Job, Args) error {
				panic("boom")
			},
			wantErr: "panic: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newFakeQueue()
			progress := &progressLog{}
			pool := NewPool(q, Registry{"export_posts": tt.handler}, progress, logging.Discard(), nil)

			pool.Process(context.Background(), &queue.Job{ID: "j", Name: "export_posts"})

			reports := progress.of("j")
			require.NotEmpty(t, reports)
			assert.Equal(t, 100, reports[len(reports)-1])
			res, ok := q.result("j")
			require.True(t, ok)
			assert.Equal(t, queue.StatusFailed, res.status)
			assert.Contains(t, res.errMsg, tt.wantErr)
		})
	}
}

func TestProcessUnknownTask(t *testing.T) {
	q := newFakeQueue()
	progress := &progressLog{}
	pool := NewPool(q, Registry{}, progress, logging.Discard(), nil)

	pool.Process(context.Background(), &queue.Job{ID: "j", Name: "nope"})

	assert.Equal(t, []int{100}, progress.of("j"))
	res, _ := q.result("j")
	assert.Equal(t, queue.StatusFailed, res.status)
	assert.Contains(t, res.errMsg, ErrUnknownTask.Error())
}

func TestProcessLogsWithJobID(t *testing.T) {
	var buf bytes.Buffer
	q := newFakeQueue()
	var seen string
	pool := NewPool(q, Registry{
		"export_posts": func(ctx context.Context, _ *Job, _ Args) error {
			seen = logging.JobIDFromContext(ctx)
			return nil
		},
	}, &progressLog{}, logging.NewWithWriter(&buf, slog.LevelInfo), nil)

	pool.Process(context.Background(), &queue.Job{ID: "job-9", Name: "export_posts"})

	assert.Equal(t, "job-9", seen, "handlers receive the job id in their context")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "job processed", entry["msg"])
	assert.Equal(t, "job-9", entry["job_id"])
	assert.Equal(t, "export_posts", entry["task"])
}

func TestArgs(t *testing.T) {
	args := Args(rawArgs(t, 3, "x"))

	n, err := args.Int64(0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = args.Int64(1)
	assert.Error(t, err)
	_, err = args.Int64(2)
	assert.Error(t, err)
}

func TestStartProcessesUntilCancelled(t *testing.T) {
	q := newFakeQueue()
	progress := &progressLog{}
	pool := NewPool(q, Registry{
		"noop": func(ctx context.Context, job *Job, _ Args) error {
			return job.SetProgress(ctx, 100)
		},
	}, progress, logging.Discard(), nil)
	pool.blockFor = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	pool.Start(ctx, 2, &wg)

	q.jobs <- &queue.Job{ID: "a", Name: "noop"}
	q.jobs <- &queue.Job{ID: "b", Name: "noop"}

	assert.Eventually(t, func() bool {
		_, a := q.result("a")
		_, b := q.result("b")
		return a && b
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
	assert.Equal(t, []int{100}, progress.of("a"))
}
