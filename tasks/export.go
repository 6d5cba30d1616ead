// Package tasks holds the units of work run by the worker process.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go-blogjobs/mail"
	"go-blogjobs/model"
	"go-blogjobs/store"
	"go-blogjobs/worker"
)

const ExportPosts = "export_posts"

type PostSource interface {
	GetUser(ctx context.Context, q store.Querier, id int64) (*model.User, error)
	PostsByUser(ctx context.Context, q store.Querier, userID int64) ([]model.Post, error)
}

type exportedPost struct {
	Body      string `json:"body"`
	Timestamp string `json:"timestamp"`
}

type Exporter struct {
	posts  PostSource
	db     store.Querier
	mailer mail.Mailer
	sender string
	delay  time.Duration
}

// NewExporter builds the export_posts task. delay is slept after each post.
func NewExporter(posts PostSource, db store.Querier, mailer mail.Mailer, sender string, delay time.Duration) *Exporter {
	return &Exporter{posts: posts, db: db, mailer: mailer, sender: sender, delay: delay}
}

func (e *Exporter) Register(reg worker.Registry) {
	reg[ExportPosts] = e.Run
}

// Run collects the user's posts oldest first, reporting progress per post,
// and mails them as posts.json. Args: [userID].
func (e *Exporter) Run(ctx context.Context, job *worker.Job, args worker.Args) error {
	userID, err := args.Int64(0)
	if err != nil {
		return err
	}
	user, err := e.posts.GetUser(ctx, e.db, userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}
	if err := job.SetProgress(ctx, 0); err != nil {
		return err
	}

	posts, err := e.posts.PostsByUser(ctx, e.db, userID)
	if err != nil {
		return fmt.Errorf("load posts: %w", err)
	}

	data := make([]exportedPost, 0, len(posts))
	for i, p := range posts {
		data = append(data, exportedPost{Body: p.Body, Timestamp: isoTimestamp(p.Timestamp)})
		if err := e.wait(ctx); err != nil {
			return err
		}
		if err := job.SetProgress(ctx, 100*(i+1)/len(posts)); err != nil {
			return err
		}
	}
	if len(posts) == 0 {
		if err := job.SetProgress(ctx, 100); err != nil {
			return err
		}
	}

	attachment, err := json.MarshalIndent(map[string]any{"posts": data}, "", "    ")
	if err != nil {
		return err
	}
	return e.mailer.Send(ctx, mail.Message{
		Subject: "[Myblog] Your blog posts",
		From:    e.sender,
		To:      []string{user.Email},
		Text:    fmt.Sprintf("Dear %s,\n\nPlease find attached the archive of your posts that you requested.\n", user.Username),
		HTML:    fmt.Sprintf("<p>Dear %s,</p><p>Please find attached the archive of your posts that you requested.</p>", user.Username),
		Attachments: []mail.Attachment{
			{Filename: "posts.json", ContentType: "application/json", Data: attachment},
		},
	})
}

func (e *Exporter) wait(ctx context.Context) error {
	if e.delay <= 0 {
		return nil
	}
	t := time.NewTimer(e.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isoTimestamp renders t in UTC as ISO-8601 with a Z suffix. The fraction
// is always six digits and is left out when the microseconds are zero.
func isoTimestamp(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 == 0 {
		return t.Format("2006-01-02T15:04:05") + "Z"
	}
	return t.Format("2006-01-02T15:04:05.000000") + "Z"
}
