package model

import (
	"encoding/json"
	"time"
)

type User struct {
	ID                  int64      `json:"id"`
	Username            string     `json:"username"`
	Email               string     `json:"email"`
	LastMessageReadTime *time.Time `json:"last_message_read_time,omitempty"`
}

type Post struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	UserID    int64     `json:"user_id"`
	Language  string    `json:"language,omitempty"`
}

const PostsIndex = "posts"

func (p *Post) SearchIndex() string { return PostsIndex }
func (p *Post) SearchID() int64     { return p.ID }

func (p *Post) SearchFields() map[string]any {
	return map[string]any{"body": p.Body}
}

type Message struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	Body        string    `json:"body"`
	Timestamp   time.Time `json:"timestamp"`
}

// JobRecord is the durable record of a submitted background job.
// ID is the queue-assigned job id.
type JobRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	UserID      int64  `json:"user_id"`
	Complete    bool   `json:"complete"`
}

const (
	NotificationTaskProgress       = "task_progress"
	NotificationUnreadMessageCount = "unread_message_count"
)

type Notification struct {
	ID        int64           `json:"-"`
	Name      string          `json:"name"`
	UserID    int64           `json:"-"`
	Timestamp float64         `json:"timestamp"`
	Payload   json.RawMessage `json:"data"`
}

// Data decodes the payload.
func (n *Notification) Data() (any, error) {
	var v any
	if len(n.Payload) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(n.Payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Accumulates reports whether notifications with this name form an
// append-only feed. All other names keep at most one live row per user.
func Accumulates(name string) bool {
	return name == NotificationTaskProgress
}

// TaskProgress is the payload of a task_progress notification.
type TaskProgress struct {
	TaskID   string `json:"task_id"`
	Progress int    `json:"progress"`
}

// Timestamp converts t to float seconds, the notification cursor unit.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
