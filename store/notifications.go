package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go-blogjobs/model"
)

const insertNotification = `INSERT INTO notifications (name, user_id, created_at, payload)
	VALUES ($1, $2, $3, $4) RETURNING id`

// The conflict target matches the partial index ux_notifications_counter.
const upsertNotification = `INSERT INTO notifications (name, user_id, created_at, payload)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (user_id, name) WHERE name <> 'task_progress'
	DO UPDATE SET created_at = EXCLUDED.created_at, payload = EXCLUDED.payload
	RETURNING id`

// AddNotification appends a notification for userID. Names that do not
// accumulate are upserted, so the user holds at most one row per name.
func (s *Store) AddNotification(ctx context.Context, q Querier, userID int64, name string, payload any) (*model.Notification, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode notification payload: %w", err)
	}

	n := &model.Notification{
		Name:      name,
		UserID:    userID,
		Timestamp: s.nextTimestamp(),
		Payload:   data,
	}
	query := insertNotification
	if !model.Accumulates(name) {
		query = upsertNotification
	}
	err = q.QueryRow(ctx, query, n.Name, n.UserID, n.Timestamp, string(n.Payload)).Scan(&n.ID)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// NotificationsSince returns the user's notifications newer than since, oldest first.
func (s *Store) NotificationsSince(ctx context.Context, q Querier, userID int64, since float64) ([]model.Notification, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, user_id, created_at, payload FROM notifications
		WHERE user_id = $1 AND created_at > $2
		ORDER BY created_at ASC, id ASC`,
		userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Notification{}
	for rows.Next() {
		var n model.Notification
		var payload string
		if err := rows.Scan(&n.ID, &n.Name, &n.UserID, &n.Timestamp, &payload); err != nil {
			return nil, err
		}
		n.Payload = json.RawMessage(payload)
		out = append(out, n)
	}
	return out, rows.Err()
}
