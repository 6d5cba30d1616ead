package store

import (
	"context"

	"go-blogjobs/model"
)

func (s *Store) CreateMessage(ctx context.Context, q Querier, m *model.Message) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now().UTC()
	}
	return q.QueryRow(ctx,
		`INSERT INTO messages (sender_id, recipient_id, body, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		m.SenderID, m.RecipientID, m.Body, m.Timestamp,
	).Scan(&m.ID)
}

// CountNewMessages counts messages received after the user last read their inbox.
func (s *Store) CountNewMessages(ctx context.Context, q Querier, userID int64) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages m
		JOIN users u ON u.id = m.recipient_id
		WHERE m.recipient_id = $1
		  AND (u.last_message_read_time IS NULL OR m.created_at > u.last_message_read_time)`,
		userID).Scan(&n)
	return n, err
}

// MessagesReceived returns one page (1-indexed) of the user's inbox, newest
// first, and whether a later page exists.
func (s *Store) MessagesReceived(ctx context.Context, q Querier, userID int64, page, perPage int) ([]model.Message, bool, error) {
	if page < 1 {
		page = 1
	}
	rows, err := q.Query(ctx, `
		SELECT id, sender_id, recipient_id, body, created_at FROM messages
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		userID, perPage+1, (page-1)*perPage)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.Timestamp); err != nil {
			return nil, false, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(msgs) > perPage {
		return msgs[:perPage], true, nil
	}
	return msgs, false, nil
}
