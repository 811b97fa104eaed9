package sqlite

import (
	"context"
	"fmt"

	"github.com/dkeye/studyroom/internal/domain"
)

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, author_id, author, body, kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, msg.AuthorID, msg.Author, msg.Body, msg.Kind, fmtTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("append message: %w", mapErr(err))
	}
	return nil
}

// ListMessages returns the last limit messages, oldest first. The ULID id is
// the commit order, so ordering by id is ordering by commit.
func (s *Store) ListMessages(ctx context.Context, room domain.RoomID, limit int) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, author_id, author, body, kind, created_at FROM (
			SELECT * FROM messages WHERE room_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id`, room, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", mapErr(err))
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		var (
			m         domain.Message
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Author, &m.Body, &m.Kind, &createdAt); err != nil {
			return nil, mapErr(err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
