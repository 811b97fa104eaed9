package domain

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

const MaxMessageLen = 2048

var (
	ErrMessageEmpty   = errors.New("message empty")
	ErrMessageTooLong = errors.New("message too long")
)

type MessageID string

type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageSystem MessageKind = "system"
)

// Message is append-only: never mutated or deleted once committed.
// The ULID id is monotonic within a room's single-writer loop, so the id
// order is the commit order.
type Message struct {
	ID        MessageID   `json:"id"`
	RoomID    RoomID      `json:"room_id"`
	AuthorID  UserID      `json:"author_id"`
	Author    string      `json:"author"`
	Body      string      `json:"body"`
	Kind      MessageKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
}

func NewMessage(room RoomID, author *User, body string, now time.Time) (*Message, error) {
	if len(body) == 0 {
		return nil, ErrMessageEmpty
	}
	if len(body) > MaxMessageLen {
		return nil, ErrMessageTooLong
	}
	return &Message{
		ID:        MessageID(ulid.Make().String()),
		RoomID:    room,
		AuthorID:  author.ID,
		Author:    author.Username,
		Body:      body,
		Kind:      MessageText,
		CreatedAt: now,
	}, nil
}

func NewSystemMessage(room RoomID, body string, now time.Time) *Message {
	return &Message{
		ID:        MessageID(ulid.Make().String()),
		RoomID:    room,
		Body:      body,
		Kind:      MessageSystem,
		CreatedAt: now,
	}
}
