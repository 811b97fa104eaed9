// Package store defines the durable session store contract: the single
// source of truth for rooms, participants, messages, tasks and timer
// sessions. The room coordinator is the only writer.
package store

import (
	"context"
	"time"

	"github.com/dkeye/studyroom/internal/domain"
)

// RoomFilter narrows ListRooms. Zero fields match everything.
type RoomFilter struct {
	Status     domain.RoomStatus
	Visibility domain.Visibility
}

// TimerPatch carries per-field timer session updates.
type TimerPatch struct {
	CompletedCycles *int
	CompletedAt     *time.Time
	Stopped         *bool
}

type Store interface {
	CreateRoom(ctx context.Context, room *domain.Room) error
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	ListRooms(ctx context.Context, filter RoomFilter) ([]*domain.Room, error)
	SetRoomStatus(ctx context.Context, id domain.RoomID, status domain.RoomStatus, at time.Time) error

	// AddParticipant enforces room capacity and the at-most-one-active-row
	// invariant. Re-adding a user whose row is still active reactivates that
	// row instead of inserting a second one; the bool reports which happened.
	AddParticipant(ctx context.Context, p *domain.Participant) (*domain.Participant, bool, error)
	RemoveParticipant(ctx context.Context, room domain.RoomID, user domain.UserID, leftAt time.Time) error
	SetParticipantConnection(ctx context.Context, room domain.RoomID, user domain.UserID, conn domain.Connection) error
	ListParticipants(ctx context.Context, room domain.RoomID) ([]*domain.Participant, error)

	AppendMessage(ctx context.Context, msg *domain.Message) error
	// ListMessages returns up to limit most recent messages in commit order
	// (oldest first).
	ListMessages(ctx context.Context, room domain.RoomID, limit int) ([]*domain.Message, error)

	CreateTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, id domain.TaskID) (*domain.Task, error)
	UpdateTask(ctx context.Context, id domain.TaskID, patch domain.TaskPatch, now time.Time) (*domain.Task, error)
	ListTasks(ctx context.Context, room domain.RoomID) ([]*domain.Task, error)

	// StartTimerSession fails with ErrConflict while the room already has an
	// active (uncompleted) session.
	StartTimerSession(ctx context.Context, s *domain.TimerSession) error
	UpdateTimerSession(ctx context.Context, id domain.TimerSessionID, patch TimerPatch) (*domain.TimerSession, error)
	// ActiveTimerSession returns ErrNotFound when no session is active.
	ActiveTimerSession(ctx context.Context, room domain.RoomID) (*domain.TimerSession, error)

	Close() error
}
