package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxTaskTitleLen = 140

var (
	ErrTaskTitleEmpty   = errors.New("task title empty")
	ErrTaskTitleTooLong = errors.New("task title too long")
	ErrBadTransition    = errors.New("invalid task status transition")
)

type TaskID string

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

// rank orders the forward progression. Cancelled sits outside the ladder.
func (s TaskStatus) rank() int {
	switch s {
	case TaskPending:
		return 0
	case TaskInProgress:
		return 1
	case TaskCompleted:
		return 2
	}
	return -1
}

// CanTransition reports whether s may move to next. Transitions are monotonic
// with one undo path: completed may be reverted to pending. Cancelled is
// reachable from any non-terminal state and is terminal.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if !next.valid() || s == next {
		return s == next && s.valid()
	}
	if s == TaskCancelled {
		return false
	}
	if next == TaskCancelled {
		return true
	}
	if s == TaskCompleted && next == TaskPending {
		return true
	}
	return next.rank() > s.rank()
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityNormal TaskPriority = "normal"
	PriorityHigh   TaskPriority = "high"
)

type Task struct {
	ID          TaskID       `json:"id"`
	RoomID      RoomID       `json:"room_id,omitempty"`
	AuthorID    UserID       `json:"author_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	EstimateMin int          `json:"estimate_min,omitempty"`
	ActualMin   int          `json:"actual_min,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func NewTask(room RoomID, author UserID, title, description string, priority TaskPriority, now time.Time) (*Task, error) {
	if len(title) == 0 {
		return nil, ErrTaskTitleEmpty
	}
	if len(title) > MaxTaskTitleLen {
		return nil, ErrTaskTitleTooLong
	}
	if priority == "" {
		priority = PriorityNormal
	}
	return &Task{
		ID:          TaskID(uuid.NewString()),
		RoomID:      room,
		AuthorID:    author,
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// TaskPatch carries per-field updates so concurrent writers touching
// different fields do not clobber each other.
type TaskPatch struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Priority    *TaskPriority `json:"priority,omitempty"`
	Status      *TaskStatus   `json:"status,omitempty"`
	EstimateMin *int          `json:"estimate_min,omitempty"`
	ActualMin   *int          `json:"actual_min,omitempty"`
}

// Apply merges the patch into t, validating the status transition.
func (p TaskPatch) Apply(t *Task, now time.Time) error {
	if p.Status != nil && !t.Status.CanTransition(*p.Status) {
		return ErrBadTransition
	}
	if p.Title != nil {
		if len(*p.Title) == 0 {
			return ErrTaskTitleEmpty
		}
		if len(*p.Title) > MaxTaskTitleLen {
			return ErrTaskTitleTooLong
		}
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.EstimateMin != nil {
		t.EstimateMin = *p.EstimateMin
	}
	if p.ActualMin != nil {
		t.ActualMin = *p.ActualMin
	}
	t.UpdatedAt = now
	return nil
}
