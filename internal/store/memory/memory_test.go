package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/studyroom/internal/domain"
	"github.com/dkeye/studyroom/internal/store"
)

func newTestRoom(t *testing.T, s *Store, capacity int) *domain.Room {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	room, err := domain.NewRoom("algebra study", "owner", capacity, domain.Features{Audio: true}, now)
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	if err := s.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func TestRoomNotFound(t *testing.T) {
	s := New()
	if _, err := s.GetRoom(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAddParticipantCapacity(t *testing.T) {
	ctx := context.Background()
	s := New()
	room := newTestRoom(t, s, 2)
	now := time.Now()

	for i := 0; i < 2; i++ {
		u := &domain.User{ID: domain.UserID(fmt.Sprintf("user-%d", i)), Username: "guest"}
		if _, _, err := s.AddParticipant(ctx, domain.NewParticipant(room.ID, u, false, now)); err != nil {
			t.Fatalf("AddParticipant %d: %v", i, err)
		}
	}
	extra := &domain.User{ID: "user-extra", Username: "guest"}
	if _, _, err := s.AddParticipant(ctx, domain.NewParticipant(room.ID, extra, false, now)); !errors.Is(err, store.ErrCapacityExceeded) {
		t.Fatalf("over capacity err = %v, want ErrCapacityExceeded", err)
	}

	// A leaver frees a slot.
	if err := s.RemoveParticipant(ctx, room.ID, "user-0", now.Add(time.Minute)); err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if _, _, err := s.AddParticipant(ctx, domain.NewParticipant(room.ID, extra, false, now.Add(time.Minute))); err != nil {
		t.Fatalf("AddParticipant after leave: %v", err)
	}
}

func TestAddParticipantReactivates(t *testing.T) {
	ctx := context.Background()
	s := New()
	room := newTestRoom(t, s, 5)
	joined := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	alice := &domain.User{ID: "alice", Username: "alice"}
	first, reactivated, err := s.AddParticipant(ctx, domain.NewParticipant(room.ID, alice, false, joined))
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if reactivated {
		t.Fatal("fresh membership reported as reactivation")
	}

	// Re-add while the row is still active keeps the original row, even at
	// the exact same instant.
	for _, at := range []time.Time{joined, joined.Add(time.Hour)} {
		again, reactivated, err := s.AddParticipant(ctx, domain.NewParticipant(room.ID, alice, false, at))
		if err != nil {
			t.Fatalf("re-AddParticipant at %s: %v", at, err)
		}
		if !reactivated {
			t.Fatalf("re-add at %s not reported as reactivation", at)
		}
		if !again.JoinedAt.Equal(first.JoinedAt) {
			t.Fatalf("JoinedAt changed on reactivation: %s != %s", again.JoinedAt, first.JoinedAt)
		}
	}

	rows, err := s.ListParticipants(ctx, room.ID)
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one active row, got %d", len(rows))
	}
}

func TestListMessagesTail(t *testing.T) {
	ctx := context.Background()
	s := New()
	room := newTestRoom(t, s, 5)
	now := time.Now()

	alice := &domain.User{ID: "alice", Username: "alice"}
	for i := 0; i < 10; i++ {
		msg, err := domain.NewMessage(room.ID, alice, fmt.Sprintf("msg %d", i), now.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("NewMessage: %v", err)
		}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	got, err := s.ListMessages(ctx, room.ID, 3)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Newest three, oldest first.
	if got[0].Body != "msg 7" || got[2].Body != "msg 9" {
		t.Fatalf("wrong window: %s .. %s", got[0].Body, got[2].Body)
	}
}

func TestOneActiveTimerPerRoom(t *testing.T) {
	ctx := context.Background()
	s := New()
	room := newTestRoom(t, s, 5)
	now := time.Now()

	first, err := domain.NewTimerSession(room.ID, "alice", 25*time.Minute, 5*time.Minute, 4, now)
	if err != nil {
		t.Fatalf("NewTimerSession: %v", err)
	}
	if err := s.StartTimerSession(ctx, first); err != nil {
		t.Fatalf("StartTimerSession: %v", err)
	}

	second, _ := domain.NewTimerSession(room.ID, "bob", 50*time.Minute, 10*time.Minute, 2, now)
	if err := s.StartTimerSession(ctx, second); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second timer err = %v, want ErrConflict", err)
	}

	// Finishing the first frees the slot.
	done := now.Add(time.Hour)
	stopped := true
	if _, err := s.UpdateTimerSession(ctx, first.ID, store.TimerPatch{CompletedAt: &done, Stopped: &stopped}); err != nil {
		t.Fatalf("UpdateTimerSession: %v", err)
	}
	if err := s.StartTimerSession(ctx, second); err != nil {
		t.Fatalf("StartTimerSession after stop: %v", err)
	}

	active, err := s.ActiveTimerSession(ctx, room.ID)
	if err != nil {
		t.Fatalf("ActiveTimerSession: %v", err)
	}
	if active.ID != second.ID {
		t.Fatalf("active = %s, want %s", active.ID, second.ID)
	}
}

func TestUpdateTaskPatch(t *testing.T) {
	ctx := context.Background()
	s := New()
	room := newTestRoom(t, s, 5)
	now := time.Now()

	task, err := domain.NewTask(room.ID, "alice", "review notes", "", domain.PriorityNormal, now)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	status := domain.TaskCancelled
	updated, err := s.UpdateTask(ctx, task.ID, domain.TaskPatch{Status: &status}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.Status != domain.TaskCancelled {
		t.Fatalf("status = %s, want cancelled", updated.Status)
	}

	// Terminal state rejects further moves.
	next := domain.TaskInProgress
	if _, err := s.UpdateTask(ctx, task.ID, domain.TaskPatch{Status: &next}, now.Add(2*time.Minute)); !errors.Is(err, domain.ErrBadTransition) {
		t.Fatalf("err = %v, want ErrBadTransition", err)
	}

	if _, err := s.UpdateTask(ctx, "missing", domain.TaskPatch{}, now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing task err = %v, want ErrNotFound", err)
	}
}
