package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/studyroom/internal/domain"
	"github.com/dkeye/studyroom/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "studyroom.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func createRoom(t *testing.T, s *Store, capacity int) *domain.Room {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	room, err := domain.NewRoom("evening review", "owner", capacity, domain.Features{Audio: true, Video: true}, now)
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	if err := s.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func TestRoomRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	room := createRoom(t, s, 6)

	got, err := s.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.Name != room.Name || got.Capacity != 6 || got.Status != domain.RoomScheduled {
		t.Fatalf("unexpected room: %+v", got)
	}
	if !got.Features.Audio || !got.Features.Video || got.Features.Screen {
		t.Fatalf("features mangled: %+v", got.Features)
	}

	if _, err := s.GetRoom(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing room err = %v, want ErrNotFound", err)
	}

	started := room.CreatedAt.Add(time.Minute)
	if err := s.SetRoomStatus(ctx, room.ID, domain.RoomActive, started); err != nil {
		t.Fatalf("SetRoomStatus: %v", err)
	}
	got, err = s.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoom after activate: %v", err)
	}
	if got.Status != domain.RoomActive || got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatalf("activation not persisted: %+v", got)
	}
}

func TestListRoomsFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	active := createRoom(t, s, 4)
	createRoom(t, s, 4)

	if err := s.SetRoomStatus(ctx, active.ID, domain.RoomActive, time.Now()); err != nil {
		t.Fatalf("SetRoomStatus: %v", err)
	}

	rooms, err := s.ListRooms(ctx, store.RoomFilter{Status: domain.RoomActive})
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != active.ID {
		t.Fatalf("filter returned %d rooms", len(rooms))
	}

	rooms, err = s.ListRooms(ctx, store.RoomFilter{})
	if err != nil {
		t.Fatalf("ListRooms all: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
}

func TestParticipantLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	room := createRoom(t, s, 2)
	now := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)

	alice := &domain.User{ID: "alice", Username: "alice"}
	row, reactivated, err := s.AddParticipant(ctx, domain.NewParticipant(room.ID, alice, true, now))
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if !row.Moderator {
		t.Fatal("moderator flag lost")
	}
	if reactivated {
		t.Fatal("fresh membership reported as reactivation")
	}

	// Re-join while active reuses the row and reports the reactivation.
	again, reactivated, err := s.AddParticipant(ctx, domain.NewParticipant(room.ID, alice, true, now.Add(time.Hour)))
	if err != nil {
		t.Fatalf("re-AddParticipant: %v", err)
	}
	if !reactivated {
		t.Fatal("re-join not reported as reactivation")
	}
	if !again.JoinedAt.Equal(row.JoinedAt) {
		t.Fatalf("JoinedAt changed: %s != %s", again.JoinedAt, row.JoinedAt)
	}

	bob := &domain.User{ID: "bob", Username: "bob"}
	if _, _, err := s.AddParticipant(ctx, domain.NewParticipant(room.ID, bob, false, now)); err != nil {
		t.Fatalf("AddParticipant bob: %v", err)
	}
	carol := &domain.User{ID: "carol", Username: "carol"}
	if _, _, err := s.AddParticipant(ctx, domain.NewParticipant(room.ID, carol, false, now)); !errors.Is(err, store.ErrCapacityExceeded) {
		t.Fatalf("over capacity err = %v, want ErrCapacityExceeded", err)
	}

	if err := s.SetParticipantConnection(ctx, room.ID, "bob", domain.ConnOffline); err != nil {
		t.Fatalf("SetParticipantConnection: %v", err)
	}
	rows, err := s.ListParticipants(ctx, room.ID)
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 active rows, got %d", len(rows))
	}

	if err := s.RemoveParticipant(ctx, room.ID, "alice", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if err := s.RemoveParticipant(ctx, room.ID, "alice", now.Add(2*time.Hour)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("double remove err = %v, want ErrNotFound", err)
	}
}

func TestMessageHistoryWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	room := createRoom(t, s, 4)
	now := time.Now().UTC()

	alice := &domain.User{ID: "alice", Username: "alice"}
	for i := 0; i < 8; i++ {
		msg, err := domain.NewMessage(room.ID, alice, fmt.Sprintf("note %d", i), now.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("NewMessage: %v", err)
		}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	got, err := s.ListMessages(ctx, room.ID, 5)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	if got[0].Body != "note 3" || got[4].Body != "note 7" {
		t.Fatalf("wrong window: %s .. %s", got[0].Body, got[4].Body)
	}
	for i := 1; i < len(got); i++ {
		if got[i].ID <= got[i-1].ID {
			t.Fatalf("ids out of order at %d", i)
		}
	}
}

func TestTimerSessionUniqueness(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	room := createRoom(t, s, 4)
	now := time.Now().UTC()

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

	done := now.Add(30 * time.Minute)
	stopped := true
	cycles := 1
	updated, err := s.UpdateTimerSession(ctx, first.ID, store.TimerPatch{
		CompletedCycles: &cycles,
		CompletedAt:     &done,
		Stopped:         &stopped,
	})
	if err != nil {
		t.Fatalf("UpdateTimerSession: %v", err)
	}
	if updated.CompletedCycles != 1 || !updated.Stopped || updated.CompletedAt == nil {
		t.Fatalf("patch not applied: %+v", updated)
	}

	if _, err := s.ActiveTimerSession(ctx, room.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("active after stop err = %v, want ErrNotFound", err)
	}
	if err := s.StartTimerSession(ctx, second); err != nil {
		t.Fatalf("StartTimerSession after stop: %v", err)
	}
}

func TestTaskPersistence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	room := createRoom(t, s, 4)
	now := time.Now().UTC()

	task, err := domain.NewTask(room.ID, "alice", "summarize lecture", "chapters 2-3", domain.PriorityHigh, now)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	status := domain.TaskInProgress
	actual := 20
	updated, err := s.UpdateTask(ctx, task.ID, domain.TaskPatch{Status: &status, ActualMin: &actual}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.Status != domain.TaskInProgress || updated.ActualMin != 20 {
		t.Fatalf("patch not applied: %+v", updated)
	}

	bad := domain.TaskPending
	if _, err := s.UpdateTask(ctx, task.ID, domain.TaskPatch{Status: &bad}, now.Add(2*time.Minute)); !errors.Is(err, domain.ErrBadTransition) {
		t.Fatalf("bad transition err = %v", err)
	}

	tasks, err := s.ListTasks(ctx, room.ID)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "summarize lecture" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}
