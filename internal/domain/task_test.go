package domain

import (
	"strings"
	"testing"
	"time"
)

func TestTaskStatusTransitions(t *testing.T) {
	cases := []struct {
		from TaskStatus
		to   TaskStatus
		ok   bool
	}{
		{TaskPending, TaskInProgress, true},
		{TaskPending, TaskCompleted, true},
		{TaskPending, TaskCancelled, true},
		{TaskInProgress, TaskCompleted, true},
		{TaskInProgress, TaskCancelled, true},
		{TaskInProgress, TaskPending, false},
		{TaskCompleted, TaskPending, true}, // undo
		{TaskCompleted, TaskInProgress, false},
		{TaskCompleted, TaskCancelled, true},
		{TaskCancelled, TaskPending, false},
		{TaskCancelled, TaskInProgress, false},
		{TaskCancelled, TaskCompleted, false},
		{TaskPending, TaskPending, true},
		{TaskPending, TaskStatus("bogus"), false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestNewTaskValidation(t *testing.T) {
	now := time.Now()

	if _, err := NewTask("room-1", "alice", "", "", PriorityHigh, now); err != ErrTaskTitleEmpty {
		t.Fatalf("empty title: err = %v", err)
	}
	long := strings.Repeat("x", MaxTaskTitleLen+1)
	if _, err := NewTask("room-1", "alice", long, "", "", now); err != ErrTaskTitleTooLong {
		t.Fatalf("long title: err = %v", err)
	}

	task, err := NewTask("room-1", "alice", "read chapter 4", "", "", now)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if task.Status != TaskPending {
		t.Fatalf("status = %s, want pending", task.Status)
	}
	if task.Priority != PriorityNormal {
		t.Fatalf("priority = %s, want normal default", task.Priority)
	}
}

func TestTaskPatchApply(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	task, err := NewTask("room-1", "alice", "read chapter 4", "", PriorityLow, created)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}

	later := created.Add(time.Minute)
	status := TaskInProgress
	est := 30
	patch := TaskPatch{Status: &status, EstimateMin: &est}
	if err := patch.Apply(task, later); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if task.Status != TaskInProgress || task.EstimateMin != 30 {
		t.Fatalf("patch not applied: %+v", task)
	}
	if !task.UpdatedAt.Equal(later) {
		t.Fatalf("UpdatedAt = %s, want %s", task.UpdatedAt, later)
	}
	// Untouched fields survive.
	if task.Title != "read chapter 4" || task.Priority != PriorityLow {
		t.Fatalf("unrelated fields clobbered: %+v", task)
	}

	// A rejected transition leaves the task unchanged.
	bad := TaskPending
	if err := (TaskPatch{Status: &bad}).Apply(task, later.Add(time.Minute)); err != ErrBadTransition {
		t.Fatalf("bad transition: err = %v", err)
	}
	if task.Status != TaskInProgress {
		t.Fatalf("status mutated on rejected patch: %s", task.Status)
	}

	empty := ""
	if err := (TaskPatch{Title: &empty}).Apply(task, later); err != ErrTaskTitleEmpty {
		t.Fatalf("empty title patch: err = %v", err)
	}
}
