// Package memory provides a mutex-guarded in-memory Store. It backs tests
// and ephemeral single-process deployments; the sqlite store is the durable
// implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/studyroom/internal/domain"
	"github.com/dkeye/studyroom/internal/store"
)

type Store struct {
	mu           sync.RWMutex
	rooms        map[domain.RoomID]*domain.Room
	participants map[domain.RoomID][]*domain.Participant
	messages     map[domain.RoomID][]*domain.Message
	tasks        map[domain.TaskID]*domain.Task
	timers       map[domain.TimerSessionID]*domain.TimerSession
}

func New() *Store {
	return &Store{
		rooms:        make(map[domain.RoomID]*domain.Room),
		participants: make(map[domain.RoomID][]*domain.Participant),
		messages:     make(map[domain.RoomID][]*domain.Message),
		tasks:        make(map[domain.TaskID]*domain.Task),
		timers:       make(map[domain.TimerSessionID]*domain.TimerSession),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateRoom(_ context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *room
	s.rooms[room.ID] = &cp
	return nil
}

func (s *Store) GetRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *room
	return &cp, nil
}

func (s *Store) ListRooms(_ context.Context, filter store.RoomFilter) ([]*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		if filter.Status != "" && room.Status != filter.Status {
			continue
		}
		if filter.Visibility != "" && room.Visibility != filter.Visibility {
			continue
		}
		cp := *room
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetRoomStatus(_ context.Context, id domain.RoomID, status domain.RoomStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return store.ErrNotFound
	}
	room.Status = status
	switch status {
	case domain.RoomActive:
		if room.StartedAt == nil {
			t := at
			room.StartedAt = &t
		}
	case domain.RoomEnded:
		t := at
		room.EndedAt = &t
	}
	return nil
}

func (s *Store) AddParticipant(_ context.Context, p *domain.Participant) (*domain.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[p.RoomID]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	active := 0
	for _, row := range s.participants[p.RoomID] {
		if !row.Active() {
			continue
		}
		if row.UserID == p.UserID {
			// Existing membership: reactivate, do not add a second row.
			row.Connection = domain.ConnOnline
			row.Username = p.Username
			cp := *row
			return &cp, true, nil
		}
		active++
	}
	if active >= room.Capacity {
		return nil, false, store.ErrCapacityExceeded
	}
	cp := *p
	s.participants[p.RoomID] = append(s.participants[p.RoomID], &cp)
	out := cp
	return &out, false, nil
}

func (s *Store) RemoveParticipant(_ context.Context, room domain.RoomID, user domain.UserID, leftAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.participants[room] {
		if row.UserID == user && row.Active() {
			t := leftAt
			row.LeftAt = &t
			row.Connection = domain.ConnOffline
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) SetParticipantConnection(_ context.Context, room domain.RoomID, user domain.UserID, conn domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.participants[room] {
		if row.UserID == user && row.Active() {
			row.Connection = conn
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) ListParticipants(_ context.Context, room domain.RoomID) ([]*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.participants[room]
	out := make([]*domain.Participant, 0, len(rows))
	for _, row := range rows {
		if !row.Active() {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) AppendMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[msg.RoomID]; !ok {
		return store.ErrNotFound
	}
	cp := *msg
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], &cp)
	return nil
}

func (s *Store) ListMessages(_ context.Context, room domain.RoomID, limit int) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[room]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) CreateTask(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *Store) GetTask(_ context.Context, id domain.TaskID) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *task
	return &cp, nil
}

func (s *Store) UpdateTask(_ context.Context, id domain.TaskID, patch domain.TaskPatch, now time.Time) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := patch.Apply(task, now); err != nil {
		return nil, err
	}
	cp := *task
	return &cp, nil
}

func (s *Store) ListTasks(_ context.Context, room domain.RoomID) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Task, 0)
	for _, task := range s.tasks {
		if task.RoomID != room {
			continue
		}
		cp := *task
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) StartTimerSession(_ context.Context, sess *domain.TimerSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[sess.RoomID]; !ok {
		return store.ErrNotFound
	}
	for _, t := range s.timers {
		if t.RoomID == sess.RoomID && t.Active() {
			return store.ErrConflict
		}
	}
	cp := *sess
	s.timers[sess.ID] = &cp
	return nil
}

func (s *Store) UpdateTimerSession(_ context.Context, id domain.TimerSessionID, patch store.TimerPatch) (*domain.TimerSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.timers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.CompletedCycles != nil {
		sess.CompletedCycles = *patch.CompletedCycles
	}
	if patch.CompletedAt != nil {
		t := *patch.CompletedAt
		sess.CompletedAt = &t
	}
	if patch.Stopped != nil {
		sess.Stopped = *patch.Stopped
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) ActiveTimerSession(_ context.Context, room domain.RoomID) (*domain.TimerSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.timers {
		if t.RoomID == room && t.Active() {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) Close() error { return nil }
