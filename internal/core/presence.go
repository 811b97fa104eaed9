package core

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/studyroom/internal/domain"
)

// Presence tracks which participants are currently connected to a room,
// independent of the durable membership rows. It is a derived cache keyed by
// (room, user) and can be rebuilt at any time without data loss.
type Presence struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.UserID]time.Time // last heartbeat
}

func NewPresence() *Presence {
	return &Presence{rooms: make(map[domain.RoomID]map[domain.UserID]time.Time)}
}

// MarkOnline records the participant as connected. Reports false when the
// participant was already online, so callers do not re-emit presence events
// for no-op transitions.
func (p *Presence) MarkOnline(room domain.RoomID, user domain.UserID, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.rooms[room]
	if !ok {
		users = make(map[domain.UserID]time.Time)
		p.rooms[room] = users
	}
	_, online := users[user]
	users[user] = now
	return !online
}

// MarkOffline removes the participant from the online set. Reports false
// when the participant was not online (idempotent no-op).
func (p *Presence) MarkOffline(room domain.RoomID, user domain.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.rooms[room]
	if !ok {
		return false
	}
	if _, online := users[user]; !online {
		return false
	}
	delete(users, user)
	if len(users) == 0 {
		delete(p.rooms, room)
	}
	return true
}

// Touch refreshes the participant's heartbeat. A touch for an unknown
// participant is ignored; presence only changes through MarkOnline.
func (p *Presence) Touch(room domain.RoomID, user domain.UserID, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if users, ok := p.rooms[room]; ok {
		if _, online := users[user]; online {
			users[user] = now
		}
	}
}

func (p *Presence) Online(room domain.RoomID, user domain.UserID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, online := p.rooms[room][user]
	return online
}

func (p *Presence) ListOnline(room domain.RoomID) []domain.UserID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.UserID, 0, len(p.rooms[room]))
	for user := range p.rooms[room] {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Expired returns the users of one room whose last heartbeat is older than
// the grace period. The caller marks them offline and emits the events.
func (p *Presence) Expired(room domain.RoomID, now time.Time, grace time.Duration) []domain.UserID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []domain.UserID
	for user, seen := range p.rooms[room] {
		if now.Sub(seen) > grace {
			out = append(out, user)
		}
	}
	return out
}
