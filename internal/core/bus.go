package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/studyroom/internal/domain"
)

const DefaultBusBuffer = 64

// Subscription is one consumer's handle on a room's event stream. Events are
// delivered through a buffered channel; a full buffer marks the consumer
// dropped instead of blocking the publisher.
type Subscription struct {
	RoomID domain.RoomID
	UserID domain.UserID

	mu     sync.Mutex
	ch     chan domain.Event
	closed bool
}

// Events is the consumer side of the stream. The channel is closed when the
// subscription is closed or the consumer is dropped for falling behind.
func (s *Subscription) Events() <-chan domain.Event { return s.ch }

// trySend delivers without blocking. Reports false when the buffer is full
// or the subscription is closed.
func (s *Subscription) trySend(evt domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// PublishResult reports delivery stats/backpressure to the coordinator.
type PublishResult struct {
	Delivered int
	Dropped   []*Subscription
}

// Bus fans committed room events out to the room's live subscribers.
// Publish is only called from a room's single-writer loop, so the call order
// is the commit order and every subscriber observes the same total order.
// There is no replay: a consumer that resubscribes gets a fresh stream and
// relies on the coordinator's backfill snapshot for anything it missed.
type Bus struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]map[*Subscription]struct{}
	buffer int
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBusBuffer
	}
	return &Bus{
		rooms:  make(map[domain.RoomID]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

func (b *Bus) Subscribe(room domain.RoomID, user domain.UserID) *Subscription {
	sub := &Subscription{
		RoomID: room,
		UserID: user,
		ch:     make(chan domain.Event, b.buffer),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.rooms[room]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.rooms[room] = subs
	}
	subs[sub] = struct{}{}
	log.Debug().Str("module", "core.bus").Str("room", string(room)).Str("user", string(user)).Msg("subscribed")
	return sub
}

func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if subs, ok := b.rooms[sub.RoomID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.rooms, sub.RoomID)
		}
	}
	b.mu.Unlock()
	sub.close()
}

// Publish delivers evt to every current subscriber of the room. Subscribers
// whose buffer is full are reported in Dropped; the caller decides their fate
// via the backpressure policy.
func (b *Bus) Publish(room domain.RoomID, evt domain.Event) PublishResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := PublishResult{}
	for sub := range b.rooms[room] {
		if sub.trySend(evt) {
			res.Delivered++
			continue
		}
		res.Dropped = append(res.Dropped, sub)
	}
	log.Debug().Str("module", "core.bus").Str("room", string(room)).Str("kind", string(evt.Kind)).
		Int("delivered", res.Delivered).Int("dropped", len(res.Dropped)).Msg("publish")
	return res
}

func (b *Bus) Subscribers(room domain.RoomID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}
