// Package orch hosts the room coordinator: one single-writer loop per active
// room, composing the store, the presence tracker, the fan-out bus, the timer
// phase machine and the media session.
package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/dkeye/studyroom/internal/app"
	"github.com/dkeye/studyroom/internal/app/sfu"
	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
	"github.com/dkeye/studyroom/internal/store"
)

var (
	// ErrTimeout is returned when a command could not be applied within the
	// configured bound. Retryable.
	ErrTimeout = errors.New("orch: command timed out")
	// ErrUnavailable is returned after the room's store failed; the
	// coordinator stops accepting commands instead of silently dropping them.
	ErrUnavailable = errors.New("orch: room unavailable")
	// ErrRoomEnded rejects commands against a room that has ended.
	ErrRoomEnded = errors.New("orch: room ended")
	// ErrNotPermitted covers password mismatches and non-moderator attempts
	// at moderator actions.
	ErrNotPermitted = errors.New("orch: not permitted")
)

type Options struct {
	CommandTimeout time.Duration
	PresenceGrace  time.Duration
	HistoryLimit   int
	BusBuffer      int
}

func (o *Options) fill() {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 5 * time.Second
	}
	if o.PresenceGrace <= 0 {
		o.PresenceGrace = 90 * time.Second
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.BusBuffer <= 0 {
		o.BusBuffer = core.DefaultBusBuffer
	}
}

// Orchestrator owns the per-room coordinators. Commands for different rooms
// run fully in parallel; commands for one room serialize through its
// coordinator's loop.
type Orchestrator struct {
	Registry *app.Registry
	Store    store.Store
	Bus      *core.Bus
	Presence *core.Presence
	Policy   app.Policy
	Relays   *sfu.RelayManager
	Clock    func() time.Time
	Opts     Options

	ctx    context.Context
	mu     sync.RWMutex
	coords map[domain.RoomID]*Coordinator
}

func New(ctx context.Context, st store.Store, reg *app.Registry, opts Options) *Orchestrator {
	opts.fill()
	return &Orchestrator{
		Registry: reg,
		Store:    st,
		Bus:      core.NewBus(opts.BusBuffer),
		Presence: core.NewPresence(),
		Policy:   app.SimplePolicy{},
		Relays:   sfu.NewRelayManager(),
		Clock:    time.Now,
		Opts:     opts,
		ctx:      ctx,
		coords:   make(map[domain.RoomID]*Coordinator),
	}
}

// CreateRoom persists a new room. Not room-serialized: the room does not
// exist yet.
func (o *Orchestrator) CreateRoom(ctx context.Context, owner *domain.User, name domain.RoomName, capacity int, features domain.Features, password string) (*domain.Room, error) {
	room, err := domain.NewRoom(name, owner.ID, capacity, features, o.Clock())
	if err != nil {
		return nil, err
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		room.Visibility = domain.VisibilityPrivate
		room.PasswordHash = string(hash)
	}
	if err := o.Store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	log.Info().Str("module", "orch").Str("room", string(room.ID)).Str("name", string(name)).Msg("room created")
	return room, nil
}

type RoomInfo struct {
	Room   *domain.Room `json:"room"`
	Online int          `json:"online"`
}

func (o *Orchestrator) ListRooms(ctx context.Context, filter store.RoomFilter) ([]RoomInfo, error) {
	rooms, err := o.Store.ListRooms(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, RoomInfo{Room: room, Online: len(o.Presence.ListOnline(room.ID))})
	}
	return out, nil
}

// Coordinator returns the live coordinator for a room, starting one when
// needed. Exactly one coordinator owns a room within this process.
func (o *Orchestrator) Coordinator(ctx context.Context, id domain.RoomID) (*Coordinator, error) {
	o.mu.RLock()
	coord, ok := o.coords[id]
	o.mu.RUnlock()
	if ok {
		return coord, nil
	}

	room, err := o.Store.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if room.Status == domain.RoomEnded {
		return nil, ErrRoomEnded
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if coord, ok = o.coords[id]; ok {
		return coord, nil
	}
	coord = newCoordinator(o, room)
	o.coords[id] = coord
	go coord.run()
	log.Info().Str("module", "orch").Str("room", string(id)).Msg("coordinator started")
	return coord, nil
}

func (o *Orchestrator) dropCoordinator(id domain.RoomID) {
	o.mu.Lock()
	delete(o.coords, id)
	o.mu.Unlock()
	log.Info().Str("module", "orch").Str("room", string(id)).Msg("coordinator stopped")
}

// Shutdown stops every coordinator. Used on process exit.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	coords := make([]*Coordinator, 0, len(o.coords))
	for _, c := range o.coords {
		coords = append(coords, c)
	}
	o.mu.Unlock()
	for _, c := range coords {
		c.stop()
	}
}
