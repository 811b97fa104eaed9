package orch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/dkeye/studyroom/internal/app"
	"github.com/dkeye/studyroom/internal/app/media"
	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
	"github.com/dkeye/studyroom/internal/store"
)

type command struct {
	fn   func() error
	done chan error
}

// Coordinator serializes every mutation of one room through a single loop:
// client commands, the periodic tick and injected transport callbacks all
// compete on the same select. A store mutation and its broadcast happen in
// the same loop iteration, so no client observes one without the other.
type Coordinator struct {
	orch *Orchestrator
	room *domain.Room

	cmds   chan command
	asyncs chan func()
	ctx    context.Context
	cancel context.CancelFunc

	// loop-owned state, never touched outside run()
	subs   map[domain.UserID]*core.Subscription
	med    *media.Session
	timer  *domain.TimerSession
	last   domain.TimerStatus
	failed bool
}

func newCoordinator(o *Orchestrator, room *domain.Room) *Coordinator {
	ctx, cancel := context.WithCancel(o.ctx)
	c := &Coordinator{
		orch:   o,
		room:   room,
		cmds:   make(chan command),
		asyncs: make(chan func(), 32),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[domain.UserID]*core.Subscription),
		last:   domain.TimerStatus{Phase: domain.PhaseIdle},
	}
	c.med = media.NewSession(room.ID, room.Features, o.transport())
	return c
}

func (c *Coordinator) RoomID() domain.RoomID { return c.room.ID }

func (c *Coordinator) run() {
	// Resume any timer session that survived a restart before serving
	// commands; the phase recomputes from the wall clock alone.
	c.loadTimer()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return
		case cmd := <-c.cmds:
			cmd.done <- c.guard(cmd.fn)
		case fn := <-c.asyncs:
			if !c.failed {
				fn()
			}
		case <-ticker.C:
			if !c.failed {
				c.tick(c.orch.Clock())
			}
		}
	}
}

func (c *Coordinator) stop() { c.cancel() }

func (c *Coordinator) shutdown() {
	for user, sub := range c.subs {
		c.orch.Bus.Unsubscribe(sub)
		c.orch.Presence.MarkOffline(c.room.ID, user)
		delete(c.subs, user)
	}
	c.orch.dropCoordinator(c.room.ID)
}

// guard wraps command execution with the unavailable latch.
func (c *Coordinator) guard(fn func() error) error {
	if c.failed {
		return ErrUnavailable
	}
	return fn()
}

// do runs fn on the coordinator loop and waits for the result, bounded by
// the command timeout so a wedged room never hangs its clients.
func (c *Coordinator) do(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, c.orch.Opts.CommandTimeout)
	defer cancel()

	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.ctx.Done():
		return ErrUnavailable
	case <-ctx.Done():
		return ErrTimeout
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ErrTimeout
	}
}

// inject queues work from transport callbacks onto the loop without
// blocking the caller. Interleaving with command handling is impossible by
// construction.
func (c *Coordinator) inject(fn func()) {
	select {
	case c.asyncs <- fn:
	case <-c.ctx.Done():
	default:
		log.Warn().Str("module", "orch").Str("room", string(c.room.ID)).Msg("async queue full, callback dropped")
	}
}

// opCtx bounds store calls made inside the loop.
func (c *Coordinator) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.orch.Opts.CommandTimeout)
}

// storeErr classifies a store failure. Sentinel results are business
// outcomes; anything else means durability is gone, which is fatal for the
// room.
func (c *Coordinator) storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrCapacityExceeded) ||
		errors.Is(err, store.ErrConflict) ||
		errors.Is(err, domain.ErrBadTransition) ||
		errors.Is(err, domain.ErrTaskTitleEmpty) ||
		errors.Is(err, domain.ErrTaskTitleTooLong) {
		return err
	}
	log.Error().Err(err).Str("module", "orch").Str("room", string(c.room.ID)).Msg("store failure, room unavailable")
	c.failed = true
	evt := domain.NewEvent(domain.EventRoomUnavailable, c.room.ID, c.orch.Clock())
	c.orch.Bus.Publish(c.room.ID, evt)
	return ErrUnavailable
}

// publish fans an event out and applies the backpressure policy to
// subscribers that fell behind.
func (c *Coordinator) publish(evt domain.Event) {
	res := c.orch.Bus.Publish(c.room.ID, evt)
	for _, slow := range res.Dropped {
		switch c.orch.Policy.OnBackPressure(c.room.ID, slow) {
		case app.KickSubscriber:
			c.dropSubscriber(slow)
		case app.MarkSlow, app.DropEvent, app.NoAction:
		}
	}
}

// dropSubscriber disconnects a permanently slow consumer rather than letting
// it block the room. The membership row stays; only presence flips.
func (c *Coordinator) dropSubscriber(sub *core.Subscription) {
	log.Warn().Str("module", "orch").Str("room", string(c.room.ID)).
		Str("user", string(sub.UserID)).Msg("kicking slow subscriber")
	c.orch.Bus.Unsubscribe(sub)
	delete(c.subs, sub.UserID)
	if sid, ok := c.orch.Registry.SIDOfUser(c.room.ID, sub.UserID); ok {
		c.orch.Registry.Cancel(sid)
	}
	c.markOffline(sub.UserID)
}

// markOffline flips presence and the stored connection column, emitting
// presence_changed only on a real transition.
func (c *Coordinator) markOffline(user domain.UserID) {
	if !c.orch.Presence.MarkOffline(c.room.ID, user) {
		return
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.orch.Store.SetParticipantConnection(ctx, c.room.ID, user, domain.ConnOffline); err != nil {
		if c.storeErr(err) == ErrUnavailable {
			return
		}
	}
	c.publishPresence(user)
}

func (c *Coordinator) publishPresence(user domain.UserID) {
	ctx, cancel := c.opCtx()
	defer cancel()
	participants, err := c.orch.Store.ListParticipants(ctx, c.room.ID)
	if err != nil {
		c.storeErr(err)
		return
	}
	var row *domain.Participant
	for _, p := range participants {
		if p.UserID == user {
			row = p
			break
		}
	}
	if row == nil {
		return
	}
	evt := domain.NewEvent(domain.EventPresenceChanged, c.room.ID, c.orch.Clock())
	evt.Participant = row
	st := c.med.State(user)
	evt.Media = &st
	c.publish(evt)
}

// Snapshot is the backfill returned on (re)join: everything a client needs
// to rebuild local state after a gap in the live stream.
type Snapshot struct {
	Room         *domain.Room                        `json:"room"`
	Participants []*domain.Participant               `json:"participants"`
	Messages     []*domain.Message                   `json:"messages"`
	Tasks        []*domain.Task                      `json:"tasks"`
	Timer        domain.TimerStatus                  `json:"timer"`
	Media        map[domain.UserID]domain.MediaState `json:"media,omitempty"`
}

// Join admits a user, or reactivates their membership after a disconnect,
// and returns the backfill snapshot plus the live event subscription.
func (c *Coordinator) Join(ctx context.Context, user *domain.User, password string) (*Snapshot, *core.Subscription, error) {
	var (
		snap *Snapshot
		sub  *core.Subscription
	)
	err := c.do(ctx, func() error {
		if c.room.Status == domain.RoomEnded {
			return ErrRoomEnded
		}
		if c.room.Private() {
			if bcrypt.CompareHashAndPassword([]byte(c.room.PasswordHash), []byte(password)) != nil {
				return ErrNotPermitted
			}
		}
		now := c.orch.Clock()
		opCtx, cancel := c.opCtx()
		defer cancel()

		moderator := user.ID == c.room.OwnerID
		row, rejoined, err := c.orch.Store.AddParticipant(opCtx, domain.NewParticipant(c.room.ID, user, moderator, now))
		if err != nil {
			return c.storeErr(err)
		}

		if c.room.Status == domain.RoomScheduled {
			if err := c.orch.Store.SetRoomStatus(opCtx, c.room.ID, domain.RoomActive, now); err != nil {
				return c.storeErr(err)
			}
			c.room.Status = domain.RoomActive
			c.room.StartedAt = &now
		}

		// A lingering subscription from a dropped socket is replaced.
		if old, ok := c.subs[user.ID]; ok {
			c.orch.Bus.Unsubscribe(old)
		}
		sub = c.orch.Bus.Subscribe(c.room.ID, user.ID)
		c.subs[user.ID] = sub
		c.orch.Presence.MarkOnline(c.room.ID, user.ID, now)

		snap, err = c.backfill(opCtx, now)
		if err != nil {
			return err
		}

		kind := domain.EventParticipantJoined
		if rejoined {
			kind = domain.EventPresenceChanged
		}
		evt := domain.NewEvent(kind, c.room.ID, now)
		evt.Participant = row
		st := c.med.State(user.ID)
		evt.Media = &st
		c.publish(evt)

		log.Info().Str("module", "orch").Str("room", string(c.room.ID)).
			Str("user", string(user.ID)).Bool("rejoin", rejoined).Msg("participant joined")
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return snap, sub, nil
}

func (c *Coordinator) backfill(ctx context.Context, now time.Time) (*Snapshot, error) {
	participants, err := c.orch.Store.ListParticipants(ctx, c.room.ID)
	if err != nil {
		return nil, c.storeErr(err)
	}
	online := participants[:0]
	for _, p := range participants {
		if p.Connection == domain.ConnOnline {
			online = append(online, p)
		}
	}
	messages, err := c.orch.Store.ListMessages(ctx, c.room.ID, c.orch.Opts.HistoryLimit)
	if err != nil {
		return nil, c.storeErr(err)
	}
	tasks, err := c.orch.Store.ListTasks(ctx, c.room.ID)
	if err != nil {
		return nil, c.storeErr(err)
	}
	roomCopy := *c.room
	return &Snapshot{
		Room:         &roomCopy,
		Participants: online,
		Messages:     messages,
		Tasks:        tasks,
		Timer:        c.timerView(now),
		Media:        c.med.Snapshot(),
	}, nil
}

// Leave ends membership for good, as opposed to a transient disconnect.
func (c *Coordinator) Leave(ctx context.Context, user *domain.User) error {
	return c.do(ctx, func() error {
		now := c.orch.Clock()
		opCtx, cancel := c.opCtx()
		defer cancel()

		if err := c.orch.Store.RemoveParticipant(opCtx, c.room.ID, user.ID, now); err != nil {
			return c.storeErr(err)
		}
		c.orch.Presence.MarkOffline(c.room.ID, user.ID)
		if sub, ok := c.subs[user.ID]; ok {
			c.orch.Bus.Unsubscribe(sub)
			delete(c.subs, user.ID)
		}
		c.med.Forget(user.ID)
		if sid, ok := c.orch.Registry.SIDOfUser(c.room.ID, user.ID); ok {
			c.cleanupMedia(sid)
		}

		evt := domain.NewEvent(domain.EventParticipantLeft, c.room.ID, now)
		evt.Participant = &domain.Participant{
			RoomID:     c.room.ID,
			UserID:     user.ID,
			Username:   user.Username,
			LeftAt:     &now,
			Connection: domain.ConnOffline,
		}
		c.publish(evt)

		log.Info().Str("module", "orch").Str("room", string(c.room.ID)).
			Str("user", string(user.ID)).Msg("participant left")
		return nil
	})
}

// Disconnect handles a dropped socket: presence flips offline, membership
// stays so the participant can rejoin and backfill.
func (c *Coordinator) Disconnect(user domain.UserID) {
	c.inject(func() {
		if sub, ok := c.subs[user]; ok {
			c.orch.Bus.Unsubscribe(sub)
			delete(c.subs, user)
		}
		c.markOffline(user)
	})
}

// Heartbeat refreshes the presence deadline for a connected user.
func (c *Coordinator) Heartbeat(user domain.UserID) {
	c.inject(func() {
		c.orch.Presence.Touch(c.room.ID, user, c.orch.Clock())
	})
}

// End closes the room for everyone. Moderator only.
func (c *Coordinator) End(ctx context.Context, user *domain.User) error {
	err := c.do(ctx, func() error {
		if !c.isModerator(user.ID) {
			return ErrNotPermitted
		}
		now := c.orch.Clock()
		opCtx, cancel := c.opCtx()
		defer cancel()

		if err := c.orch.Store.SetRoomStatus(opCtx, c.room.ID, domain.RoomEnded, now); err != nil {
			return c.storeErr(err)
		}
		c.room.Status = domain.RoomEnded
		c.room.EndedAt = &now
		if c.timer != nil {
			c.stopTimerLocked(opCtx, now)
		}
		msg := domain.NewSystemMessage(c.room.ID, "room ended", now)
		if err := c.orch.Store.AppendMessage(opCtx, msg); err != nil {
			return c.storeErr(err)
		}
		evt := domain.NewEvent(domain.EventMessagePosted, c.room.ID, now)
		evt.Message = msg
		c.publish(evt)
		return nil
	})
	if err != nil {
		return err
	}
	c.stop()
	return nil
}

func (c *Coordinator) isModerator(user domain.UserID) bool {
	if user == c.room.OwnerID {
		return true
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	participants, err := c.orch.Store.ListParticipants(ctx, c.room.ID)
	if err != nil {
		return false
	}
	for _, p := range participants {
		if p.UserID == user {
			return p.Moderator
		}
	}
	return false
}

// tick runs once per second on the loop: presence sweep, then timer advance.
func (c *Coordinator) tick(now time.Time) {
	for _, user := range c.orch.Presence.Expired(c.room.ID, now, c.orch.Opts.PresenceGrace) {
		if sub, ok := c.subs[user]; ok {
			c.orch.Bus.Unsubscribe(sub)
			delete(c.subs, user)
		}
		log.Info().Str("module", "orch").Str("room", string(c.room.ID)).
			Str("user", string(user)).Msg("presence grace expired")
		c.markOffline(user)
	}
	c.advanceTimer(now)
}
