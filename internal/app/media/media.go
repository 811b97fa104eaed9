// Package media maps participants to their published media tracks and toggle
// state. It is a thin adapter over the transport collaborator: it forwards
// publish/unpublish intents and translates transport callbacks into the
// uniform per-participant media view. It holds no durable state.
package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
)

var (
	// ErrNotPermitted is returned when the room's feature flags disallow the
	// requested media kind.
	ErrNotPermitted = errors.New("media: kind not permitted in this room")
	// ErrTransportUnavailable marks a degraded view, never a failed command.
	ErrTransportUnavailable = errors.New("media: transport unavailable")
)

const intentTimeout = 3 * time.Second

// Transport is the external media transport collaborator: it accepts
// publish/subscribe intents keyed by (room, session, kind) and is otherwise
// a black box.
type Transport interface {
	PublishIntent(ctx context.Context, room domain.RoomID, sid core.SessionID, kind domain.MediaKind) (handle string, err error)
	UnpublishIntent(ctx context.Context, room domain.RoomID, sid core.SessionID, kind domain.MediaKind) error
	SetMuted(sid core.SessionID, kind domain.MediaKind, muted bool)
}

// RemoteChange is a transport lifecycle callback translated into a value the
// coordinator can process on its own serialization point.
type RemoteChange struct {
	SID    core.SessionID
	User   domain.UserID
	Kind   domain.MediaKind
	Handle string
	Live   bool
}

// Session is the per-room media view. All mutating calls happen on the room
// coordinator's loop; the mutex only guards reads from other goroutines.
type Session struct {
	room      domain.RoomID
	features  domain.Features
	transport Transport

	mu     sync.RWMutex
	states map[domain.UserID]*domain.MediaState
}

func NewSession(room domain.RoomID, features domain.Features, transport Transport) *Session {
	return &Session{
		room:      room,
		features:  features,
		transport: transport,
		states:    make(map[domain.UserID]*domain.MediaState),
	}
}

// SetTrack toggles a media kind for a participant. The transport intent is
// forwarded asynchronously so a stalled transport never blocks the room;
// a transport failure degrades the participant's view instead of failing
// the command. onDegraded, when set, runs after the failed intent (the
// coordinator injects a function that re-queues a presence event).
func (s *Session) SetTrack(user domain.UserID, sid core.SessionID, kind domain.MediaKind, enabled bool, onDegraded func()) (domain.MediaState, error) {
	if !kind.Valid() {
		return domain.MediaState{}, ErrNotPermitted
	}
	if !s.features.Allows(kind) {
		return domain.MediaState{}, ErrNotPermitted
	}

	s.mu.Lock()
	st, ok := s.states[user]
	if !ok {
		st = &domain.MediaState{}
		s.states[user] = st
	}
	st.Set(kind, enabled)
	st.Degraded = false
	out := cloneState(st)
	s.mu.Unlock()

	go s.forwardIntent(user, sid, kind, enabled, onDegraded)
	return out, nil
}

func (s *Session) forwardIntent(user domain.UserID, sid core.SessionID, kind domain.MediaKind, enabled bool, onDegraded func()) {
	if s.transport == nil {
		s.degrade(user, onDegraded, ErrTransportUnavailable)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), intentTimeout)
	defer cancel()

	var err error
	if enabled {
		var handle string
		handle, err = s.transport.PublishIntent(ctx, s.room, sid, kind)
		if err == nil && handle != "" {
			s.mu.Lock()
			if st, ok := s.states[user]; ok {
				st.AttachTrack(kind, handle)
			}
			s.mu.Unlock()
		}
	} else {
		err = s.transport.UnpublishIntent(ctx, s.room, sid, kind)
	}
	if err != nil {
		s.degrade(user, onDegraded, err)
		return
	}
	s.transport.SetMuted(sid, kind, !enabled)
}

func (s *Session) degrade(user domain.UserID, onDegraded func(), cause error) {
	log.Warn().Err(cause).Str("module", "app.media").Str("room", string(s.room)).
		Str("user", string(user)).Msg("transport unreachable, degrading media view")
	s.mu.Lock()
	if st, ok := s.states[user]; ok {
		st.Degraded = true
	}
	s.mu.Unlock()
	if onDegraded != nil {
		onDegraded()
	}
}

// ApplyRemote folds a transport lifecycle callback into the view. Called on
// the room coordinator's loop.
func (s *Session) ApplyRemote(ch RemoteChange) domain.MediaState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[ch.User]
	if !ok {
		st = &domain.MediaState{}
		s.states[ch.User] = st
	}
	if ch.Live {
		st.Set(ch.Kind, true)
		if ch.Handle != "" {
			st.AttachTrack(ch.Kind, ch.Handle)
		}
	} else {
		st.Set(ch.Kind, false)
	}
	st.Degraded = false
	return cloneState(st)
}

func (s *Session) State(user domain.UserID) domain.MediaState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[user]; ok {
		return cloneState(st)
	}
	return domain.MediaState{}
}

func (s *Session) Snapshot() map[domain.UserID]domain.MediaState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.UserID]domain.MediaState, len(s.states))
	for user, st := range s.states {
		out[user] = cloneState(st)
	}
	return out
}

// Forget drops a participant's ephemeral state, e.g. on leave.
func (s *Session) Forget(user domain.UserID) {
	s.mu.Lock()
	delete(s.states, user)
	s.mu.Unlock()
}

func cloneState(st *domain.MediaState) domain.MediaState {
	out := *st
	if st.Tracks != nil {
		out.Tracks = make(map[domain.MediaKind]string, len(st.Tracks))
		for k, v := range st.Tracks {
			out.Tracks[k] = v
		}
	}
	return out
}
