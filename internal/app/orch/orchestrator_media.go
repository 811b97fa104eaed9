package orch

import (
	"context"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/studyroom/internal/app/media"
	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
)

// relayTransport implements media.Transport on the in-process SFU relays.
// Publish intents are cheap here: the actual track arrives through the peer
// connection's OnTrack, so an intent only unmutes an existing relay.
type relayTransport struct {
	o *Orchestrator
}

func (o *Orchestrator) transport() media.Transport {
	if o.Relays == nil {
		return nil
	}
	return &relayTransport{o: o}
}

func (t *relayTransport) PublishIntent(_ context.Context, _ domain.RoomID, sid core.SessionID, kind domain.MediaKind) (string, error) {
	if track, ok := t.o.Relays.SrcTrack(sid, kind); ok {
		t.o.Relays.SetMuted(sid, kind, false)
		return track.ID(), nil
	}
	// Track not negotiated yet; OnTrack will attach the handle later.
	return "", nil
}

func (t *relayTransport) UnpublishIntent(_ context.Context, _ domain.RoomID, sid core.SessionID, kind domain.MediaKind) error {
	// Mute instead of tearing down: re-enabling must not renegotiate.
	t.o.Relays.SetMuted(sid, kind, true)
	return nil
}

func (t *relayTransport) SetMuted(sid core.SessionID, kind domain.MediaKind, muted bool) {
	t.o.Relays.SetMuted(sid, kind, muted)
}

// SetMedia toggles a participant's media kind. The room's feature flags are
// the permission boundary; transport trouble degrades the view but never
// fails the command.
func (c *Coordinator) SetMedia(ctx context.Context, user *domain.User, sid core.SessionID, kind domain.MediaKind, enabled bool) (domain.MediaState, error) {
	var state domain.MediaState
	err := c.do(ctx, func() error {
		st, err := c.med.SetTrack(user.ID, sid, kind, enabled, func() {
			c.inject(func() { c.publishPresence(user.ID) })
		})
		if err != nil {
			return err
		}
		state = st
		c.publishPresence(user.ID)
		return nil
	})
	return state, err
}

// RemoteTrack folds a transport lifecycle callback into the room's media
// view on the coordinator loop.
func (c *Coordinator) RemoteTrack(user domain.UserID, kind domain.MediaKind, handle string, live bool) {
	c.inject(func() {
		c.med.ApplyRemote(media.RemoteChange{User: user, Kind: kind, Handle: handle, Live: live})
		c.publishPresence(user)
	})
}

func (c *Coordinator) cleanupMedia(sid core.SessionID) {
	c.orch.cleanupMediaTransport(sid)
}

// Live returns an already-running coordinator without creating one.
func (o *Orchestrator) Live(room domain.RoomID) (*Coordinator, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	coord, ok := o.coords[room]
	return coord, ok
}

// BindMediaHandlers wires a fresh media connection's callbacks into the
// orchestrator.
func (o *Orchestrator) BindMediaHandlers(mc core.MediaConnection, sid core.SessionID) {
	mc.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		o.OnTrack(trackCtx, sid, track)
	})
	mc.OnClosed(func() { o.OnMediaDisconnect(sid) })
}

// trackKind maps a negotiated track to the declared media kind. Screen
// shares are published under a "screen" stream id by the client.
func trackKind(track *webrtc.TrackRemote) domain.MediaKind {
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		return domain.MediaAudio
	}
	if strings.HasPrefix(track.StreamID(), "screen") {
		return domain.MediaScreen
	}
	return domain.MediaVideo
}

// OnTrack is called when a new remote media track appears for a session:
// start its relay, fan it out to the room, and update the media view.
func (o *Orchestrator) OnTrack(ctx context.Context, sid core.SessionID, track *webrtc.TrackRemote) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		log.Info().Str("module", "sfu").Str("sid", string(sid)).Msg("OnTrack: no room for sid")
		return
	}
	kind := trackKind(track)
	o.Relays.StartRelay(ctx, sid, kind, track)

	for _, snap := range o.Registry.MembersOfRoom(roomID) {
		if snap.SID == sid {
			continue
		}
		o.subscribeTrack(sid, kind, track, snap.SID, snap.Session)
	}

	if coord, ok := o.Live(roomID); ok {
		user := o.Registry.GetOrCreateUser(sid)
		coord.RemoteTrack(user.ID, kind, track.ID(), true)
	}
}

// subscribeTrack attaches a local out-track for dst to src's relay.
func (o *Orchestrator) subscribeTrack(srcSID core.SessionID, kind domain.MediaKind, track *webrtc.TrackRemote, dstSID core.SessionID, dst core.MemberSession) {
	mc := dst.Media()
	if mc == nil {
		return
	}
	local, err := webrtc.NewTrackLocalStaticRTP(track.Codec().RTPCodecCapability, track.ID(), track.StreamID())
	if err != nil {
		log.Error().Err(err).Str("module", "sfu").Str("dst", string(dstSID)).Msg("new local track")
		return
	}
	if _, err := mc.AddLocalTrack(local); err != nil {
		log.Error().Err(err).Str("module", "sfu").Str("dst", string(dstSID)).Msg("add local track")
		return
	}
	o.Relays.AddSubscriber(srcSID, kind, dstSID, local)
}

// OnMediaReady is called once a session's offer/answer exchange is done:
// subscribe it to every track already published in its room.
func (o *Orchestrator) OnMediaReady(sid core.SessionID) {
	roomID, sess, ok := o.Registry.RoomOf(sid)
	if !ok || sess.Media() == nil {
		return
	}
	for _, snap := range o.Registry.MembersOfRoom(roomID) {
		if snap.SID == sid {
			continue
		}
		for _, kind := range o.Relays.Published(snap.SID) {
			if track, ok := o.Relays.SrcTrack(snap.SID, kind); ok {
				o.subscribeTrack(snap.SID, kind, track, sid, sess)
			}
		}
	}
}

// OnMediaDisconnect tears down a session's relays and marks its published
// kinds off in the room's media view.
func (o *Orchestrator) OnMediaDisconnect(sid core.SessionID) {
	o.cleanupMediaTransport(sid)
}

func (o *Orchestrator) cleanupMediaTransport(sid core.SessionID) {
	if o.Relays == nil {
		return
	}
	published := o.Relays.Published(sid)

	roomID, _, ok := o.Registry.RoomOf(sid)
	if ok {
		for _, snap := range o.Registry.MembersOfRoom(roomID) {
			o.Relays.MarkSubscriberDelete(snap.SID, sid)
		}
		if coord, live := o.Live(roomID); live {
			user := o.Registry.GetOrCreateUser(sid)
			for _, kind := range published {
				coord.RemoteTrack(user.ID, kind, "", false)
			}
		}
	}
	o.Relays.StopAll(sid)

	if sess, ok := o.Registry.GetSession(sid); ok {
		if mc := sess.Media(); mc != nil {
			mc.Close()
		}
	}
}
