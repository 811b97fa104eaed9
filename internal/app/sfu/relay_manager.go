// Package sfu relays published RTP tracks between a room's peer connections.
// One relay per (publisher session, media kind).
package sfu

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
)

type relayKey struct {
	SID  core.SessionID
	Kind domain.MediaKind
}

type RelayManager struct {
	mu     sync.RWMutex
	relays map[relayKey]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[relayKey]*Relay),
	}
}

// StartRelay creates a new Relay for the given publisher and kind and starts
// its pump loop. An existing relay for the same key is replaced.
func (m *RelayManager) StartRelay(ctx context.Context, sid core.SessionID, kind domain.MediaKind, track *webrtc.TrackRemote) {
	logger := log.With().
		Str("module", "sfu").
		Str("sid", string(sid)).
		Str("kind", string(kind)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(track, cancel)

	key := relayKey{SID: sid, Kind: kind}
	m.mu.Lock()
	if old, ok := m.relays[key]; ok {
		logger.Info().Msg("replacing existing relay")
		old.retireAll()
		if old.cancel != nil {
			old.cancel()
		}
	}
	m.relays[key] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger)
}

// AddSubscriber attaches a feed for dstSID to srcSID's relay of kind.
func (m *RelayManager) AddSubscriber(srcSID core.SessionID, kind domain.MediaKind, dstSID core.SessionID, localTrack *webrtc.TrackLocalStaticRTP) {
	m.mu.RLock()
	relay, ok := m.relays[relayKey{SID: srcSID, Kind: kind}]
	m.mu.RUnlock()
	if !ok {
		return
	}
	relay.addFeed(dstSID, newFeed(localTrack))
}

// MarkSubscriberDelete detaches dstSID from every relay published by srcSID.
func (m *RelayManager) MarkSubscriberDelete(srcSID, dstSID core.SessionID) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, relay := range m.relays {
		if key.SID != srcSID {
			continue
		}
		relay.mu.RLock()
		f, ok := relay.feeds[dstSID]
		relay.mu.RUnlock()
		if ok {
			f.retire()
		}
	}
}

// SetMuted pauses or resumes forwarding for one publisher's kind.
func (m *RelayManager) SetMuted(sid core.SessionID, kind domain.MediaKind, muted bool) {
	m.mu.RLock()
	relay, ok := m.relays[relayKey{SID: sid, Kind: kind}]
	m.mu.RUnlock()
	if !ok {
		return
	}
	relay.setMuted(muted)
}

// StopRelay stops one publisher's relay for one kind.
func (m *RelayManager) StopRelay(sid core.SessionID, kind domain.MediaKind) {
	m.stop(relayKey{SID: sid, Kind: kind})
}

// StopAll stops every relay published by sid.
func (m *RelayManager) StopAll(sid core.SessionID) {
	m.mu.RLock()
	keys := make([]relayKey, 0, 2)
	for key := range m.relays {
		if key.SID == sid {
			keys = append(keys, key)
		}
	}
	m.mu.RUnlock()
	for _, key := range keys {
		m.stop(key)
	}
}

func (m *RelayManager) stop(key relayKey) {
	m.mu.Lock()
	relay, ok := m.relays[key]
	if ok {
		delete(m.relays, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.retireAll()
	if relay.cancel != nil {
		relay.cancel()
	}
}

// HasRelay reports whether sid currently publishes kind.
func (m *RelayManager) HasRelay(sid core.SessionID, kind domain.MediaKind) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[relayKey{SID: sid, Kind: kind}]
	return ok
}

// SrcTrack returns the source track for a given publisher and kind.
func (m *RelayManager) SrcTrack(sid core.SessionID, kind domain.MediaKind) (*webrtc.TrackRemote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relay, ok := m.relays[relayKey{SID: sid, Kind: kind}]
	if !ok {
		return nil, false
	}
	return relay.Src, true
}

// Published lists the kinds sid currently publishes.
func (m *RelayManager) Published(sid core.SessionID) []domain.MediaKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.MediaKind
	for key := range m.relays {
		if key.SID == sid {
			out = append(out, key.Kind)
		}
	}
	return out
}
