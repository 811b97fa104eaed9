package sfu

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/studyroom/internal/core"
)

// Delivery state of one subscriber feed. A paused feed stays attached,
// which is what makes a media toggle cheap: no renegotiation, the pump
// just stops writing to it. A stale feed is detached on the pump's next pass.
type feedState int32

const (
	feedLive feedState = iota
	feedPaused
	feedStale
)

// feed is one subscriber's end of a relay: the local track the room member
// receives packets on, plus its delivery state.
type feed struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32 // zero value is feedLive
}

func newFeed(track *webrtc.TrackLocalStaticRTP) *feed {
	return &feed{track: track}
}

func (f *feed) current() feedState { return feedState(f.state.Load()) }
func (f *feed) resume()            { f.state.Store(int32(feedLive)) }
func (f *feed) pause()             { f.state.Store(int32(feedPaused)) }
func (f *feed) retire()            { f.state.Store(int32(feedStale)) }

// Relay pumps one publisher's track to its subscribers' feeds.
type Relay struct {
	Src *webrtc.TrackRemote

	mu    sync.RWMutex
	feeds map[core.SessionID]*feed

	cancel context.CancelFunc
}

func NewRelay(src *webrtc.TrackRemote, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:    src,
		feeds:  make(map[core.SessionID]*feed),
		cancel: cancel,
	}
}

// loop reads RTP packets from the publisher and forwards them to every live feed.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, retiring all feeds")
			r.retireAll()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Error().Err(err).Msg("relay read RTP error, stopping")
			r.retireAll()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	snapshot := make(map[core.SessionID]*feed, len(r.feeds))
	r.mu.RLock()
	maps.Copy(snapshot, r.feeds)
	r.mu.RUnlock()

	stale := make([]core.SessionID, 0, len(snapshot))
	for dstSID, f := range snapshot {
		switch f.current() {
		case feedStale:
			stale = append(stale, dstSID)
		case feedPaused:
		case feedLive:
			if err := f.track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("dst_sid", string(dstSID)).
					Msg("relay write RTP error, retiring feed")
				f.retire()
				stale = append(stale, dstSID)
			}
		}
	}

	// Detach is done outside the RLock.
	if len(stale) > 0 {
		r.dropStale(stale)
	}
}

func (r *Relay) dropStale(stale []core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sid := range stale {
		delete(r.feeds, sid)
	}
}

func (r *Relay) retireAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.feeds {
		f.retire()
	}
}

// setMuted pauses or resumes every attached feed without detaching any.
func (r *Relay) setMuted(muted bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.feeds {
		if f.current() == feedStale {
			continue
		}
		if muted {
			f.pause()
		} else {
			f.resume()
		}
	}
}

func (r *Relay) addFeed(dst core.SessionID, f *feed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds[dst] = f
}
