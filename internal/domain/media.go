package domain

type MediaKind string

const (
	MediaAudio  MediaKind = "audio"
	MediaVideo  MediaKind = "video"
	MediaScreen MediaKind = "screen"
)

func (k MediaKind) Valid() bool {
	switch k {
	case MediaAudio, MediaVideo, MediaScreen:
		return true
	}
	return false
}

// MediaState is the ephemeral per-participant media view. It is rebuilt from
// live transport events and is never authoritative for membership.
type MediaState struct {
	Audio  bool `json:"audio"`
	Video  bool `json:"video"`
	Screen bool `json:"screen"`
	// Tracks maps an enabled kind to its transport track handle, when known.
	Tracks map[MediaKind]string `json:"tracks,omitempty"`
	// Degraded is set when the transport collaborator was unreachable and the
	// remote view may be stale.
	Degraded bool `json:"degraded,omitempty"`
}

func (m MediaState) Enabled(kind MediaKind) bool {
	switch kind {
	case MediaAudio:
		return m.Audio
	case MediaVideo:
		return m.Video
	case MediaScreen:
		return m.Screen
	}
	return false
}

func (m *MediaState) Set(kind MediaKind, enabled bool) {
	switch kind {
	case MediaAudio:
		m.Audio = enabled
	case MediaVideo:
		m.Video = enabled
	case MediaScreen:
		m.Screen = enabled
	}
	if !enabled && m.Tracks != nil {
		delete(m.Tracks, kind)
	}
}

func (m *MediaState) AttachTrack(kind MediaKind, handle string) {
	if m.Tracks == nil {
		m.Tracks = make(map[MediaKind]string)
	}
	m.Tracks[kind] = handle
}
