package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	MaxRoomNameLen = 36
	MaxCapacity    = 64
)

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
	ErrBadCapacity     = errors.New("capacity out of range")
)

type (
	RoomName string
	RoomID   string
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type RoomStatus string

const (
	RoomScheduled RoomStatus = "scheduled"
	RoomActive    RoomStatus = "active"
	RoomEnded     RoomStatus = "ended"
)

// Features declares which media kinds a room allows.
// Immutable once the room has participants.
type Features struct {
	Audio  bool `json:"audio"`
	Video  bool `json:"video"`
	Screen bool `json:"screen"`
}

func (f Features) Allows(kind MediaKind) bool {
	switch kind {
	case MediaAudio:
		return f.Audio
	case MediaVideo:
		return f.Video
	case MediaScreen:
		return f.Screen
	}
	return false
}

type Room struct {
	ID           RoomID     `json:"id"`
	Name         RoomName   `json:"name"`
	OwnerID      UserID     `json:"owner_id"`
	Visibility   Visibility `json:"visibility"`
	PasswordHash string     `json:"-"`
	Capacity     int        `json:"capacity"`
	Features     Features   `json:"features"`
	Status       RoomStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

func NewRoom(name RoomName, owner UserID, capacity int, features Features, now time.Time) (*Room, error) {
	if len(name) == 0 {
		return nil, ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen {
		return nil, ErrRoomNameTooLong
	}
	if capacity <= 0 || capacity > MaxCapacity {
		return nil, ErrBadCapacity
	}
	return &Room{
		ID:         RoomID(uuid.NewString()),
		Name:       name,
		OwnerID:    owner,
		Visibility: VisibilityPublic,
		Capacity:   capacity,
		Features:   features,
		Status:     RoomScheduled,
		CreatedAt:  now,
	}, nil
}

func (r *Room) Private() bool { return r.Visibility == VisibilityPrivate }
