package domain

import (
	"time"

	"github.com/google/uuid"
)

type ParticipantID string

type Connection string

const (
	ConnOnline  Connection = "online"
	ConnOffline Connection = "offline"
)

// Participant is a user's membership record within a room. It outlives the
// live connection: an offline participant is still a member until they leave.
type Participant struct {
	ID         ParticipantID `json:"id"`
	RoomID     RoomID        `json:"room_id"`
	UserID     UserID        `json:"user_id"`
	Username   string        `json:"username"`
	JoinedAt   time.Time     `json:"joined_at"`
	LeftAt     *time.Time    `json:"left_at,omitempty"`
	Moderator  bool          `json:"moderator"`
	Connection Connection    `json:"connection"`
}

func NewParticipant(room RoomID, user *User, moderator bool, now time.Time) *Participant {
	return &Participant{
		ID:         ParticipantID(uuid.NewString()),
		RoomID:     room,
		UserID:     user.ID,
		Username:   user.Username,
		JoinedAt:   now,
		Moderator:  moderator,
		Connection: ConnOnline,
	}
}

// Active reports whether this row still represents membership.
func (p *Participant) Active() bool { return p.LeftAt == nil }
