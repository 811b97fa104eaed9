package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

type TimerPhase string

const (
	PhaseIdle      TimerPhase = "idle"
	PhaseFocus     TimerPhase = "focus"
	PhaseBreak     TimerPhase = "break"
	PhaseCompleted TimerPhase = "completed"
	PhaseStopped   TimerPhase = "stopped"
)

// TimerStatus is the live view of a room's timer: the stored session plus the
// phase recomputed from the wall clock.
type TimerStatus struct {
	Session         *TimerSession `json:"session,omitempty"`
	Phase           TimerPhase    `json:"phase"`
	Remaining       time.Duration `json:"remaining"`
	RemainingSec    int           `json:"remaining_sec"`
	CompletedCycles int           `json:"completed_cycles"`
}

type EventKind string

const (
	EventMessagePosted     EventKind = "message_posted"
	EventTaskChanged       EventKind = "task_changed"
	EventTimerChanged      EventKind = "timer_changed"
	EventPresenceChanged   EventKind = "presence_changed"
	EventParticipantJoined EventKind = "participant_joined"
	EventParticipantLeft   EventKind = "participant_left"
	EventRoomUnavailable   EventKind = "room_unavailable"
)

// Event is the fan-out envelope. Exactly one payload field is set, carrying
// the full updated entity so clients replace their local copy wholesale.
type Event struct {
	ID     string    `json:"id"`
	Kind   EventKind `json:"kind"`
	RoomID RoomID    `json:"room_id"`
	At     time.Time `json:"at"`

	Message     *Message     `json:"message,omitempty"`
	Task        *Task        `json:"task,omitempty"`
	Timer       *TimerStatus `json:"timer,omitempty"`
	Participant *Participant `json:"participant,omitempty"`
	Media       *MediaState  `json:"media,omitempty"`
}

func NewEvent(kind EventKind, room RoomID, at time.Time) Event {
	return Event{
		ID:     ulid.Make().String(),
		Kind:   kind,
		RoomID: room,
		At:     at,
	}
}
