package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrBadTimerConfig = errors.New("timer durations and cycles must be positive")

type TimerSessionID string

// TimerSession is the durable record of one Pomodoro run. The live phase is
// never stored; it is recomputed from StartedAt and the configured durations.
type TimerSession struct {
	ID              TimerSessionID `json:"id"`
	RoomID          RoomID         `json:"room_id"`
	OwnerID         UserID         `json:"owner_id"`
	FocusDuration   time.Duration  `json:"focus_duration"`
	BreakDuration   time.Duration  `json:"break_duration"`
	TargetCycles    int            `json:"target_cycles"`
	CompletedCycles int            `json:"completed_cycles"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Stopped         bool           `json:"stopped"`
}

func NewTimerSession(room RoomID, owner UserID, focus, brk time.Duration, cycles int, now time.Time) (*TimerSession, error) {
	if focus <= 0 || brk <= 0 || cycles <= 0 {
		return nil, ErrBadTimerConfig
	}
	return &TimerSession{
		ID:            TimerSessionID(uuid.NewString()),
		RoomID:        room,
		OwnerID:       owner,
		FocusDuration: focus,
		BreakDuration: brk,
		TargetCycles:  cycles,
		StartedAt:     now,
	}, nil
}

// Active reports whether the session still owns the room's timer slot.
func (s *TimerSession) Active() bool { return s.CompletedAt == nil }
