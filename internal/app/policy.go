package app

import (
	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickSubscriber
	DropEvent
)

// Policy decides what happens to a subscriber whose event buffer stays full.
type Policy interface {
	OnBackPressure(room domain.RoomID, sub *core.Subscription) BackpressureAction
}

// SimplePolicy disconnects a consumer that falls behind rather than letting
// it block the room.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomID, *core.Subscription) BackpressureAction {
	return KickSubscriber
}
