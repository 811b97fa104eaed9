package signal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/studyroom/internal/app"
	"github.com/dkeye/studyroom/internal/app/orch"
	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
	"github.com/dkeye/studyroom/internal/store/memory"
)

func newTestController(t *testing.T, busBuffer int) *SignalWSController {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	o := orch.New(ctx, memory.New(), app.NewRegistry(), orch.Options{BusBuffer: busBuffer})
	return NewSignalWSController(o)
}

func TestEventPumpDeliversInOrder(t *testing.T) {
	ctl := newTestController(t, 16)
	sid := core.SessionID("sid-order")
	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	room := domain.RoomID("room-order")

	conn := &WsSignalConn{send: make(chan core.Frame, 16)}
	sub := ctl.Orch.Bus.Subscribe(room, user.ID)

	done := make(chan struct{})
	go func() {
		ctl.eventPump(sid, conn, sub)
		close(done)
	}()

	want := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		evt := domain.NewEvent(domain.EventMessagePosted, room, time.Now())
		want = append(want, evt.ID)
		ctl.Orch.Bus.Publish(room, evt)
	}
	ctl.Orch.Bus.Unsubscribe(sub)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event pump did not drain")
	}

	for i, id := range want {
		var frame struct {
			Type  string       `json:"type"`
			Event domain.Event `json:"event"`
		}
		b := <-conn.send
		if err := json.Unmarshal(b, &frame); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if frame.Type != string(domain.EventMessagePosted) {
			t.Fatalf("frame %d type = %q", i, frame.Type)
		}
		if frame.Event.ID != id {
			t.Fatalf("frame %d id = %s, want %s", i, frame.Event.ID, id)
		}
	}
}

func TestEventPumpDropsStalledConnection(t *testing.T) {
	ctl := newTestController(t, 2)
	sid := core.SessionID("sid-stalled")
	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	room := domain.RoomID("room-stalled")

	cancelled := make(chan struct{})
	sess := core.NewMemberSession(user)
	ctl.Orch.Registry.BindSignal(sid, sess, func() { close(cancelled) })

	// One-slot send channel, already full: nothing is reading the socket.
	conn := &WsSignalConn{send: make(chan core.Frame, 1)}
	conn.send <- core.Frame("stuck")

	sub := ctl.Orch.Bus.Subscribe(room, user.ID)
	done := make(chan struct{})
	go func() {
		ctl.eventPump(sid, conn, sub)
		close(done)
	}()

	ctl.Orch.Bus.Publish(room, domain.NewEvent(domain.EventMessagePosted, room, time.Now()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump kept running past a full send buffer")
	}
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled session was not cancelled")
	}
	if err := conn.TrySend(core.Frame("late")); err == nil {
		t.Fatal("connection still accepts frames after being dropped")
	}

	// The pump is gone, so later events queue on the subscription instead of
	// being read and thrown away.
	ctl.Orch.Bus.Publish(room, domain.NewEvent(domain.EventMessagePosted, room, time.Now()))
	if got := len(sub.Events()); got != 1 {
		t.Fatalf("queued events = %d, want 1", got)
	}
}
