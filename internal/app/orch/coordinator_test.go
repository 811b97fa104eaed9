package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/studyroom/internal/app"
	"github.com/dkeye/studyroom/internal/app/media"
	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
	"github.com/dkeye/studyroom/internal/store"
	"github.com/dkeye/studyroom/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestOrch(t *testing.T, st store.Store) (*Orchestrator, *fakeClock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if st == nil {
		st = memory.New()
	}
	o := New(ctx, st, app.NewRegistry(), Options{CommandTimeout: 2 * time.Second})
	clk := newFakeClock()
	o.Clock = clk.Now
	return o, clk
}

func makeRoom(t *testing.T, o *Orchestrator, owner *domain.User, capacity int) *domain.Room {
	t.Helper()
	room, err := o.CreateRoom(context.Background(), owner, "deep work", capacity, domain.Features{Audio: true}, "")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func nextEvent(t *testing.T, sub *core.Subscription) domain.Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.Event{}
}

func nextEventOfKind(t *testing.T, sub *core.Subscription, kind domain.EventKind) domain.Event {
	t.Helper()
	for {
		evt := nextEvent(t, sub)
		if evt.Kind == kind {
			return evt
		}
	}
}

func TestJoinBackfillAndOrdering(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrch(t, nil)
	alice := &domain.User{ID: "alice", Username: "alice"}
	bob := &domain.User{ID: "bob", Username: "bob"}
	room := makeRoom(t, o, alice, 8)

	coord, err := o.Coordinator(ctx, room.ID)
	if err != nil {
		t.Fatalf("Coordinator: %v", err)
	}

	snap, aliceSub, err := coord.Join(ctx, alice, "")
	if err != nil {
		t.Fatalf("Join alice: %v", err)
	}
	if snap.Room.Status != domain.RoomActive {
		t.Fatalf("first join should activate the room, got %s", snap.Room.Status)
	}
	if evt := nextEvent(t, aliceSub); evt.Kind != domain.EventParticipantJoined {
		t.Fatalf("first event = %s, want participant_joined", evt.Kind)
	}

	for _, body := range []string{"hello", "studying ch 3", "break at :30"} {
		if _, err := coord.PostMessage(ctx, alice, body); err != nil {
			t.Fatalf("PostMessage %q: %v", body, err)
		}
	}

	// Bob's snapshot must already contain everything committed before his
	// subscription started.
	bobSnap, bobSub, err := coord.Join(ctx, bob, "")
	if err != nil {
		t.Fatalf("Join bob: %v", err)
	}
	if len(bobSnap.Messages) != 3 {
		t.Fatalf("backfill messages = %d, want 3", len(bobSnap.Messages))
	}
	if len(bobSnap.Participants) != 2 {
		t.Fatalf("backfill participants = %d, want 2", len(bobSnap.Participants))
	}

	// Both live streams observe the next commit, in ULID order per stream.
	if _, err := coord.PostMessage(ctx, alice, "welcome bob"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	for _, sub := range []*core.Subscription{aliceSub, bobSub} {
		evt := nextEventOfKind(t, sub, domain.EventMessagePosted)
		if evt.Message == nil || evt.Message.Body != "welcome bob" {
			t.Fatalf("unexpected message event: %+v", evt)
		}
	}
}

func TestConcurrentPostsOneTotalOrder(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrch(t, nil)
	alice := &domain.User{ID: "alice", Username: "alice"}
	bob := &domain.User{ID: "bob", Username: "bob"}
	room := makeRoom(t, o, alice, 8)

	coord, err := o.Coordinator(ctx, room.ID)
	if err != nil {
		t.Fatalf("Coordinator: %v", err)
	}
	_, aliceSub, err := coord.Join(ctx, alice, "")
	if err != nil {
		t.Fatalf("Join alice: %v", err)
	}
	_, bobSub, err := coord.Join(ctx, bob, "")
	if err != nil {
		t.Fatalf("Join bob: %v", err)
	}

	const writers, perWriter = 4, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			author := alice
			if w%2 == 1 {
				author = bob
			}
			for i := 0; i < perWriter; i++ {
				if _, err := coord.PostMessage(ctx, author, fmt.Sprintf("w%d-%d", w, i)); err != nil {
					t.Errorf("PostMessage w%d-%d: %v", w, i, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	// Every subscriber sees the same total order of commits, regardless of
	// which goroutine raced which.
	total := writers * perWriter
	order := func(sub *core.Subscription) []string {
		ids := make([]string, 0, total)
		for len(ids) < total {
			evt := nextEventOfKind(t, sub, domain.EventMessagePosted)
			ids = append(ids, string(evt.Message.ID))
		}
		return ids
	}
	aliceOrder := order(aliceSub)
	bobOrder := order(bobSub)
	for i := range aliceOrder {
		if aliceOrder[i] != bobOrder[i] {
			t.Fatalf("orders diverge at %d: %s != %s", i, aliceOrder[i], bobOrder[i])
		}
	}
}

func TestJoinCapacityAndRejoin(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrch(t, nil)
	alice := &domain.User{ID: "alice", Username: "alice"}
	bob := &domain.User{ID: "bob", Username: "bob"}
	room := makeRoom(t, o, alice, 1)

	coord, err := o.Coordinator(ctx, room.ID)
	if err != nil {
		t.Fatalf("Coordinator: %v", err)
	}
	if _, _, err := coord.Join(ctx, alice, ""); err != nil {
		t.Fatalf("Join alice: %v", err)
	}
	if _, _, err := coord.Join(ctx, bob, ""); !errors.Is(err, store.ErrCapacityExceeded) {
		t.Fatalf("Join bob err = %v, want ErrCapacityExceeded", err)
	}

	// A rejoin is not a second member: it reuses the membership row and
	// emits presence_changed instead of participant_joined. No clock advance
	// here: reconnecting within the same instant must still read as a rejoin.
	coord.Disconnect(alice.ID)
	snap, sub, err := coord.Join(ctx, alice, "")
	if err != nil {
		t.Fatalf("rejoin alice: %v", err)
	}
	if len(snap.Participants) != 1 {
		t.Fatalf("participants after rejoin = %d, want 1", len(snap.Participants))
	}
	if evt := nextEvent(t, sub); evt.Kind != domain.EventPresenceChanged {
		t.Fatalf("rejoin event = %s, want presence_changed", evt.Kind)
	}
}

func TestJoinPrivateRoomPassword(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrch(t, nil)
	alice := &domain.User{ID: "alice", Username: "alice"}
	room, err := o.CreateRoom(ctx, alice, "secret club", 4, domain.Features{Audio: true}, "hunter2")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.Visibility != domain.VisibilityPrivate {
		t.Fatalf("password room should be private, got %s", room.Visibility)
	}

	coord, err := o.Coordinator(ctx, room.ID)
	if err != nil {
		t.Fatalf("Coordinator: %v", err)
	}
	if _, _, err := coord.Join(ctx, alice, "wrong"); !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("wrong password err = %v, want ErrNotPermitted", err)
	}
	if _, _, err := coord.Join(ctx, alice, "hunter2"); err != nil {
		t.Fatalf("correct password: %v", err)
	}
}

func TestTimerLifecycle(t *testing.T) {
	ctx := context.Background()
	o, clk := newTestOrch(t, nil)
	alice := &domain.User{ID: "alice", Username: "alice"}
	room := makeRoom(t, o, alice, 4)

	coord, err := o.Coordinator(ctx, room.ID)
	if err != nil {
		t.Fatalf("Coordinator: %v", err)
	}
	if _, _, err := coord.Join(ctx, alice, ""); err != nil {
		t.Fatalf("Join: %v", err)
	}

	st, err := coord.StartTimer(ctx, alice, 60*time.Second, 60*time.Second, 1)
	if err != nil {
		t.Fatalf("StartTimer: %v", err)
	}
	if st.Phase != domain.PhaseFocus {
		t.Fatalf("phase = %s, want focus", st.Phase)
	}

	if _, err := coord.StartTimer(ctx, alice, 25*time.Minute, 5*time.Minute, 4); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second timer err = %v, want ErrConflict", err)
	}

	clk.Advance(61 * time.Second)
	view, err := coord.Timer(ctx)
	if err != nil {
		t.Fatalf("Timer: %v", err)
	}
	if view.Phase != domain.PhaseBreak {
		t.Fatalf("phase after focus = %s, want break", view.Phase)
	}

	clk.Advance(60 * time.Second)
	view, err = coord.Timer(ctx)
	if err != nil {
		t.Fatalf("Timer: %v", err)
	}
	if view.Phase != domain.PhaseCompleted || view.CompletedCycles != 1 {
		t.Fatalf("expected completed/1, got %s/%d", view.Phase, view.CompletedCycles)
	}

	// The slot is free again once the session completed.
	if _, err := coord.StartTimer(ctx, alice, 25*time.Minute, 5*time.Minute, 4); err != nil {
		t.Fatalf("StartTimer after completion: %v", err)
	}
	if _, err := coord.StopTimer(ctx, alice); err != nil {
		t.Fatalf("StopTimer: %v", err)
	}
	if _, err := coord.StopTimer(ctx, alice); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("stop without timer err = %v, want ErrNotFound", err)
	}
}

func TestEndRoomModeratorOnly(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrch(t, nil)
	alice := &domain.User{ID: "alice", Username: "alice"}
	bob := &domain.User{ID: "bob", Username: "bob"}
	room := makeRoom(t, o, alice, 4)

	coord, err := o.Coordinator(ctx, room.ID)
	if err != nil {
		t.Fatalf("Coordinator: %v", err)
	}
	if _, _, err := coord.Join(ctx, alice, ""); err != nil {
		t.Fatalf("Join alice: %v", err)
	}
	if _, _, err := coord.Join(ctx, bob, ""); err != nil {
		t.Fatalf("Join bob: %v", err)
	}

	if err := coord.End(ctx, bob); !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("End by bob err = %v, want ErrNotPermitted", err)
	}
	if err := coord.End(ctx, alice); err != nil {
		t.Fatalf("End by owner: %v", err)
	}

	// The persisted status outlives the coordinator: a fresh one refuses
	// new joins.
	deadline := time.Now().Add(2 * time.Second)
	for {
		fresh, err := o.Coordinator(ctx, room.ID)
		if err != nil {
			t.Fatalf("Coordinator after end: %v", err)
		}
		_, _, err = fresh.Join(ctx, bob, "")
		if errors.Is(err, ErrRoomEnded) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Join after end err = %v, want ErrRoomEnded", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSetMediaRespectsFeatures(t *testing.T) {
	ctx := context.Background()
	o, _ := newTestOrch(t, nil)
	alice := &domain.User{ID: "alice", Username: "alice"}
	room := makeRoom(t, o, alice, 4) // audio only

	coord, err := o.Coordinator(ctx, room.ID)
	if err != nil {
		t.Fatalf("Coordinator: %v", err)
	}
	if _, _, err := coord.Join(ctx, alice, ""); err != nil {
		t.Fatalf("Join: %v", err)
	}

	state, err := coord.SetMedia(ctx, alice, "sid-alice", domain.MediaAudio, true)
	if err != nil {
		t.Fatalf("SetMedia audio: %v", err)
	}
	if !state.Audio {
		t.Fatalf("audio not enabled: %+v", state)
	}

	if _, err := coord.SetMedia(ctx, alice, "sid-alice", domain.MediaVideo, true); !errors.Is(err, media.ErrNotPermitted) {
		t.Fatalf("video in audio-only room err = %v, want ErrNotPermitted", err)
	}
}

// failingStore wraps the memory store and starts rejecting writes on demand.
type failingStore struct {
	store.Store
	mu   sync.Mutex
	fail bool
}

func (f *failingStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *failingStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk on fire")
	}
	return f.Store.AppendMessage(ctx, msg)
}

func TestStoreFailureLatchesRoomUnavailable(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: memory.New()}
	o, _ := newTestOrch(t, fs)
	alice := &domain.User{ID: "alice", Username: "alice"}
	room := makeRoom(t, o, alice, 4)

	coord, err := o.Coordinator(ctx, room.ID)
	if err != nil {
		t.Fatalf("Coordinator: %v", err)
	}
	_, sub, err := coord.Join(ctx, alice, "")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	nextEventOfKind(t, sub, domain.EventParticipantJoined)

	fs.setFail(true)
	if _, err := coord.PostMessage(ctx, alice, "hello?"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("post on failed store err = %v, want ErrUnavailable", err)
	}
	if evt := nextEvent(t, sub); evt.Kind != domain.EventRoomUnavailable {
		t.Fatalf("event = %s, want room_unavailable", evt.Kind)
	}

	// The latch sticks even after the store recovers.
	fs.setFail(false)
	if _, err := coord.PostMessage(ctx, alice, "back?"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("post after latch err = %v, want ErrUnavailable", err)
	}
}
