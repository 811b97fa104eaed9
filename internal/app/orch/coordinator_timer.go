package orch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
	"github.com/dkeye/studyroom/internal/store"
)

// loadTimer resumes the room's active timer session after a coordinator
// (re)start. The phase is derived from the wall clock, so a restart gap
// costs nothing.
func (c *Coordinator) loadTimer() {
	ctx, cancel := c.opCtx()
	defer cancel()
	sess, err := c.orch.Store.ActiveTimerSession(ctx, c.room.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.storeErr(err)
		}
		return
	}
	c.timer = sess
	c.last = core.ComputePhase(sess, c.orch.Clock())
	log.Info().Str("module", "orch").Str("room", string(c.room.ID)).
		Str("phase", string(c.last.Phase)).Msg("timer session resumed")
}

// StartTimer begins a Pomodoro session. A second active session in the same
// room is rejected with Conflict, never silently replaced.
func (c *Coordinator) StartTimer(ctx context.Context, user *domain.User, focus, brk time.Duration, cycles int) (*domain.TimerStatus, error) {
	var status *domain.TimerStatus
	err := c.do(ctx, func() error {
		now := c.orch.Clock()
		sess, err := domain.NewTimerSession(c.room.ID, user.ID, focus, brk, cycles, now)
		if err != nil {
			return err
		}
		// A session past its target may not have been finalized by the
		// tick yet; settle it before judging the conflict.
		if c.timer != nil && core.ComputePhase(c.timer, now).Phase == domain.PhaseCompleted {
			c.advanceTimer(now)
		}
		if c.timer != nil {
			return store.ErrConflict
		}
		opCtx, cancel := c.opCtx()
		defer cancel()
		if err := c.orch.Store.StartTimerSession(opCtx, sess); err != nil {
			return c.storeErr(err)
		}
		c.timer = sess
		st := core.ComputePhase(sess, now)
		c.last = st
		c.publishTimer(st, now)
		status = &st
		log.Info().Str("module", "orch").Str("room", string(c.room.ID)).
			Str("owner", string(user.ID)).Int("cycles", cycles).Msg("timer started")
		return nil
	})
	return status, err
}

// StopTimer cancels the active session.
func (c *Coordinator) StopTimer(ctx context.Context, user *domain.User) (*domain.TimerStatus, error) {
	var status *domain.TimerStatus
	err := c.do(ctx, func() error {
		if c.timer == nil {
			return store.ErrNotFound
		}
		now := c.orch.Clock()
		opCtx, cancel := c.opCtx()
		defer cancel()
		st := c.stopTimerLocked(opCtx, now)
		if st == nil {
			return ErrUnavailable
		}
		status = st
		log.Info().Str("module", "orch").Str("room", string(c.room.ID)).
			Str("user", string(user.ID)).Msg("timer stopped")
		return nil
	})
	return status, err
}

// stopTimerLocked persists the stop and broadcasts it. Runs on the loop.
func (c *Coordinator) stopTimerLocked(ctx context.Context, now time.Time) *domain.TimerStatus {
	stopped := true
	cycles := core.ComputePhase(c.timer, now).CompletedCycles
	sess, err := c.orch.Store.UpdateTimerSession(ctx, c.timer.ID, store.TimerPatch{
		CompletedCycles: &cycles,
		CompletedAt:     &now,
		Stopped:         &stopped,
	})
	if err != nil {
		c.storeErr(err)
		return nil
	}
	c.timer = nil
	st := core.ComputePhase(sess, now)
	c.last = st
	c.publishTimer(st, now)
	return &st
}

// Timer returns the current phase snapshot without mutating anything. With
// no active session it reports the last settled status, so a just-completed
// run still reads completed instead of idle.
func (c *Coordinator) Timer(ctx context.Context) (domain.TimerStatus, error) {
	var st domain.TimerStatus
	err := c.do(ctx, func() error {
		st = c.timerView(c.orch.Clock())
		return nil
	})
	return st, err
}

// timerView is the loop-side phase read used by snapshots and queries.
func (c *Coordinator) timerView(now time.Time) domain.TimerStatus {
	if c.timer == nil {
		return c.last
	}
	st := core.ComputePhase(c.timer, now)
	c.last = st
	return st
}

// advanceTimer recomputes the phase on each tick and persists/broadcasts
// transitions. Broadcasts are naturally throttled to the 1s tick cadence.
func (c *Coordinator) advanceTimer(now time.Time) {
	if c.timer == nil {
		return
	}
	st := core.ComputePhase(c.timer, now)

	if st.CompletedCycles != c.timer.CompletedCycles && st.Phase != domain.PhaseCompleted {
		ctx, cancel := c.opCtx()
		sess, err := c.orch.Store.UpdateTimerSession(ctx, c.timer.ID, store.TimerPatch{
			CompletedCycles: &st.CompletedCycles,
		})
		cancel()
		if err != nil {
			c.storeErr(err)
			return
		}
		c.timer = sess
	}

	if st.Phase == domain.PhaseCompleted {
		ctx, cancel := c.opCtx()
		target := c.timer.TargetCycles
		sess, err := c.orch.Store.UpdateTimerSession(ctx, c.timer.ID, store.TimerPatch{
			CompletedCycles: &target,
			CompletedAt:     &now,
		})
		cancel()
		if err != nil {
			c.storeErr(err)
			return
		}
		c.timer = nil
		st = core.ComputePhase(sess, now)
		log.Info().Str("module", "orch").Str("room", string(c.room.ID)).Msg("timer completed")
	}

	c.last = st
	c.publishTimer(st, now)
}

func (c *Coordinator) publishTimer(st domain.TimerStatus, now time.Time) {
	evt := domain.NewEvent(domain.EventTimerChanged, c.room.ID, now)
	evt.Timer = &st
	c.publish(evt)
}
