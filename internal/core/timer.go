package core

import (
	"time"

	"github.com/dkeye/studyroom/internal/domain"
)

// ComputePhase derives the live timer view purely from the stored session and
// the wall clock. No tick counting is involved, so the result is identical
// whether queried every second or once after a multi-minute gap (e.g. a
// coordinator restart).
//
// The cycle count increments at each break→focus boundary, and completion is
// checked at that same boundary: a session whose target is reached finishes
// at the start of what would be the next focus phase. A final break therefore
// still runs to its end. That boundary check mirrors the product's observed
// behavior and is kept as-is.
func ComputePhase(sess *domain.TimerSession, now time.Time) domain.TimerStatus {
	if sess == nil {
		return domain.TimerStatus{Phase: domain.PhaseIdle}
	}
	status := domain.TimerStatus{Session: sess, CompletedCycles: sess.CompletedCycles}

	if sess.Stopped {
		status.Phase = domain.PhaseStopped
		return status
	}
	if sess.CompletedAt != nil {
		status.Phase = domain.PhaseCompleted
		status.CompletedCycles = sess.TargetCycles
		return status
	}

	cycle := sess.FocusDuration + sess.BreakDuration
	elapsed := now.Sub(sess.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	cycles := int(elapsed / cycle)
	if cycles >= sess.TargetCycles {
		status.Phase = domain.PhaseCompleted
		status.CompletedCycles = sess.TargetCycles
		return status
	}

	status.CompletedCycles = cycles
	within := elapsed % cycle
	if within < sess.FocusDuration {
		status.Phase = domain.PhaseFocus
		status.Remaining = sess.FocusDuration - within
	} else {
		status.Phase = domain.PhaseBreak
		status.Remaining = cycle - within
	}
	status.RemainingSec = int(status.Remaining / time.Second)
	return status
}
