package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dkeye/studyroom/internal/domain"
	"github.com/dkeye/studyroom/internal/store"
)

const timerColumns = `id, room_id, owner_id, focus_sec, break_sec, target_cycles,
	completed_cycles, started_at, completed_at, stopped`

func scanTimer(row interface{ Scan(...any) error }) (*domain.TimerSession, error) {
	var (
		t                  domain.TimerSession
		focusSec, breakSec int64
		startedAt          string
		completedAt        sql.NullString
	)
	err := row.Scan(&t.ID, &t.RoomID, &t.OwnerID, &focusSec, &breakSec,
		&t.TargetCycles, &t.CompletedCycles, &startedAt, &completedAt, &t.Stopped)
	if err != nil {
		return nil, mapErr(err)
	}
	t.FocusDuration = time.Duration(focusSec) * time.Second
	t.BreakDuration = time.Duration(breakSec) * time.Second
	if t.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if t.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	return &t, nil
}

// StartTimerSession inserts the new session. The partial unique index on
// (room_id) WHERE completed_at IS NULL turns a second active session into a
// constraint violation, mapped to ErrConflict.
func (s *Store) StartTimerSession(ctx context.Context, sess *domain.TimerSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timer_sessions (id, room_id, owner_id, focus_sec, break_sec,
			target_cycles, completed_cycles, started_at, completed_at, stopped)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, 0)`,
		sess.ID, sess.RoomID, sess.OwnerID,
		int64(sess.FocusDuration/time.Second), int64(sess.BreakDuration/time.Second),
		sess.TargetCycles, sess.CompletedCycles, fmtTime(sess.StartedAt))
	if err != nil {
		return fmt.Errorf("start timer session: %w", mapErr(err))
	}
	return nil
}

func (s *Store) UpdateTimerSession(ctx context.Context, id domain.TimerSessionID, patch store.TimerPatch) (*domain.TimerSession, error) {
	var out *domain.TimerSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+timerColumns+` FROM timer_sessions WHERE id = ?`, id)
		sess, err := scanTimer(row)
		if err != nil {
			return err
		}
		if patch.CompletedCycles != nil {
			sess.CompletedCycles = *patch.CompletedCycles
		}
		if patch.CompletedAt != nil {
			t := *patch.CompletedAt
			sess.CompletedAt = &t
		}
		if patch.Stopped != nil {
			sess.Stopped = *patch.Stopped
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE timer_sessions SET completed_cycles = ?, completed_at = ?, stopped = ? WHERE id = ?`,
			sess.CompletedCycles, fmtNullTime(sess.CompletedAt), sess.Stopped, sess.ID,
		); err != nil {
			return mapErr(err)
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ActiveTimerSession(ctx context.Context, room domain.RoomID) (*domain.TimerSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+timerColumns+` FROM timer_sessions WHERE room_id = ? AND completed_at IS NULL`, room)
	return scanTimer(row)
}
