package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dkeye/studyroom/internal/domain"
	"github.com/dkeye/studyroom/internal/store"
)

const participantColumns = `id, room_id, user_id, username, joined_at, left_at, moderator, connection`

func scanParticipant(row interface{ Scan(...any) error }) (*domain.Participant, error) {
	var (
		p        domain.Participant
		joinedAt string
		leftAt   sql.NullString
	)
	err := row.Scan(&p.ID, &p.RoomID, &p.UserID, &p.Username, &joinedAt, &leftAt, &p.Moderator, &p.Connection)
	if err != nil {
		return nil, mapErr(err)
	}
	if p.JoinedAt, err = parseTime(joinedAt); err != nil {
		return nil, fmt.Errorf("parse joined_at: %w", err)
	}
	if p.LeftAt, err = parseNullTime(leftAt); err != nil {
		return nil, fmt.Errorf("parse left_at: %w", err)
	}
	return &p, nil
}

// AddParticipant checks capacity and the single-active-row invariant inside
// one transaction. A still-active row for the same user is reactivated and
// reported as such.
func (s *Store) AddParticipant(ctx context.Context, p *domain.Participant) (*domain.Participant, bool, error) {
	var (
		out         *domain.Participant
		reactivated bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var capacity int
		if err := tx.QueryRowContext(ctx,
			`SELECT capacity FROM rooms WHERE id = ?`, p.RoomID,
		).Scan(&capacity); err != nil {
			return mapErr(err)
		}

		row := tx.QueryRowContext(ctx,
			`SELECT `+participantColumns+` FROM participants
			 WHERE room_id = ? AND user_id = ? AND left_at IS NULL`,
			p.RoomID, p.UserID)
		existing, err := scanParticipant(row)
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx,
				`UPDATE participants SET connection = ?, username = ? WHERE id = ?`,
				domain.ConnOnline, p.Username, existing.ID,
			); err != nil {
				return mapErr(err)
			}
			existing.Connection = domain.ConnOnline
			existing.Username = p.Username
			out = existing
			reactivated = true
			return nil
		case err != store.ErrNotFound:
			return err
		}

		var active int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM participants WHERE room_id = ? AND left_at IS NULL`,
			p.RoomID,
		).Scan(&active); err != nil {
			return mapErr(err)
		}
		if active >= capacity {
			return store.ErrCapacityExceeded
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (id, room_id, user_id, username, joined_at, left_at, moderator, connection)
			 VALUES (?, ?, ?, ?, ?, NULL, ?, ?)`,
			p.ID, p.RoomID, p.UserID, p.Username, fmtTime(p.JoinedAt), p.Moderator, p.Connection,
		); err != nil {
			return mapErr(err)
		}
		cp := *p
		out = &cp
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, reactivated, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, room domain.RoomID, user domain.UserID, leftAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET left_at = ?, connection = ?
		 WHERE room_id = ? AND user_id = ? AND left_at IS NULL`,
		fmtTime(leftAt), domain.ConnOffline, room, user)
	if err != nil {
		return fmt.Errorf("remove participant: %w", mapErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetParticipantConnection(ctx context.Context, room domain.RoomID, user domain.UserID, conn domain.Connection) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET connection = ?
		 WHERE room_id = ? AND user_id = ? AND left_at IS NULL`,
		conn, room, user)
	if err != nil {
		return fmt.Errorf("set connection: %w", mapErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListParticipants(ctx context.Context, room domain.RoomID) ([]*domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants
		 WHERE room_id = ? AND left_at IS NULL ORDER BY joined_at`, room)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", mapErr(err))
	}
	defer rows.Close()

	var out []*domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
