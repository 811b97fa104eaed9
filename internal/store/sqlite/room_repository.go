package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dkeye/studyroom/internal/domain"
	"github.com/dkeye/studyroom/internal/store"
)

func (s *Store) CreateRoom(ctx context.Context, room *domain.Room) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, owner_id, visibility, password_hash, capacity,
			audio, video, screen, status, created_at, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		room.ID, room.Name, room.OwnerID, room.Visibility, room.PasswordHash,
		room.Capacity, room.Features.Audio, room.Features.Video, room.Features.Screen,
		room.Status, fmtTime(room.CreatedAt), fmtNullTime(room.StartedAt), fmtNullTime(room.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("create room: %w", mapErr(err))
	}
	return nil
}

const roomColumns = `id, name, owner_id, visibility, password_hash, capacity,
	audio, video, screen, status, created_at, started_at, ended_at`

func scanRoom(row interface{ Scan(...any) error }) (*domain.Room, error) {
	var (
		room                 domain.Room
		createdAt            string
		startedAt, endedAt   sql.NullString
	)
	err := row.Scan(&room.ID, &room.Name, &room.OwnerID, &room.Visibility,
		&room.PasswordHash, &room.Capacity, &room.Features.Audio, &room.Features.Video,
		&room.Features.Screen, &room.Status, &createdAt, &startedAt, &endedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if room.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if room.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if room.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, fmt.Errorf("parse ended_at: %w", err)
	}
	return &room, nil
}

func (s *Store) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
	return scanRoom(row)
}

func (s *Store) ListRooms(ctx context.Context, filter store.RoomFilter) ([]*domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE 1=1`
	args := make([]any, 0, 2)
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Visibility != "" {
		query += ` AND visibility = ?`
		args = append(args, filter.Visibility)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", mapErr(err))
	}
	defer rows.Close()

	var out []*domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

func (s *Store) SetRoomStatus(ctx context.Context, id domain.RoomID, status domain.RoomStatus, at time.Time) error {
	var (
		query string
		args  []any
	)
	switch status {
	case domain.RoomActive:
		query = `UPDATE rooms SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`
		args = []any{status, fmtTime(at), id}
	case domain.RoomEnded:
		query = `UPDATE rooms SET status = ?, ended_at = ? WHERE id = ?`
		args = []any{status, fmtTime(at), id}
	default:
		query = `UPDATE rooms SET status = ? WHERE id = ?`
		args = []any{status, id}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set room status: %w", mapErr(err))
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
