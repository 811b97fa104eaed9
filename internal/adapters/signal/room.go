package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/studyroom/internal/app/orch"
	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
	"github.com/dkeye/studyroom/internal/store"
)

func (ctl *SignalWSController) handleCreateRoom(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type createPayload struct {
		Type     string          `json:"type"`
		Name     string          `json:"name"`
		Capacity int             `json:"capacity"`
		Features domain.Features `json:"features"`
		Password string          `json:"password,omitempty"`
	}
	var p createPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad create_room payload")
		ctl.sendErr(conn, domain.ErrRoomNameEmpty)
		return
	}

	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	if !ctl.Limiter.Allow(user.ID) {
		ctl.sendJSON(conn, map[string]any{
			"type":  "error",
			"code":  "rate_limited",
			"error": "too many rooms created, slow down",
		})
		return
	}

	room, err := ctl.Orch.CreateRoom(ctx, user, domain.RoomName(p.Name), p.Capacity, p.Features, p.Password)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	ctl.sendJSON(conn, struct {
		Type string       `json:"type"`
		Room *domain.Room `json:"room"`
	}{
		Type: "room_created",
		Room: room,
	})
}

func (ctl *SignalWSController) handleListRooms(
	ctx context.Context,
	conn *WsSignalConn,
	data []byte,
) {
	type listPayload struct {
		Type   string `json:"type"`
		Status string `json:"status,omitempty"`
	}
	var p listPayload
	_ = json.Unmarshal(data, &p)

	rooms, err := ctl.Orch.ListRooms(ctx, store.RoomFilter{
		Status:     domain.RoomStatus(p.Status),
		Visibility: domain.VisibilityPublic,
	})
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	ctl.sendJSON(conn, map[string]any{
		"type":  "room_list",
		"rooms": rooms,
	})
}

func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type joinPayload struct {
		Type     string `json:"type"`
		Room     string `json:"room"`
		Name     string `json:"name,omitempty"`
		Password string `json:"password,omitempty"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendJSON(conn, map[string]any{
			"type":  "error",
			"code":  "bad_payload",
			"error": "bad_payload",
		})
		return
	}

	if p.Name != "" {
		if err := ctl.Orch.Registry.UpdateUsername(sid, p.Name); err != nil {
			ctl.sendErr(conn, err)
			return
		}
		log.Info().Str("module", "signal").Str("sid", string(sid)).Str("name", p.Name).Msg("rename on join")
	}

	coord, err := ctl.Orch.Coordinator(ctx, domain.RoomID(p.Room))
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}

	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	snap, sub, err := coord.Join(ctx, user, p.Password)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	ctl.Orch.Registry.UpdateRoom(sid, coord.RoomID())
	go ctl.eventPump(sid, conn, sub)

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room_id", p.Room).Msg("join")
	ctl.sendJSON(conn, struct {
		Type     string         `json:"type"`
		Snapshot *orch.Snapshot `json:"snapshot"`
	}{
		Type:     "room_state",
		Snapshot: snap,
	})
}

// handleLeave ends membership in the current room. The socket stays open.
func (ctl *SignalWSController) handleLeave(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	coord, err := ctl.coord(ctx, sid)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	if err := coord.Leave(ctx, user); err != nil {
		ctl.sendErr(conn, err)
		return
	}
	ctl.Orch.Registry.RemoveRoom(sid)
	ctl.sendJSON(conn, map[string]any{
		"type": "left",
	})
}

// handleEndRoom closes the room for everyone. Moderator only.
func (ctl *SignalWSController) handleEndRoom(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
) {
	coord, err := ctl.coord(ctx, sid)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	if err := coord.End(ctx, user); err != nil {
		ctl.sendErr(conn, err)
		return
	}
	ctl.Orch.Registry.RemoveRoom(sid)
	ctl.sendJSON(conn, map[string]any{
		"type": "room_ended",
	})
}
