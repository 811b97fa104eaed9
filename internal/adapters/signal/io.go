package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/studyroom/internal/app/media"
	"github.com/dkeye/studyroom/internal/app/orch"
	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
	"github.com/dkeye/studyroom/internal/store"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.onDisconnect(sid)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, sid, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "create_room":
		ctl.handleCreateRoom(ctx, sid, c, data)
	case "list_rooms":
		ctl.handleListRooms(ctx, c, data)
	case "join":
		ctl.handleJoin(ctx, sid, c, data)
	case "leave":
		ctl.handleLeave(ctx, sid, c)
	case "end_room":
		ctl.handleEndRoom(ctx, sid, c)
	case "post_message":
		ctl.handlePostMessage(ctx, sid, c, data)
	case "create_task":
		ctl.handleCreateTask(ctx, sid, c, data)
	case "update_task":
		ctl.handleUpdateTask(ctx, sid, c, data)
	case "start_timer":
		ctl.handleStartTimer(ctx, sid, c, data)
	case "stop_timer":
		ctl.handleStopTimer(ctx, sid, c)
	case "set_media":
		ctl.handleSetMedia(ctx, sid, c, data)
	case "ping":
		ctl.handlePing(ctx, sid, c)
	case "rename":
		ctl.handleRename(sid, c, data)
	case "whoami":
		ctl.handleWhoAmI(ctx, sid, c)
	case "offer":
		ctl.handleOffer(sid, c, data)
	case "candidate":
		ctl.handleCandidate(sid, c, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

// errCode maps failures to the stable wire codes clients dispatch on.
func errCode(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, orch.ErrNotPermitted), errors.Is(err, media.ErrNotPermitted):
		return "not_permitted"
	case errors.Is(err, orch.ErrRoomEnded):
		return "room_ended"
	case errors.Is(err, orch.ErrTimeout):
		return "timeout"
	case errors.Is(err, orch.ErrUnavailable), errors.Is(err, media.ErrTransportUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrMessageEmpty),
		errors.Is(err, domain.ErrMessageTooLong),
		errors.Is(err, domain.ErrTaskTitleEmpty),
		errors.Is(err, domain.ErrTaskTitleTooLong),
		errors.Is(err, domain.ErrBadTransition),
		errors.Is(err, domain.ErrRoomNameEmpty),
		errors.Is(err, domain.ErrRoomNameTooLong),
		errors.Is(err, domain.ErrBadCapacity),
		errors.Is(err, domain.ErrBadTimerConfig),
		errors.Is(err, domain.ErrUsernameEmpty),
		errors.Is(err, domain.ErrUsernameTooLong):
		return "bad_payload"
	default:
		return "internal"
	}
}

func (ctl *SignalWSController) sendErr(c *WsSignalConn, err error) {
	ctl.sendJSON(c, map[string]any{
		"type":  "error",
		"code":  errCode(err),
		"error": err.Error(),
	})
}

// coord resolves the coordinator of the room the session currently occupies.
func (ctl *SignalWSController) coord(ctx context.Context, sid core.SessionID) (*orch.Coordinator, error) {
	roomID, _, ok := ctl.Orch.Registry.RoomOf(sid)
	if !ok {
		return nil, store.ErrNotFound
	}
	return ctl.Orch.Coordinator(ctx, roomID)
}
