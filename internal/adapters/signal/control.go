package signal

import (
	"context"

	"github.com/dkeye/studyroom/internal/core"
)

// Pings double as presence heartbeats while the session is in a room.
func (ctl *SignalWSController) handlePing(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
) {
	if roomID, _, ok := ctl.Orch.Registry.RoomOf(sid); ok {
		if coord, live := ctl.Orch.Live(roomID); live {
			user := ctl.Orch.Registry.GetOrCreateUser(sid)
			coord.Heartbeat(user.ID)
		}
	}
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}
