package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
)

func (ctl *SignalWSController) handleSetMedia(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type mediaPayload struct {
		Type    string           `json:"type"`
		Kind    domain.MediaKind `json:"kind"`
		Enabled bool             `json:"enabled"`
	}
	var p mediaPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad set_media payload")
		ctl.sendJSON(conn, map[string]any{
			"type":  "error",
			"code":  "bad_payload",
			"error": "bad_payload",
		})
		return
	}

	coord, err := ctl.coord(ctx, sid)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	state, err := coord.SetMedia(ctx, user, sid, p.Kind, p.Enabled)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	ctl.sendJSON(conn, struct {
		Type  string            `json:"type"`
		Media domain.MediaState `json:"media"`
	}{
		Type:  "media_ack",
		Media: state,
	})
}
