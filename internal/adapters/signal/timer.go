package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
)

func (ctl *SignalWSController) handleStartTimer(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type timerPayload struct {
		Type     string `json:"type"`
		FocusSec int    `json:"focus_sec"`
		BreakSec int    `json:"break_sec"`
		Cycles   int    `json:"cycles"`
	}
	var p timerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad start_timer payload")
		ctl.sendErr(conn, domain.ErrBadTimerConfig)
		return
	}

	coord, err := ctl.coord(ctx, sid)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	st, err := coord.StartTimer(ctx, user,
		time.Duration(p.FocusSec)*time.Second,
		time.Duration(p.BreakSec)*time.Second,
		p.Cycles)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	ctl.sendTimer(conn, st)
}

func (ctl *SignalWSController) handleStopTimer(
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
	st, err := coord.StopTimer(ctx, user)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	ctl.sendTimer(conn, st)
}

func (ctl *SignalWSController) sendTimer(conn *WsSignalConn, st *domain.TimerStatus) {
	ctl.sendJSON(conn, struct {
		Type  string              `json:"type"`
		Timer *domain.TimerStatus `json:"timer"`
	}{
		Type:  "timer_ack",
		Timer: st,
	})
}
