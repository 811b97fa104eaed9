package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
)

// Mutations reply with an ack carrying the stored entity; everyone in the
// room, sender included, also receives the fan-out event.

func (ctl *SignalWSController) handlePostMessage(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type postPayload struct {
		Type string `json:"type"`
		Body string `json:"body"`
	}
	var p postPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad post_message payload")
		ctl.sendErr(conn, domain.ErrMessageEmpty)
		return
	}

	coord, err := ctl.coord(ctx, sid)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	msg, err := coord.PostMessage(ctx, user, p.Body)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	ctl.sendJSON(conn, struct {
		Type    string          `json:"type"`
		Message *domain.Message `json:"message"`
	}{
		Type:    "message_ack",
		Message: msg,
	})
}

func (ctl *SignalWSController) handleCreateTask(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type taskPayload struct {
		Type        string              `json:"type"`
		Title       string              `json:"title"`
		Description string              `json:"description,omitempty"`
		Priority    domain.TaskPriority `json:"priority,omitempty"`
		EstimateMin int                 `json:"estimate_min,omitempty"`
	}
	var p taskPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad create_task payload")
		ctl.sendErr(conn, domain.ErrTaskTitleEmpty)
		return
	}

	coord, err := ctl.coord(ctx, sid)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	task, err := coord.CreateTask(ctx, user, p.Title, p.Description, p.Priority, p.EstimateMin)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	ctl.sendJSON(conn, struct {
		Type string       `json:"type"`
		Task *domain.Task `json:"task"`
	}{
		Type: "task_ack",
		Task: task,
	})
}

func (ctl *SignalWSController) handleUpdateTask(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	type updatePayload struct {
		Type  string           `json:"type"`
		Task  string           `json:"task"`
		Patch domain.TaskPatch `json:"patch"`
	}
	var p updatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Task == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad update_task payload")
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
	task, err := coord.UpdateTask(ctx, domain.TaskID(p.Task), p.Patch)
	if err != nil {
		ctl.sendErr(conn, err)
		return
	}
	ctl.sendJSON(conn, struct {
		Type string       `json:"type"`
		Task *domain.Task `json:"task"`
	}{
		Type: "task_ack",
		Task: task,
	})
}
