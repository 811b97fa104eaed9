// Package signal is the websocket adapter: it parses client commands,
// drives the room coordinators and pumps fan-out events back to the socket.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/studyroom/internal/app/orch"
	"github.com/dkeye/studyroom/internal/core"
	"github.com/dkeye/studyroom/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RoomRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Limiter: NewRoomRateLimiter(3, 10*time.Second),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Orch.Opts.BusBuffer),
	}

	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	sess := core.NewMemberSession(user).UpdateSignal(conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}

// eventPump drains one room subscription into the socket. It runs from join
// until the subscription is closed, either by leave or by a coordinator kick.
// A send failure is fatal for the connection: the event stream must never
// skip an event while the subscriber stays attached, so a socket that cannot
// keep up is dropped and flows through the usual disconnect path.
func (ctl *SignalWSController) eventPump(sid core.SessionID, conn *WsSignalConn, sub *core.Subscription) {
	for evt := range sub.Events() {
		frame := struct {
			Type  string       `json:"type"`
			Event domain.Event `json:"event"`
		}{
			Type:  string(evt.Kind),
			Event: evt,
		}
		b, err := json.Marshal(frame)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("event pump marshal")
			continue
		}
		if err := conn.TrySend(b); err != nil {
			log.Warn().Err(err).Str("module", "signal").
				Str("room", string(sub.RoomID)).Str("user", string(sub.UserID)).
				Msg("event pump backpressure, dropping connection")
			ctl.Orch.Registry.Cancel(sid)
			conn.Close()
			return
		}
	}
	log.Info().Str("module", "signal").
		Str("room", string(sub.RoomID)).Str("user", string(sub.UserID)).
		Msg("event pump drained")
}

// onDisconnect handles a dropped socket: presence goes offline, membership
// stays so the user can rejoin and backfill.
func (ctl *SignalWSController) onDisconnect(sid core.SessionID) {
	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	if roomID, _, ok := ctl.Orch.Registry.RoomOf(sid); ok {
		if coord, live := ctl.Orch.Live(roomID); live {
			coord.Disconnect(user.ID)
		}
	}
	ctl.Orch.OnMediaDisconnect(sid)
	ctl.Orch.Registry.Unbind(sid)
}
