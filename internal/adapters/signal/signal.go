package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait         = 5 * time.Second
	defaultPingPeriod = 54 * time.Second
	defaultReadLimit  = 64 << 10
	defaultSendBuffer = 64
)

type SignalWSController struct {
	Orch       *orch.Orchestrator
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func NewSignalWSController(o *orch.Orchestrator, readLimit int64, pingPeriod time.Duration, sendBuffer int) *SignalWSController {
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &SignalWSController{
		Orch:       o,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
		SendBuffer: sendBuffer,
	}
}

// WsSignalConn is the core.SignalConnection of one WebSocket.
type WsSignalConn struct {
	id   domain.ConnID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
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
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until it drops
// or the orchestrator cancels it.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := c.GetString("client_token")
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		id:   domain.ConnID(uuid.NewString()),
		conn: ws,
		send: make(chan core.Frame, ctl.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)
	if err := ctl.Orch.Registry.BindSignal(conn.id, conn, cancel); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(conn.id)).Msg("bind signal")
		cancel()
		conn.Close()
		return
	}
	ctl.Orch.Registry.SetClient(conn.id, sid)
	log.Info().Str("module", "signal").Str("sid", sid).Str("conn", string(conn.id)).
		Int("tabs", len(ctl.Orch.Registry.ConnectionsOfClient(sid))).Msg("new WS connection")

	ctl.sendJSON(conn, event{Type: "connected", Payload: whoami{ID: conn.id}})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}
