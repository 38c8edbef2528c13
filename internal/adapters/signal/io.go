package signal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// envelope is every client to server message. Requests that carry an id get
// exactly one response with the same id.
type envelope struct {
	Type    string          `json:"type"`
	ID      json.RawMessage `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e envelope) wantsReply() bool {
	return len(e.ID) > 0 && !bytes.Equal(e.ID, []byte("null"))
}

type response struct {
	Type    string          `json:"type"`
	ID      json.RawMessage `json:"id"`
	Payload any             `json:"payload"`
}

type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type failure struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

type ack struct {
	Success bool `json:"success"`
}

var errUnknownRequest = errors.New("unknown request")

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ping")
				return
			}
		}
	}
}

// readPump handles one connection's requests in order. Leaving it runs the
// disconnect sequence.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump closing")
		ctl.Orch.Disconnect(c.id)
		cancel()
		c.Close()
	}()

	pongWait := ctl.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(ctx, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("bad json")
		return
	}

	var (
		result any
		err    error
	)
	switch env.Type {
	case "ping":
		ctl.handlePing(c)
		return
	case "whoami":
		result, err = ctl.handleWhoAmI(c)
	case "create-room":
		result, err = ctl.handleCreateRoom(ctx, c, env.Payload)
	case "join-room":
		result, err = ctl.handleJoin(ctx, c, env.Payload)
	case "leave-room":
		ctl.handleLeave(c)
	case "toggle-hand-raise":
		result, err = ctl.handleHandRaise(c, env.Payload)
	case "chat-send-message":
		result, err = ctl.handleChat(c, env.Payload)
	case "window-visibility-change":
		err = ctl.handleVisibility(c, env.Payload)
	case "get-routing-capabilities", "get-router-rtp-capabilities":
		result, err = ctl.handleCapabilities(env.Payload)
	case "get-initial-producers":
		result, err = ctl.handleInitialProducers(env.Payload)
	case "create-transport", "create-webrtc-transport":
		result, err = ctl.handleCreateTransport(ctx, c, env.Payload)
	case "connect-transport":
		result, err = ctl.handleConnectTransport(ctx, c, env.Payload)
	case "produce":
		result, err = ctl.handleProduce(ctx, c, env.Payload)
	case "consume":
		result, err = ctl.handleConsume(ctx, c, env.Payload)
	case "resume-consumer":
		result, err = ctl.handleResume(ctx, c, env.Payload)
	case "close-producer":
		result, err = ctl.handleCloseProducer(c, env.Payload)
	case "close-transport":
		result, err = ctl.handleCloseTransport(c, env.Payload)
	case "close-consumer":
		result, err = ctl.handleCloseConsumer(c, env.Payload)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		err = errUnknownRequest
	}
	ctl.reply(c, env, result, err)
}

// reply answers env when it asked for an answer. A nil result means success.
func (ctl *SignalWSController) reply(c *WsSignalConn, env envelope, result any, err error) {
	if err != nil {
		lvl := log.Debug()
		switch {
		case errors.Is(err, domain.ErrFatal):
			lvl = log.Error()
		case !domain.IsClientError(err) && !errors.Is(err, errUnknownRequest):
			lvl = log.Warn()
		}
		lvl.Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("type", env.Type).Msg("request failed")
	}
	if !env.wantsReply() {
		return
	}
	switch {
	case err != nil:
		result = failure{Success: false, Reason: domain.Reason(err)}
	case result == nil:
		result = ack{Success: true}
	}
	ctl.sendJSON(c, response{Type: "response", ID: env.ID, Payload: result})
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("sendJSON")
	}
}

// decode fills dst from payload and checks its validate tags. A missing
// payload decodes as an empty object.
func decode(payload json.RawMessage, dst any) error {
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}
