package signal

import (
	"context"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

type roomRequest struct {
	RoomID string `json:"roomId" validate:"required"`
	Name   string `json:"name"`
}

func (ctl *SignalWSController) handleCreateRoom(
	ctx context.Context,
	conn *WsSignalConn,
	payload json.RawMessage,
) (any, error) {
	var p roomRequest
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("room_id", p.RoomID).Msg("create room")
	return ctl.Orch.CreateRoom(ctx, conn.id, domain.RoomID(p.RoomID), p.Name)
}

func (ctl *SignalWSController) handleJoin(
	ctx context.Context,
	conn *WsSignalConn,
	payload json.RawMessage,
) (any, error) {
	var p roomRequest
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("room_id", p.RoomID).Msg("join")
	return ctl.Orch.JoinRoom(ctx, conn.id, domain.RoomID(p.RoomID), p.Name)
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(conn *WsSignalConn) {
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Msg("leave")
	ctl.Orch.LeaveRoom(conn.id)
}

func (ctl *SignalWSController) handleHandRaise(conn *WsSignalConn, payload json.RawMessage) (any, error) {
	var p struct {
		HandRaised bool `json:"handRaised"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	return ctl.Orch.ToggleHandRaise(conn.id, p.HandRaised)
}

type chatSent struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

func (ctl *SignalWSController) handleChat(conn *WsSignalConn, payload json.RawMessage) (any, error) {
	var p struct {
		Message string `json:"message"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	msg, err := ctl.Orch.SendChat(conn.id, p.Message)
	if err != nil {
		return nil, err
	}
	return chatSent{Success: true, ID: msg.ID}, nil
}

func (ctl *SignalWSController) handleVisibility(conn *WsSignalConn, payload json.RawMessage) error {
	var p struct {
		IsHidden bool `json:"isHidden"`
	}
	if err := decode(payload, &p); err != nil {
		return err
	}
	ctl.Orch.WindowVisibility(conn.id, p.IsHidden)
	return nil
}
