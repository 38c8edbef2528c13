package signal

import "github.com/dkeye/huddle/internal/domain"

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

type whoami struct {
	ID   domain.ConnID `json:"id"`
	Room domain.RoomID `json:"roomId,omitempty"`
}

func (ctl *SignalWSController) handleWhoAmI(conn *WsSignalConn) (any, error) {
	resp := whoami{ID: conn.id}
	if roomID, ok := ctl.Orch.Registry.RoomOf(conn.id); ok {
		resp.Room = roomID
	}
	return resp, nil
}
