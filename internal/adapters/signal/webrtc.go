package signal

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/goccy/go-json"
)

// roomRef accepts either {"roomId": "..."} or a bare room id string.
func roomRef(payload json.RawMessage) (domain.RoomID, error) {
	if trimmed := bytes.TrimSpace(payload); len(trimmed) > 0 && trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		return domain.RoomID(id), nil
	}
	var p struct {
		RoomID string `json:"roomId" validate:"required"`
	}
	if err := decode(payload, &p); err != nil {
		return "", err
	}
	return domain.RoomID(p.RoomID), nil
}

func (ctl *SignalWSController) handleCapabilities(payload json.RawMessage) (any, error) {
	roomID, err := roomRef(payload)
	if err != nil {
		return nil, err
	}
	return ctl.Orch.GetRoutingCapabilities(roomID)
}

// handleInitialProducers never fails: an unknown or missing room has no producers.
func (ctl *SignalWSController) handleInitialProducers(payload json.RawMessage) (any, error) {
	roomID, _ := roomRef(payload)
	return ctl.Orch.GetInitialProducers(roomID), nil
}

type createTransportRequest struct {
	RoomID    string `json:"roomId" validate:"required"`
	Direction string `json:"direction" validate:"omitempty,oneof=send recv"`
	IsSender  *bool  `json:"isSender"`
}

func (ctl *SignalWSController) handleCreateTransport(
	ctx context.Context,
	conn *WsSignalConn,
	payload json.RawMessage,
) (any, error) {
	var p createTransportRequest
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	dir := domain.Direction(p.Direction)
	if dir == "" && p.IsSender != nil {
		dir = domain.DirectionFromSender(*p.IsSender)
	}
	return ctl.Orch.CreateTransport(ctx, conn.id, domain.RoomID(p.RoomID), dir)
}

type connectTransportRequest struct {
	TransportID string `json:"transportId" validate:"required"`
	domain.ConnectParams
}

func (ctl *SignalWSController) handleConnectTransport(
	ctx context.Context,
	conn *WsSignalConn,
	payload json.RawMessage,
) (any, error) {
	var p connectTransportRequest
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	return ctl.Orch.ConnectTransport(ctx, conn.id, domain.TransportID(p.TransportID), p.ConnectParams)
}

type produceRequest struct {
	TransportID   string               `json:"transportId" validate:"required"`
	Kind          string               `json:"kind" validate:"required"`
	RTPParameters domain.RTPParameters `json:"rtpParameters"`
	AppData       struct {
		Type string `json:"type"`
	} `json:"appData"`
}

func (ctl *SignalWSController) handleProduce(
	ctx context.Context,
	conn *WsSignalConn,
	payload json.RawMessage,
) (any, error) {
	var p produceRequest
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	kind, err := domain.ParseMediaKind(p.Kind)
	if err != nil {
		return nil, err
	}
	typ, err := domain.ParseProducerType(p.AppData.Type)
	if err != nil {
		return nil, err
	}
	return ctl.Orch.Produce(ctx, conn.id, orch.ProduceRequest{
		TransportID:   domain.TransportID(p.TransportID),
		Kind:          kind,
		Type:          typ,
		RTPParameters: p.RTPParameters,
	})
}

type consumeRequest struct {
	ProducerID      string                 `json:"producerId" validate:"required"`
	TransportID     string                 `json:"transportId" validate:"required"`
	RTPCapabilities domain.RTPCapabilities `json:"rtpCapabilities"`
}

func (ctl *SignalWSController) handleConsume(
	ctx context.Context,
	conn *WsSignalConn,
	payload json.RawMessage,
) (any, error) {
	var p consumeRequest
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	return ctl.Orch.Consume(ctx, conn.id, orch.ConsumeRequest{
		ProducerID:   domain.ProducerID(p.ProducerID),
		TransportID:  domain.TransportID(p.TransportID),
		Capabilities: p.RTPCapabilities,
	})
}

type consumerRef struct {
	ConsumerID string `json:"consumerId" validate:"required"`
}

func (ctl *SignalWSController) handleResume(ctx context.Context, conn *WsSignalConn, payload json.RawMessage) (any, error) {
	var p consumerRef
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	return ctl.Orch.ResumeConsumer(ctx, conn.id, domain.ConsumerID(p.ConsumerID))
}

func (ctl *SignalWSController) handleCloseConsumer(conn *WsSignalConn, payload json.RawMessage) (any, error) {
	var p consumerRef
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	return ctl.Orch.CloseConsumer(conn.id, domain.ConsumerID(p.ConsumerID))
}

func (ctl *SignalWSController) handleCloseProducer(conn *WsSignalConn, payload json.RawMessage) (any, error) {
	var p struct {
		ProducerID string `json:"producerId" validate:"required"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	return ctl.Orch.CloseProducer(conn.id, domain.ProducerID(p.ProducerID))
}

func (ctl *SignalWSController) handleCloseTransport(conn *WsSignalConn, payload json.RawMessage) (any, error) {
	var p struct {
		TransportID string `json:"transportId" validate:"required"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	return ctl.Orch.CloseTransport(conn.id, domain.TransportID(p.TransportID))
}
