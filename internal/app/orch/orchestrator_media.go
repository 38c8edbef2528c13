package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// GetRoutingCapabilities returns what the room's router can receive and send.
func (o *Orchestrator) GetRoutingCapabilities(roomID domain.RoomID) (domain.RTPCapabilities, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	room, ok := o.Registry.GetRoom(roomID)
	if !ok {
		return domain.RTPCapabilities{}, fmt.Errorf("%w: room %s", domain.ErrNotFound, roomID)
	}
	return room.Router().Capabilities(), nil
}

// GetInitialProducers lists every open producer of the room. Unknown rooms have none.
func (o *Orchestrator) GetInitialProducers(roomID domain.RoomID) []domain.ProducerInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := []domain.ProducerInfo{}
	if room, ok := o.Registry.GetRoom(roomID); ok {
		out = append(out, room.Producers()...)
	}
	return out
}

func (o *Orchestrator) CreateTransport(ctx context.Context, conn domain.ConnID, roomID domain.RoomID, dir domain.Direction) (domain.TransportParams, error) {
	if !dir.Valid() {
		return domain.TransportParams{}, fmt.Errorf("%w: direction %q", domain.ErrInvalidArgument, dir)
	}

	o.mu.Lock()
	room, err := o.activeRoomLocked(conn, roomID)
	o.mu.Unlock()
	if err != nil {
		return domain.TransportParams{}, err
	}

	t, err := room.Router().CreateTransport(ctx, dir)
	if err != nil {
		log.Error().Str("module", "orch").Str("room", string(room.ID())).Str("conn", string(conn)).Err(err).Msg("create transport")
		return domain.TransportParams{}, engineErr(err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.stillActiveLocked(conn, room); err != nil {
		t.Close()
		return domain.TransportParams{}, err
	}
	if err := room.AddTransport(conn, t); err != nil {
		t.Close()
		return domain.TransportParams{}, err
	}
	log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("conn", string(conn)).
		Str("transport", string(t.ID())).Str("direction", string(dir)).Msg("transport created")
	return t.Params(), nil
}

// ConnectTransport applies the client's negotiation parameters to one of its own transports.
func (o *Orchestrator) ConnectTransport(ctx context.Context, conn domain.ConnID, id domain.TransportID, params domain.ConnectParams) (Ack, error) {
	o.mu.Lock()
	room, t, err := o.ownTransportLocked(conn, id)
	o.mu.Unlock()
	if err != nil {
		return Ack{}, err
	}

	if err := t.Connect(ctx, params); err != nil {
		log.Error().Str("module", "orch").Str("conn", string(conn)).Str("transport", string(id)).Err(err).Msg("connect transport")
		return Ack{}, engineErr(err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.stillActiveLocked(conn, room); err != nil {
		return Ack{}, err
	}
	if _, err := room.Transport(conn, id); err != nil {
		return Ack{}, err
	}
	return Ack{Success: true}, nil
}

// Produce publishes a new stream on one of conn's send transports and
// announces it to the rest of the room.
func (o *Orchestrator) Produce(ctx context.Context, conn domain.ConnID, req ProduceRequest) (ProduceResult, error) {
	if err := req.RTPParameters.Validate(); err != nil {
		return ProduceResult{}, err
	}

	o.mu.Lock()
	room, t, err := o.ownTransportLocked(conn, req.TransportID)
	o.mu.Unlock()
	if err != nil {
		return ProduceResult{}, err
	}
	if t.Direction() != domain.DirectionSend {
		return ProduceResult{}, fmt.Errorf("%w: transport %s is not a send transport", domain.ErrInvalidArgument, req.TransportID)
	}

	p, err := t.Produce(ctx, core.ProduceOptions{Kind: req.Kind, RTPParameters: req.RTPParameters})
	if err != nil {
		log.Error().Str("module", "orch").Str("conn", string(conn)).Str("transport", string(req.TransportID)).Err(err).Msg("produce")
		return ProduceResult{}, engineErr(err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.stillActiveLocked(conn, room); err != nil {
		p.Close()
		return ProduceResult{}, err
	}
	entry := &core.ProducerEntry{Producer: p, Owner: conn, Type: req.Type, TransportID: req.TransportID}
	if err := room.AddProducer(conn, entry); err != nil {
		p.Close()
		return ProduceResult{}, err
	}
	log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("conn", string(conn)).
		Str("producer", string(p.ID())).Str("kind", string(req.Kind)).Str("type", string(req.Type)).Msg("producer created")

	o.broadcastLocked(room.ID(), Event{Type: EventNewProducer, Payload: entry.Info()}, conn)
	return ProduceResult{ID: p.ID()}, nil
}

// Consume subscribes one of conn's receive transports to a producer. The
// consumer starts paused until ResumeConsumer.
func (o *Orchestrator) Consume(ctx context.Context, conn domain.ConnID, req ConsumeRequest) (ConsumeResult, error) {
	o.mu.Lock()
	room, t, err := o.ownTransportLocked(conn, req.TransportID)
	if err != nil {
		o.mu.Unlock()
		return ConsumeResult{}, err
	}
	if t.Direction() != domain.DirectionRecv {
		o.mu.Unlock()
		return ConsumeResult{}, fmt.Errorf("%w: transport %s is not a receive transport", domain.ErrInvalidArgument, req.TransportID)
	}
	if !room.HasProducer(req.ProducerID) {
		o.mu.Unlock()
		return ConsumeResult{}, fmt.Errorf("%w: producer %s", domain.ErrNotFound, req.ProducerID)
	}
	if !room.Router().CanConsume(req.ProducerID, req.Capabilities) {
		o.mu.Unlock()
		return ConsumeResult{}, fmt.Errorf("%w: producer %s", domain.ErrCannotConsume, req.ProducerID)
	}
	o.mu.Unlock()

	c, err := t.Consume(ctx, core.ConsumeOptions{ProducerID: req.ProducerID, Capabilities: req.Capabilities, Paused: true})
	if err != nil {
		log.Error().Str("module", "orch").Str("conn", string(conn)).Str("producer", string(req.ProducerID)).Err(err).Msg("consume")
		return ConsumeResult{}, engineErr(err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.stillActiveLocked(conn, room); err != nil {
		c.Close()
		return ConsumeResult{}, err
	}
	// AddConsumer rejects the consumer when the producer closed meanwhile.
	entry := &core.ConsumerEntry{Consumer: c, TransportID: req.TransportID, ProducerID: req.ProducerID}
	if err := room.AddConsumer(conn, entry); err != nil {
		c.Close()
		return ConsumeResult{}, err
	}
	log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("conn", string(conn)).
		Str("consumer", string(c.ID())).Str("producer", string(req.ProducerID)).Msg("consumer created")
	return ConsumeResult{
		ID:            c.ID(),
		ProducerID:    req.ProducerID,
		Kind:          c.Kind(),
		RTPParameters: c.RTPParameters(),
		Paused:        c.Paused(),
	}, nil
}

func (o *Orchestrator) ResumeConsumer(ctx context.Context, conn domain.ConnID, id domain.ConsumerID) (Ack, error) {
	o.mu.Lock()
	room, err := o.activeRoomLocked(conn, "")
	if err != nil {
		o.mu.Unlock()
		return Ack{}, err
	}
	c, err := room.Consumer(conn, id)
	o.mu.Unlock()
	if err != nil {
		return Ack{}, err
	}

	if err := c.Resume(ctx); err != nil {
		log.Error().Str("module", "orch").Str("conn", string(conn)).Str("consumer", string(id)).Err(err).Msg("resume consumer")
		return Ack{}, engineErr(err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := room.Consumer(conn, id); err != nil {
		return Ack{}, err
	}
	return Ack{Success: true}, nil
}

// CloseProducer closes one of conn's producers along with every consumer of it.
func (o *Orchestrator) CloseProducer(conn domain.ConnID, id domain.ProducerID) (Ack, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	room, err := o.activeRoomLocked(conn, "")
	if err != nil {
		return Ack{}, err
	}
	closure, err := room.CloseProducer(conn, id)
	if err != nil {
		return Ack{}, err
	}
	log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("conn", string(conn)).
		Str("producer", string(id)).Int("consumers", len(closure.Consumers)).Msg("producer closed")
	o.announceLocked(room.ID(), closure)
	return Ack{Success: true}, nil
}

// CloseTransport closes one of conn's transports with its producers and consumers.
func (o *Orchestrator) CloseTransport(conn domain.ConnID, id domain.TransportID) (Ack, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	room, err := o.activeRoomLocked(conn, "")
	if err != nil {
		return Ack{}, err
	}
	closure, err := room.CloseTransport(conn, id)
	if err != nil {
		return Ack{}, err
	}
	log.Info().Str("module", "orch").Str("room", string(room.ID())).Str("conn", string(conn)).
		Str("transport", string(id)).Msg("transport closed")
	o.announceLocked(room.ID(), closure)
	return Ack{Success: true}, nil
}

func (o *Orchestrator) CloseConsumer(conn domain.ConnID, id domain.ConsumerID) (Ack, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	room, err := o.activeRoomLocked(conn, "")
	if err != nil {
		return Ack{}, err
	}
	if err := room.CloseConsumer(conn, id); err != nil {
		return Ack{}, err
	}
	return Ack{Success: true}, nil
}

func (o *Orchestrator) ownTransportLocked(conn domain.ConnID, id domain.TransportID) (*core.Room, core.Transport, error) {
	room, err := o.activeRoomLocked(conn, "")
	if err != nil {
		return nil, nil, err
	}
	t, err := room.Transport(conn, id)
	if err != nil {
		return nil, nil, err
	}
	return room, t, nil
}
