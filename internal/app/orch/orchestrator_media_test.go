package orch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/core/coretest"
	"github.com/dkeye/huddle/internal/domain"
)

// roomOfThree sets up a, b and c in r1.
func roomOfThree(t *testing.T) (*harness, *recorder, *recorder, *recorder) {
	t.Helper()
	h := newHarness(t)
	a := h.connect(t, "a")
	b := h.connect(t, "b")
	c := h.connect(t, "c")
	h.create(t, "a", "r1", "Alice")
	h.join(t, "b", "r1", "Bob")
	h.join(t, "c", "r1", "Carol")
	return h, a, b, c
}

func TestRoutingCapabilities(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "a")
	h.create(t, "a", "r1", "Alice")

	caps, err := h.o.GetRoutingCapabilities("r1")
	require.NoError(t, err)
	assert.Equal(t, coretest.DefaultCapabilities, caps)

	_, err = h.o.GetRoutingCapabilities("nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateTransport(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "a")
	h.connect(t, "b")
	h.create(t, "a", "r1", "Alice")

	params, err := h.o.CreateTransport(context.Background(), "a", "r1", domain.DirectionSend)
	require.NoError(t, err)
	assert.NotEmpty(t, params.ID)
	assert.NotEmpty(t, params.DTLSParameters.Fingerprints)

	_, err = h.o.CreateTransport(context.Background(), "a", "r1", "sideways")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = h.o.CreateTransport(context.Background(), "b", "r1", domain.DirectionSend)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.o.CreateTransport(context.Background(), "a", "r2", domain.DirectionSend)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateTransportEngineFailureKeepsRoom(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "a")
	h.create(t, "a", "r1", "Alice")
	h.engine.Routers()[0].FailTransport = errors.New("no ports left")
	a.reset()

	_, err := h.o.CreateTransport(context.Background(), "a", "r1", domain.DirectionRecv)
	require.ErrorIs(t, err, domain.ErrEngineFailure)

	room, ok := h.reg.GetRoom("r1")
	require.True(t, ok)
	assert.Equal(t, 1, room.MemberCount())
	assert.Empty(t, a.events(t))
}

func TestTransportLookupIsScopedToOwner(t *testing.T) {
	h, _, _, _ := roomOfThree(t)
	send := h.transport(t, "a", "r1", domain.DirectionSend)
	pid := h.produce(t, "a", send)

	_, err := h.o.ConnectTransport(context.Background(), "b", send, domain.ConnectParams{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.o.Produce(context.Background(), "b", orch.ProduceRequest{
		TransportID:   send,
		Kind:          domain.KindAudio,
		RTPParameters: coretest.OpusParams(7),
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.o.CloseProducer("b", pid)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.o.CloseTransport("b", send)
	require.ErrorIs(t, err, domain.ErrNotFound)

	assert.Len(t, h.o.GetInitialProducers("r1"), 1)
}

func TestProduceAnnouncesToOthers(t *testing.T) {
	h, a, b, c := roomOfThree(t)
	send := h.transport(t, "a", "r1", domain.DirectionSend)

	res, err := h.o.Produce(context.Background(), "a", orch.ProduceRequest{
		TransportID:   send,
		Kind:          domain.KindVideo,
		Type:          domain.TypeScreen,
		RTPParameters: coretest.H264Params(42),
	})
	require.NoError(t, err)

	want := domain.ProducerInfo{ProducerID: res.ID, OwnerID: "a", Kind: domain.KindVideo, Type: domain.TypeScreen}
	for _, rec := range []*recorder{b, c} {
		var got domain.ProducerInfo
		require.True(t, rec.last(t, orch.EventNewProducer, &got))
		assert.Equal(t, want, got)
	}
	assert.Zero(t, a.count(t, orch.EventNewProducer))
	assert.Equal(t, []domain.ProducerInfo{want}, h.o.GetInitialProducers("r1"))
	assert.Empty(t, h.o.GetInitialProducers("nope"))
}

func TestProduceValidation(t *testing.T) {
	h, _, _, _ := roomOfThree(t)
	recv := h.transport(t, "a", "r1", domain.DirectionRecv)

	_, err := h.o.Produce(context.Background(), "a", orch.ProduceRequest{
		TransportID:   recv,
		Kind:          domain.KindAudio,
		RTPParameters: coretest.OpusParams(1),
	})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = h.o.Produce(context.Background(), "a", orch.ProduceRequest{TransportID: recv, Kind: domain.KindAudio})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestConsumeStartsPausedAndResumes(t *testing.T) {
	h, _, _, _ := roomOfThree(t)
	send := h.transport(t, "a", "r1", domain.DirectionSend)
	pid := h.produce(t, "a", send)
	recv := h.transport(t, "b", "r1", domain.DirectionRecv)

	res := h.consume(t, "b", recv, pid)
	assert.True(t, res.Paused)
	assert.Equal(t, pid, res.ProducerID)
	assert.Equal(t, domain.KindAudio, res.Kind)
	assert.Equal(t, coretest.OpusParams(1111).Codecs, res.RTPParameters.Codecs)

	_, err := h.o.ResumeConsumer(context.Background(), "c", res.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	ack, err := h.o.ResumeConsumer(context.Background(), "b", res.ID)
	require.NoError(t, err)
	assert.True(t, ack.Success)
}

func TestConsumeRejections(t *testing.T) {
	h, _, b, _ := roomOfThree(t)
	send := h.transport(t, "a", "r1", domain.DirectionSend)
	res, err := h.o.Produce(context.Background(), "a", orch.ProduceRequest{
		TransportID:   send,
		Kind:          domain.KindVideo,
		Type:          domain.TypeCamera,
		RTPParameters: coretest.H264Params(9),
	})
	require.NoError(t, err)
	recv := h.transport(t, "b", "r1", domain.DirectionRecv)
	bSend := h.transport(t, "b", "r1", domain.DirectionSend)

	_, err = h.o.Consume(context.Background(), "b", orch.ConsumeRequest{
		ProducerID:   res.ID,
		TransportID:  recv,
		Capabilities: coretest.DefaultCapabilities,
	})
	require.ErrorIs(t, err, domain.ErrCannotConsume)

	_, err = h.o.Consume(context.Background(), "b", orch.ConsumeRequest{
		ProducerID:   "ghost",
		TransportID:  recv,
		Capabilities: coretest.DefaultCapabilities,
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.o.Consume(context.Background(), "b", orch.ConsumeRequest{
		ProducerID:   res.ID,
		TransportID:  bSend,
		Capabilities: coretest.DefaultCapabilities,
	})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	// No consumer was recorded, so closing the producer notifies nobody.
	b.reset()
	_, err = h.o.CloseProducer("a", res.ID)
	require.NoError(t, err)
	assert.Zero(t, b.count(t, orch.EventConsumerClosed))
}

func TestCloseProducerClosesEveryConsumer(t *testing.T) {
	h, a, b, c := roomOfThree(t)
	send := h.transport(t, "a", "r1", domain.DirectionSend)
	pid := h.produce(t, "a", send)
	bRecv := h.transport(t, "b", "r1", domain.DirectionRecv)
	cRecv := h.transport(t, "c", "r1", domain.DirectionRecv)
	bc := h.consume(t, "b", bRecv, pid)
	cc := h.consume(t, "c", cRecv, pid)
	a.reset()
	b.reset()
	c.reset()

	ack, err := h.o.CloseProducer("a", pid)
	require.NoError(t, err)
	assert.True(t, ack.Success)

	for _, tc := range []struct {
		rec  *recorder
		want domain.ConsumerID
	}{{b, bc.ID}, {c, cc.ID}} {
		var got orch.ConsumerClosed
		require.True(t, tc.rec.last(t, orch.EventConsumerClosed, &got))
		assert.Equal(t, orch.ConsumerClosed{ConsumerID: tc.want, ProducerID: pid}, got)
	}
	for _, rec := range []*recorder{a, b, c} {
		var got orch.ProducerClosed
		require.True(t, rec.last(t, orch.EventProducerClosed, &got))
		assert.Equal(t, pid, got.ProducerID)
	}
	assert.Zero(t, a.count(t, orch.EventConsumerClosed))
	assert.Empty(t, h.o.GetInitialProducers("r1"))

	_, err = h.o.ResumeConsumer(context.Background(), "b", bc.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLeaveClosesMediaOfLeaver(t *testing.T) {
	h, _, b, _ := roomOfThree(t)
	send := h.transport(t, "a", "r1", domain.DirectionSend)
	pid := h.produce(t, "a", send)
	recv := h.transport(t, "b", "r1", domain.DirectionRecv)
	bc := h.consume(t, "b", recv, pid)
	b.reset()

	h.o.LeaveRoom("a")

	var closed orch.ConsumerClosed
	require.True(t, b.last(t, orch.EventConsumerClosed, &closed))
	assert.Equal(t, bc.ID, closed.ConsumerID)
	assert.Empty(t, h.o.GetInitialProducers("r1"))
	assert.Equal(t, []string{
		orch.EventProducerClosed,
		orch.EventConsumerClosed,
		orch.EventUserLeft,
		orch.EventHandRaise,
		orch.EventUserList,
	}, b.types(t))
}

func TestCloseTransportAndConsumer(t *testing.T) {
	h, _, b, _ := roomOfThree(t)
	send := h.transport(t, "a", "r1", domain.DirectionSend)
	pid := h.produce(t, "a", send)
	recv := h.transport(t, "b", "r1", domain.DirectionRecv)
	bc := h.consume(t, "b", recv, pid)

	ack, err := h.o.CloseConsumer("b", bc.ID)
	require.NoError(t, err)
	assert.True(t, ack.Success)
	_, err = h.o.CloseConsumer("b", bc.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	bc = h.consume(t, "b", recv, pid)
	b.reset()
	_, err = h.o.CloseTransport("b", recv)
	require.NoError(t, err)
	assert.Empty(t, b.events(t))
	_, err = h.o.ResumeConsumer(context.Background(), "b", bc.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.o.CloseTransport("a", send)
	require.NoError(t, err)
	var closed orch.ProducerClosed
	require.True(t, b.last(t, orch.EventProducerClosed, &closed))
	assert.Equal(t, pid, closed.ProducerID)
}
