package sfu

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Consumer sends one producer's stream to a client through an OutTrack.
type Consumer struct {
	id        domain.ConsumerID
	producer  *Producer
	transport *Transport
	sender    *webrtc.RTPSender
	out       *OutTrack
	params    domain.RTPParameters

	closeOnce sync.Once
}

func newConsumer(t *Transport, p *Producer, paused bool) (*Consumer, error) {
	id := domain.ConsumerID(uuid.NewString())
	track, err := webrtc.NewTrackLocalStaticRTP(capabilityOf(p.codec), string(id), string(p.id))
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.router.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("send: %w", err)
	}

	out := NewOutTrack(track)
	if paused {
		out.MarkMuted()
	}
	return &Consumer{
		id:        id,
		producer:  p,
		transport: t,
		sender:    sender,
		out:       out,
		params:    consumerParams(p.codec, sendParams),
	}, nil
}

// consumerParams describes the stream as the receiving client sees it.
func consumerParams(codec domain.RTPCodecParameters, sp webrtc.RTPSendParameters) domain.RTPParameters {
	for _, c := range sp.Codecs {
		if strings.EqualFold(c.MimeType, codec.MimeType) {
			codec.PayloadType = uint8(c.PayloadType)
			break
		}
	}
	out := domain.RTPParameters{Codecs: []domain.RTPCodecParameters{codec}}
	if len(sp.Encodings) > 0 {
		out.Encodings = []domain.RTPEncoding{{SSRC: uint32(sp.Encodings[0].SSRC)}}
	}
	return out
}

func (c *Consumer) ID() domain.ConsumerID               { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID       { return c.producer.id }
func (c *Consumer) Kind() domain.MediaKind              { return c.producer.kind }
func (c *Consumer) RTPParameters() domain.RTPParameters { return c.params }
func (c *Consumer) Paused() bool                        { return c.out.GetState() == TrackStateMuted }

func (c *Consumer) start() {
	c.transport.router.worker.Go("consumer-rtcp", c.readRTCP)
	log.Info().Str("module", "sfu.consumer").Str("consumer", string(c.id)).
		Str("producer", string(c.producer.id)).Bool("paused", c.Paused()).Msg("consumer started")
}

// readRTCP forwards key frame requests of the receiving client to the producer.
func (c *Consumer) readRTCP() {
	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.producer.RequestKeyFrame()
			}
		}
	}
}

// Resume starts delivery and asks for a key frame so video starts promptly.
func (c *Consumer) Resume(context.Context) error {
	if c.out.GetState() == TrackStateDelete {
		return fmt.Errorf("%w: consumer %s closed", domain.ErrEngineFailure, c.id)
	}
	c.out.MarkOk()
	c.producer.RequestKeyFrame()
	return nil
}

func (c *Consumer) Close() {
	c.closeOnce.Do(func() {
		c.out.MarkDelete()
		if err := c.sender.Stop(); err != nil {
			log.Debug().Str("module", "sfu.consumer").Str("consumer", string(c.id)).Err(err).Msg("sender stop")
		}
		c.transport.forgetConsumer(c.id)
		log.Info().Str("module", "sfu.consumer").Str("consumer", string(c.id)).Msg("consumer closed")
	})
}
