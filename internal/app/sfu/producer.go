package sfu

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Producer receives one RTP stream from a client and feeds its relay.
type Producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	params    domain.RTPParameters
	codec     domain.RTPCodecParameters
	ssrc      uint32
	transport *Transport
	receiver  *webrtc.RTPReceiver

	closeOnce sync.Once
}

func newProducer(t *Transport, kind domain.MediaKind, params domain.RTPParameters) (*Producer, error) {
	codec := params.Codecs[0]
	ssrc := params.Encodings[0].SSRC

	receiver, err := t.router.api.NewRTPReceiver(codecType(kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}
	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(ssrc),
				PayloadType: webrtc.PayloadType(codec.PayloadType),
			},
		}},
	})
	if err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("receive: %w", err)
	}

	return &Producer{
		id:        domain.ProducerID(uuid.NewString()),
		kind:      kind,
		params:    params,
		codec:     codec,
		ssrc:      ssrc,
		transport: t,
		receiver:  receiver,
	}, nil
}

func (p *Producer) ID() domain.ProducerID               { return p.id }
func (p *Producer) Kind() domain.MediaKind              { return p.kind }
func (p *Producer) RTPParameters() domain.RTPParameters { return p.params }

func (p *Producer) start() {
	p.transport.router.relays.StartRelay(context.Background(), p.id, p.receiver.Track())
	log.Info().Str("module", "sfu.producer").Str("producer", string(p.id)).
		Str("kind", string(p.kind)).Str("codec", p.codec.MimeType).Uint32("ssrc", p.ssrc).Msg("producer started")
}

// RequestKeyFrame asks the sending client for a fresh key frame.
func (p *Producer) RequestKeyFrame() {
	if p.kind != domain.KindVideo {
		return
	}
	if _, err := p.transport.dtls.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: p.ssrc}}); err != nil {
		log.Debug().Str("module", "sfu.producer").Str("producer", string(p.id)).Err(err).Msg("send PLI")
	}
}

// Close stops the relay, which marks every consumer's out-track deleted.
func (p *Producer) Close() {
	p.closeOnce.Do(func() {
		p.transport.router.relays.StopRelay(p.id)
		if err := p.receiver.Stop(); err != nil {
			log.Debug().Str("module", "sfu.producer").Str("producer", string(p.id)).Err(err).Msg("receiver stop")
		}
		p.transport.router.removeProducer(p.id)
		p.transport.forgetProducer(p.id)
		log.Info().Str("module", "sfu.producer").Str("producer", string(p.id)).Msg("producer closed")
	})
}
