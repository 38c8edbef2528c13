package sfu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errTransportClosed = errors.New("transport closed")

// Transport is one ICE+DTLS path between a client and a router.
type Transport struct {
	id     domain.TransportID
	dir    domain.Direction
	router *Router

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   domain.TransportParams

	ready    chan struct{}
	readyErr error
	done     chan struct{}

	mu         sync.Mutex
	connecting bool
	closed     bool
	producers  map[domain.ProducerID]*Producer
	consumers  map[domain.ConsumerID]*Consumer
}

// newTransport gathers local candidates and returns once they are known.
func newTransport(ctx context.Context, r *Router, dir domain.Direction) (*Transport, error) {
	ctx, cancel := context.WithTimeout(ctx, r.worker.cfg.ReadyTimeout)
	defer cancel()

	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: r.worker.iceServers()})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	iceT := r.api.NewICETransport(gatherer)
	dtlsT, err := r.api.NewDTLSTransport(iceT, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	gathered := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("gather: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, fmt.Errorf("gather: %w", ctx.Err())
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice parameters: %w", err)
	}
	cands, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice candidates: %w", err)
	}
	dtlsParams, err := dtlsT.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls parameters: %w", err)
	}

	id := domain.TransportID(uuid.NewString())
	t := &Transport{
		id:       id,
		dir:      dir,
		router:   r,
		gatherer: gatherer,
		ice:      iceT,
		dtls:     dtlsT,
		params: domain.TransportParams{
			ID:             id,
			ICEParameters:  iceParamsOut(iceParams),
			ICECandidates:  candidatesOut(cands),
			DTLSParameters: dtlsParamsOut(dtlsParams),
		},
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		producers: make(map[domain.ProducerID]*Producer),
		consumers: make(map[domain.ConsumerID]*Consumer),
	}
	log.Info().Str("module", "sfu.transport").Str("router", r.id).Str("transport", string(id)).
		Str("direction", string(dir)).Int("candidates", len(cands)).Msg("transport created")
	return t, nil
}

func (t *Transport) ID() domain.TransportID         { return t.id }
func (t *Transport) Direction() domain.Direction    { return t.dir }
func (t *Transport) Params() domain.TransportParams { return t.params }

// Connect applies the remote parameters and starts ICE and DTLS in the
// background. Produce and Consume wait for the handshake to finish.
func (t *Transport) Connect(_ context.Context, p domain.ConnectParams) error {
	if p.ICEParameters == nil {
		return fmt.Errorf("%w: ice parameters required", domain.ErrInvalidArgument)
	}
	remoteDTLS, err := dtlsParamsIn(p.DTLSParameters)
	if err != nil {
		return err
	}
	remoteCands, err := candidatesIn(p.ICECandidates)
	if err != nil {
		return err
	}

	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return fmt.Errorf("%w: %v", domain.ErrEngineFailure, errTransportClosed)
	case t.connecting:
		t.mu.Unlock()
		return fmt.Errorf("%w: transport %s already connected", domain.ErrInvalidArgument, t.id)
	}
	t.connecting = true
	t.mu.Unlock()

	if err := t.ice.SetRemoteCandidates(remoteCands); err != nil {
		return fmt.Errorf("%w: remote candidates: %v", domain.ErrEngineFailure, err)
	}

	remoteICE := iceParamsIn(*p.ICEParameters)
	role := webrtc.ICERoleControlled
	t.router.worker.Go("transport-connect", func() {
		err := t.ice.Start(nil, remoteICE, &role)
		if err == nil {
			err = t.dtls.Start(remoteDTLS)
		}
		t.finishConnect(err)
	})
	return nil
}

func (t *Transport) finishConnect(err error) {
	t.mu.Lock()
	t.readyErr = err
	t.mu.Unlock()
	close(t.ready)

	if err != nil {
		log.Error().Str("module", "sfu.transport").Str("transport", string(t.id)).Err(err).Msg("connect failed")
		return
	}
	log.Info().Str("module", "sfu.transport").Str("transport", string(t.id)).Msg("transport connected")
}

// waitReady blocks until DTLS is up, the transport closes or the timeout hits.
func (t *Transport) waitReady(ctx context.Context) error {
	timer := time.NewTimer(t.router.worker.cfg.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-t.ready:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.readyErr
	case <-t.done:
		return errTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("transport %s not connected after %s", t.id, t.router.worker.cfg.ReadyTimeout)
	}
}

func (t *Transport) Produce(ctx context.Context, opts core.ProduceOptions) (core.Producer, error) {
	if err := opts.RTPParameters.Validate(); err != nil {
		return nil, err
	}
	codec := opts.RTPParameters.Codecs[0]
	if !t.router.caps.Supports(codec) {
		return nil, fmt.Errorf("%w: unsupported codec %s", domain.ErrInvalidArgument, codec.MimeType)
	}
	if err := t.waitReady(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
	}

	p, err := newProducer(t, opts.Kind, opts.RTPParameters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
	}
	if !t.track(func() { t.producers[p.id] = p }) {
		p.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailure, errTransportClosed)
	}
	t.router.addProducer(p)
	p.start()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, opts core.ConsumeOptions) (core.Consumer, error) {
	p, ok := t.router.producer(opts.ProducerID)
	if !ok {
		return nil, fmt.Errorf("%w: producer %s", domain.ErrNotFound, opts.ProducerID)
	}
	if !opts.Capabilities.Supports(p.codec) {
		return nil, fmt.Errorf("%w: producer %s", domain.ErrCannotConsume, opts.ProducerID)
	}
	if err := t.waitReady(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
	}

	c, err := newConsumer(t, p, opts.Paused)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
	}
	if !t.track(func() { t.consumers[c.id] = c }) {
		c.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailure, errTransportClosed)
	}
	if !t.router.relays.AddSubscriber(p.id, c.id, c.out) {
		c.Close()
		return nil, fmt.Errorf("%w: producer %s", domain.ErrNotFound, p.id)
	}
	c.start()
	return c, nil
}

// track runs add under the lock unless the transport is closed.
func (t *Transport) track(add func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	add()
	return true
}

func (t *Transport) forgetProducer(id domain.ProducerID) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *Transport) forgetConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}

// Close closes producers and consumers first, then DTLS and ICE.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.done)
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
	if err := t.dtls.Stop(); err != nil {
		log.Debug().Str("module", "sfu.transport").Str("transport", string(t.id)).Err(err).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		log.Debug().Str("module", "sfu.transport").Str("transport", string(t.id)).Err(err).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		log.Debug().Str("module", "sfu.transport").Str("transport", string(t.id)).Err(err).Msg("gatherer close")
	}
	t.router.removeTransport(t.id)
	log.Info().Str("module", "sfu.transport").Str("transport", string(t.id)).Msg("transport closed")
}
