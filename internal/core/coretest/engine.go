// Package coretest provides an in-memory media engine for tests.
package coretest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

// DefaultCapabilities advertises opus and VP8 only.
var DefaultCapabilities = domain.RTPCapabilities{
	Codecs: []domain.RTPCodecCapability{
		{Kind: domain.KindAudio, MimeType: "audio/opus", PreferredPayloadType: 111, ClockRate: 48000, Channels: 2},
		{Kind: domain.KindVideo, MimeType: "video/VP8", PreferredPayloadType: 96, ClockRate: 90000},
	},
}

// Engine hands out Routers; set Gate to hold CreateRouter until it is closed.
type Engine struct {
	Gate      chan struct{}
	FailWith  error
	mu        sync.Mutex
	routers   []*Router
	seq       atomic.Int64
	entered   chan struct{}
	enterOnce sync.Once
}

func NewEngine() *Engine {
	return &Engine{entered: make(chan struct{})}
}

// Entered is closed the first time CreateRouter is called.
func (e *Engine) Entered() <-chan struct{} { return e.entered }

func (e *Engine) CreateRouter(ctx context.Context) (core.Router, error) {
	e.enterOnce.Do(func() { close(e.entered) })
	if e.Gate != nil {
		select {
		case <-e.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.FailWith != nil {
		return nil, e.FailWith
	}
	r := &Router{
		id:        fmt.Sprintf("router-%d", e.seq.Add(1)),
		engine:    e,
		producers: make(map[domain.ProducerID]*Producer),
	}
	e.mu.Lock()
	e.routers = append(e.routers, r)
	e.mu.Unlock()
	return r, nil
}

func (e *Engine) Routers() []*Router {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Router(nil), e.routers...)
}

func (e *Engine) next(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, e.seq.Add(1))
}

type Router struct {
	id     string
	engine *Engine

	FailTransport error
	closes        atomic.Int32

	mu         sync.Mutex
	transports []*Transport
	producers  map[domain.ProducerID]*Producer
}

func (r *Router) ID() string                           { return r.id }
func (r *Router) Capabilities() domain.RTPCapabilities { return DefaultCapabilities }
func (r *Router) CloseCount() int                      { return int(r.closes.Load()) }

func (r *Router) CreateTransport(_ context.Context, dir domain.Direction) (core.Transport, error) {
	if r.FailTransport != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailure, r.FailTransport)
	}
	t := &Transport{
		id:     domain.TransportID(r.engine.next("transport")),
		dir:    dir,
		router: r,
	}
	r.mu.Lock()
	r.transports = append(r.transports, t)
	r.mu.Unlock()
	return t, nil
}

func (r *Router) CanConsume(id domain.ProducerID, caps domain.RTPCapabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[id]
	r.mu.Unlock()
	if !ok || p.Closed() {
		return false
	}
	return caps.Supports(p.params.Codecs[0])
}

func (r *Router) Close() {
	r.closes.Add(1)
	r.mu.Lock()
	ts := append([]*Transport(nil), r.transports...)
	r.mu.Unlock()
	for _, t := range ts {
		t.Close()
	}
}

type Transport struct {
	id     domain.TransportID
	dir    domain.Direction
	router *Router

	mu        sync.Mutex
	connected bool
	closed    bool
}

func (t *Transport) ID() domain.TransportID      { return t.id }
func (t *Transport) Direction() domain.Direction { return t.dir }

func (t *Transport) Params() domain.TransportParams {
	return domain.TransportParams{
		ID:             t.id,
		ICEParameters:  domain.ICEParameters{UsernameFragment: "ufrag", Password: "pwd", ICELite: true},
		ICECandidates:  []domain.ICECandidate{{Foundation: "1", IP: "127.0.0.1", Port: 40000, Protocol: "udp", Type: "host"}},
		DTLSParameters: domain.DTLSParameters{Role: "auto", Fingerprints: []domain.DTLSFingerprint{{Algorithm: "sha-256", Value: "00"}}},
	}
}

func (t *Transport) Connect(_ context.Context, _ domain.ConnectParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("%w: transport closed", domain.ErrEngineFailure)
	}
	t.connected = true
	return nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Produce(_ context.Context, opts core.ProduceOptions) (core.Producer, error) {
	if err := opts.RTPParameters.Validate(); err != nil {
		return nil, err
	}
	p := &Producer{
		id:     domain.ProducerID(t.router.engine.next("producer")),
		kind:   opts.Kind,
		params: opts.RTPParameters,
	}
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(_ context.Context, opts core.ConsumeOptions) (core.Consumer, error) {
	t.router.mu.Lock()
	p, ok := t.router.producers[opts.ProducerID]
	t.router.mu.Unlock()
	if !ok || p.Closed() {
		return nil, fmt.Errorf("%w: producer %s", domain.ErrNotFound, opts.ProducerID)
	}
	c := &Consumer{
		id:       domain.ConsumerID(t.router.engine.next("consumer")),
		producer: p.id,
		kind:     p.kind,
		params:   p.params,
	}
	c.paused.Store(opts.Paused)
	return c, nil
}

func (t *Transport) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

type Producer struct {
	id     domain.ProducerID
	kind   domain.MediaKind
	params domain.RTPParameters
	closed atomic.Bool
}

func (p *Producer) ID() domain.ProducerID               { return p.id }
func (p *Producer) Kind() domain.MediaKind              { return p.kind }
func (p *Producer) RTPParameters() domain.RTPParameters { return p.params }
func (p *Producer) Close()                              { p.closed.Store(true) }
func (p *Producer) Closed() bool                        { return p.closed.Load() }

type Consumer struct {
	id       domain.ConsumerID
	producer domain.ProducerID
	kind     domain.MediaKind
	params   domain.RTPParameters
	paused   atomic.Bool
	closed   atomic.Bool
}

func (c *Consumer) ID() domain.ConsumerID               { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID       { return c.producer }
func (c *Consumer) Kind() domain.MediaKind              { return c.kind }
func (c *Consumer) RTPParameters() domain.RTPParameters { return c.params }
func (c *Consumer) Paused() bool                        { return c.paused.Load() }
func (c *Consumer) Close()                              { c.closed.Store(true) }
func (c *Consumer) Closed() bool                        { return c.closed.Load() }

func (c *Consumer) Resume(context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: consumer closed", domain.ErrEngineFailure)
	}
	c.paused.Store(false)
	return nil
}

// OpusParams is a minimal audio producer description.
func OpusParams(ssrc uint32) domain.RTPParameters {
	return domain.RTPParameters{
		Codecs:    []domain.RTPCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
		Encodings: []domain.RTPEncoding{{SSRC: ssrc}},
	}
}

// H264Params describes a codec DefaultCapabilities does not contain.
func H264Params(ssrc uint32) domain.RTPParameters {
	return domain.RTPParameters{
		Codecs:    []domain.RTPCodecParameters{{MimeType: "video/H264", PayloadType: 102, ClockRate: 90000}},
		Encodings: []domain.RTPEncoding{{SSRC: ssrc}},
	}
}
