package sfu

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Router is a room's routing context.
type Router struct {
	id     string
	worker *Worker
	api    *webrtc.API
	caps   domain.RTPCapabilities
	relays *RelayManager

	mu         sync.Mutex
	transports map[domain.TransportID]*Transport
	producers  map[domain.ProducerID]*Producer
	closed     bool
}

func newRouter(id string, w *Worker, api *webrtc.API) *Router {
	return &Router{
		id:         id,
		worker:     w,
		api:        api,
		caps:       capabilities(w.cfg.Codecs),
		relays:     NewRelayManager(w.Go),
		transports: make(map[domain.TransportID]*Transport),
		producers:  make(map[domain.ProducerID]*Producer),
	}
}

func (r *Router) ID() string                           { return r.id }
func (r *Router) Capabilities() domain.RTPCapabilities { return r.caps }

// CanConsume reports whether caps can decode the producer's codec.
func (r *Router) CanConsume(id domain.ProducerID, caps domain.RTPCapabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return caps.Supports(p.codec)
}

func (r *Router) CreateTransport(ctx context.Context, dir domain.Direction) (core.Transport, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: router %s closed", domain.ErrEngineFailure, r.id)
	}
	if r.worker.dead() {
		return nil, fmt.Errorf("%w: %v", domain.ErrFatal, r.worker.Err())
	}

	t, err := newTransport(ctx, r, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.Close()
		return nil, fmt.Errorf("%w: router %s closed", domain.ErrEngineFailure, r.id)
	}
	r.transports[t.id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Router) producer(id domain.ProducerID) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) removeProducer(id domain.ProducerID) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) removeTransport(id domain.TransportID) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

// Close closes every transport created by the router. Safe to call twice.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	ts := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		ts = append(ts, t)
	}
	r.mu.Unlock()

	for _, t := range ts {
		t.Close()
	}
	log.Info().Str("module", "sfu.router").Str("router", r.id).Int("transports", len(ts)).Msg("router closed")
}
