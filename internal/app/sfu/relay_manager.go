package sfu

import (
	"context"
	"sync"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// RelayManager keeps one Relay per producer of a router.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[domain.ProducerID]*Relay
	spawn  func(name string, fn func())
}

// NewRelayManager runs relay loops through spawn, or plain goroutines when nil.
func NewRelayManager(spawn func(name string, fn func())) *RelayManager {
	if spawn == nil {
		spawn = func(_ string, fn func()) { go fn() }
	}
	return &RelayManager{
		relays: make(map[domain.ProducerID]*Relay),
		spawn:  spawn,
	}
}

// StartRelay creates a new Relay for the given producer and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, id domain.ProducerID, src rtpReader) {
	logger := log.With().
		Str("module", "sfu.relay").
		Str("producer", string(id)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src, cancel)

	m.mu.Lock()
	if old, ok := m.relays[id]; ok {
		logger.Info().Msg("replacing existing relay for producer")
		old.markAllDelete()
		if old.cancel != nil {
			old.cancel()
		}
	}
	m.relays[id] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	m.spawn("relay", func() { relay.loop(relayCtx, &logger) })
}

// AddSubscriber attaches an OutTrack to the relay of a producer.
func (m *RelayManager) AddSubscriber(src domain.ProducerID, dst domain.ConsumerID, ot *OutTrack) bool {
	m.mu.RLock()
	relay, ok := m.relays[src]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.AddOutTrack(dst, ot)
	return true
}

// MarkSubscriberDelete marks a consumer's OutTrack as TrackStateDelete.
func (m *RelayManager) MarkSubscriberDelete(src domain.ProducerID, dst domain.ConsumerID) {
	m.mu.RLock()
	relay, ok := m.relays[src]
	m.mu.RUnlock()
	if !ok {
		return
	}

	relay.mu.RLock()
	ot, ok := relay.outTracks[dst]
	relay.mu.RUnlock()
	if !ok {
		return
	}
	ot.MarkDelete()
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(src domain.ProducerID) {
	m.mu.Lock()
	relay, ok := m.relays[src]
	if ok {
		delete(m.relays, src)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	if relay.cancel != nil {
		relay.cancel()
	}
}

// HasRelay reports whether a relay exists for the producer.
func (m *RelayManager) HasRelay(id domain.ProducerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[id]
	return ok
}
