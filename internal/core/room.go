package core

import (
	"fmt"
	"sync"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/util"
	"github.com/rs/zerolog/log"
)

// ConsumerClosed tells an owner that one of its consumers is gone
// because the producer it referenced closed.
type ConsumerClosed struct {
	Owner      domain.ConnID
	ConsumerID domain.ConsumerID
	ProducerID domain.ProducerID
}

// Closure collects the side effects of a close cascade that the caller must announce.
type Closure struct {
	Producers []domain.ProducerID
	Consumers []ConsumerClosed
}

func (c *Closure) merge(o Closure) {
	c.Producers = append(c.Producers, o.Producers...)
	c.Consumers = append(c.Consumers, o.Consumers...)
}

// Room is a threadsafe in-memory room. It owns its peers and its router.
type Room struct {
	id     domain.RoomID
	router Router

	mu    sync.RWMutex
	peers map[domain.ConnID]*Peer
	order []domain.ConnID
	chat  *util.RingBuffer[domain.ChatMessage]
	// producer -> consumers referencing it, with the consumer's owner.
	watchers map[domain.ProducerID]map[domain.ConsumerID]domain.ConnID
	closed   bool

	closeOnce sync.Once
}

func NewRoom(id domain.RoomID, router Router, chatCapacity int) *Room {
	if chatCapacity <= 0 {
		chatCapacity = domain.DefaultChatSize
	}
	return &Room{
		id:       id,
		router:   router,
		peers:    make(map[domain.ConnID]*Peer),
		chat:     util.NewRingBuffer[domain.ChatMessage](chatCapacity),
		watchers: make(map[domain.ProducerID]map[domain.ConsumerID]domain.ConnID),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }
func (r *Room) Router() Router    { return r.router }

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Room) HasPeer(conn domain.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[conn]
	return ok
}

// AddPeer registers p in the Joining state.
func (r *Room) AddPeer(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("%w: room %s is closed", domain.ErrNotFound, r.id)
	}
	if _, ok := r.peers[p.conn]; ok {
		return fmt.Errorf("%w: peer %s in room %s", domain.ErrAlreadyExists, p.conn, r.id)
	}
	p.state = PeerJoining
	r.peers[p.conn] = p
	r.order = append(r.order, p.conn)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(p.conn)).Msg("peer added")
	return nil
}

func (r *Room) Activate(conn domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[conn]; ok {
		p.state = PeerActive
	}
}

func (r *Room) PeerState(conn domain.ConnID) (PeerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[conn]
	if !ok {
		return 0, false
	}
	return p.state, true
}

// Member returns the presence entry of conn.
func (r *Room) Member(conn domain.ConnID) (domain.Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[conn]
	if !ok {
		return domain.Member{}, false
	}
	return p.member(), true
}

// Members is the full member list in join order.
func (r *Room) Members() []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Member, 0, len(r.order))
	for _, conn := range r.order {
		out = append(out, r.peers[conn].member())
	}
	return out
}

func (r *Room) SetHandRaised(conn domain.ConnID, raised bool) (domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[conn]
	if !ok {
		return domain.Member{}, fmt.Errorf("%w: user not in room", domain.ErrNotFound)
	}
	p.handRaised = raised
	return p.member(), nil
}

// AppendChat stores msg, evicting the oldest message when the log is full.
func (r *Room) AppendChat(msg domain.ChatMessage) {
	r.chat.Push(msg)
}

func (r *Room) ChatLog() []domain.ChatMessage {
	return r.chat.Snapshot()
}

// AddTransport records t under conn's peer.
func (r *Room) AddTransport(conn domain.ConnID, t Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.peerLocked(conn)
	if err != nil {
		return err
	}
	p.transports[t.ID()] = t
	return nil
}

// Transport resolves id within conn's own peer only.
func (r *Room) Transport(conn domain.ConnID, id domain.TransportID) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.peerLocked(conn)
	if err != nil {
		return nil, err
	}
	t, ok := p.transports[id]
	if !ok {
		return nil, fmt.Errorf("%w: transport %s", domain.ErrNotFound, id)
	}
	return t, nil
}

// AddProducer records a producer created on one of conn's transports.
func (r *Room) AddProducer(conn domain.ConnID, e *ProducerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.peerLocked(conn)
	if err != nil {
		return err
	}
	if _, ok := p.transports[e.TransportID]; !ok {
		return fmt.Errorf("%w: transport %s", domain.ErrNotFound, e.TransportID)
	}
	id := e.Producer.ID()
	p.producers[id] = e
	p.producerOrder = append(p.producerOrder, id)
	return nil
}

// AddConsumer records a consumer and subscribes it to its producer's closure.
func (r *Room) AddConsumer(conn domain.ConnID, e *ConsumerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.peerLocked(conn)
	if err != nil {
		return err
	}
	if _, ok := p.transports[e.TransportID]; !ok {
		return fmt.Errorf("%w: transport %s", domain.ErrNotFound, e.TransportID)
	}
	if _, ok := r.producerLocked(e.ProducerID); !ok {
		return fmt.Errorf("%w: producer %s", domain.ErrNotFound, e.ProducerID)
	}
	id := e.Consumer.ID()
	p.consumers[id] = e
	w, ok := r.watchers[e.ProducerID]
	if !ok {
		w = make(map[domain.ConsumerID]domain.ConnID)
		r.watchers[e.ProducerID] = w
	}
	w[id] = conn
	return nil
}

// Consumer resolves id within conn's own peer only.
func (r *Room) Consumer(conn domain.ConnID, id domain.ConsumerID) (Consumer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.peerLocked(conn)
	if err != nil {
		return nil, err
	}
	e, ok := p.consumers[id]
	if !ok {
		return nil, fmt.Errorf("%w: consumer %s", domain.ErrNotFound, id)
	}
	return e.Consumer, nil
}

// HasProducer reports whether any peer of the room owns id.
func (r *Room) HasProducer(id domain.ProducerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.producerLocked(id)
	return ok
}

// Producers snapshots every open producer, grouped by peer in join order.
func (r *Room) Producers() []domain.ProducerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ProducerInfo
	for _, conn := range r.order {
		p := r.peers[conn]
		for _, id := range p.producerOrder {
			out = append(out, p.producers[id].Info())
		}
	}
	return out
}

// CloseProducer closes a producer owned by conn and every consumer referencing it.
func (r *Room) CloseProducer(conn domain.ConnID, id domain.ProducerID) (Closure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.peerLocked(conn)
	if err != nil {
		return Closure{}, err
	}
	if _, ok := p.producers[id]; !ok {
		return Closure{}, fmt.Errorf("%w: producer %s", domain.ErrNotFound, id)
	}
	return r.closeProducerLocked(p, id), nil
}

// CloseConsumer closes a consumer owned by conn.
func (r *Room) CloseConsumer(conn domain.ConnID, id domain.ConsumerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.peerLocked(conn)
	if err != nil {
		return err
	}
	if _, ok := p.consumers[id]; !ok {
		return fmt.Errorf("%w: consumer %s", domain.ErrNotFound, id)
	}
	r.closeConsumerLocked(p, id)
	return nil
}

// CloseTransport closes a transport owned by conn with its producers and consumers.
func (r *Room) CloseTransport(conn domain.ConnID, id domain.TransportID) (Closure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.peerLocked(conn)
	if err != nil {
		return Closure{}, err
	}
	if _, ok := p.transports[id]; !ok {
		return Closure{}, fmt.Errorf("%w: transport %s", domain.ErrNotFound, id)
	}
	return r.closeTransportLocked(p, id), nil
}

// RemovePeer runs the leave cascade for conn: the peer enters Leaving, every transport
// it owns is closed and the peer is dropped from the room.
func (r *Room) RemovePeer(conn domain.ConnID) (domain.Member, Closure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[conn]
	if !ok {
		return domain.Member{}, Closure{}, false
	}
	p.state = PeerLeaving
	var c Closure
	for tid := range p.transports {
		c.merge(r.closeTransportLocked(p, tid))
	}
	delete(r.peers, conn)
	for i, id := range r.order {
		if id == conn {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("conn", string(conn)).Int("left", len(r.peers)).Msg("peer removed")
	return p.member(), c, true
}

// Close tears down every peer's media and releases the router exactly once.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		for _, conn := range r.order {
			p := r.peers[conn]
			for tid := range p.transports {
				r.closeTransportLocked(p, tid)
			}
		}
		r.mu.Unlock()
		if r.router != nil {
			r.router.Close()
		}
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Msg("room closed")
	})
}

func (r *Room) peerLocked(conn domain.ConnID) (*Peer, error) {
	p, ok := r.peers[conn]
	if !ok {
		return nil, fmt.Errorf("%w: user not in room %s", domain.ErrNotFound, r.id)
	}
	return p, nil
}

func (r *Room) producerLocked(id domain.ProducerID) (*ProducerEntry, bool) {
	for _, p := range r.peers {
		if e, ok := p.producers[id]; ok {
			return e, true
		}
	}
	return nil, false
}

func (r *Room) closeProducerLocked(p *Peer, id domain.ProducerID) Closure {
	e := p.producers[id]
	p.removeProducer(id)
	c := Closure{Producers: []domain.ProducerID{id}}
	for cid, owner := range r.watchers[id] {
		op, ok := r.peers[owner]
		if !ok {
			continue
		}
		if _, ok := op.consumers[cid]; !ok {
			continue
		}
		op.consumers[cid].Consumer.Close()
		delete(op.consumers, cid)
		c.Consumers = append(c.Consumers, ConsumerClosed{Owner: owner, ConsumerID: cid, ProducerID: id})
	}
	delete(r.watchers, id)
	e.Producer.Close()
	return c
}

func (r *Room) closeConsumerLocked(p *Peer, id domain.ConsumerID) {
	e := p.consumers[id]
	delete(p.consumers, id)
	if w, ok := r.watchers[e.ProducerID]; ok {
		delete(w, id)
		if len(w) == 0 {
			delete(r.watchers, e.ProducerID)
		}
	}
	e.Consumer.Close()
}

func (r *Room) closeTransportLocked(p *Peer, id domain.TransportID) Closure {
	var c Closure
	for _, pid := range append([]domain.ProducerID(nil), p.producerOrder...) {
		if p.producers[pid].TransportID == id {
			c.merge(r.closeProducerLocked(p, pid))
		}
	}
	for cid, e := range p.consumers {
		if e.TransportID == id {
			r.closeConsumerLocked(p, cid)
		}
	}
	if t, ok := p.transports[id]; ok {
		delete(p.transports, id)
		t.Close()
	}
	return c
}
