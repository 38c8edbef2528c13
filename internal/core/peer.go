package core

import (
	"github.com/dkeye/huddle/internal/domain"
)

type PeerState int

const (
	PeerJoining PeerState = iota
	PeerActive
	PeerLeaving
)

func (s PeerState) String() string {
	switch s {
	case PeerJoining:
		return "joining"
	case PeerActive:
		return "active"
	case PeerLeaving:
		return "leaving"
	}
	return "unknown"
}

// ProducerEntry is a producer as recorded under its owning peer.
type ProducerEntry struct {
	Producer    Producer
	Owner       domain.ConnID
	Type        domain.ProducerType
	TransportID domain.TransportID
}

func (e *ProducerEntry) Info() domain.ProducerInfo {
	return domain.ProducerInfo{
		ProducerID: e.Producer.ID(),
		OwnerID:    e.Owner,
		Kind:       e.Producer.Kind(),
		Type:       e.Type,
	}
}

// ConsumerEntry holds a consumer and its non-owning producer reference.
type ConsumerEntry struct {
	Consumer    Consumer
	TransportID domain.TransportID
	ProducerID  domain.ProducerID
}

// Peer is a connection's membership in a room. It is mutated only through its Room.
type Peer struct {
	conn       domain.ConnID
	name       string
	handRaised bool
	state      PeerState

	transports    map[domain.TransportID]Transport
	producers     map[domain.ProducerID]*ProducerEntry
	producerOrder []domain.ProducerID
	consumers     map[domain.ConsumerID]*ConsumerEntry
}

func NewPeer(conn domain.ConnID, name string) *Peer {
	return &Peer{
		conn:       conn,
		name:       domain.NormalizeName(name),
		state:      PeerJoining,
		transports: make(map[domain.TransportID]Transport),
		producers:  make(map[domain.ProducerID]*ProducerEntry),
		consumers:  make(map[domain.ConsumerID]*ConsumerEntry),
	}
}

func (p *Peer) Conn() domain.ConnID { return p.conn }
func (p *Peer) Name() string        { return p.name }

func (p *Peer) member() domain.Member {
	return domain.Member{ID: p.conn, Name: p.name, HandRaised: p.handRaised}
}

func (p *Peer) removeProducer(id domain.ProducerID) {
	delete(p.producers, id)
	for i, pid := range p.producerOrder {
		if pid == id {
			p.producerOrder = append(p.producerOrder[:i], p.producerOrder[i+1:]...)
			break
		}
	}
}
